package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/rbscrobble/rbscrobble/internal/app"
	"github.com/rbscrobble/rbscrobble/internal/config"
	"github.com/rbscrobble/rbscrobble/internal/logging"
	"github.com/rbscrobble/rbscrobble/internal/report"
)

func runScrobble(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("scrobble", stderr)
	rockboxDir := fs.String("rockbox-dir", ".rockbox", "Rockbox directory holding the tag cache")
	playbackLog := fs.String("playback-log", "", "playback log (default: <rockbox-dir>/playback.log)")
	service := fs.String("service", "", "only scrobble to this service (lastfm, librefm)")
	username := fs.String("username", "", "only scrobble for this username")
	cfgPath := fs.String("config", "", "config file (default: $XDG_CONFIG_HOME/rbscrobble/config.toml)")
	noTruncate := fs.Bool("no-truncate", false, "keep the playback log after scrobbling")
	dryRun := fs.Bool("dry-run", false, "show what would be scrobbled without submitting")
	debugResponse := fs.Bool("debug-response", false, "print raw scrobble responses to stderr")
	mount := fs.String("mount", "", "player mount point, for reading tags from audio files")
	metricsFile := fs.String("metrics-file", "", "write Prometheus textfile metrics here")
	logStderr := fs.Bool("log-stderr", false, "log to stderr instead of the state directory")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, resolvedPath, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	logger, closer, err := logging.Setup(logging.Options{Level: cfg.LogLevel(), Stderr: *logStderr})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer closer.Close()
	logger.Info("starting rbscrobble", slog.String("version", version), slog.String("config", resolvedPath))

	_, err = app.Run(ctx, cfg, app.Options{
		RockboxDir:    *rockboxDir,
		PlaybackLog:   *playbackLog,
		Service:       *service,
		Username:      *username,
		NoTruncate:    *noTruncate,
		DryRun:        *dryRun,
		DebugResponse: *debugResponse,
		Mount:         *mount,
		MetricsFile:   *metricsFile,
		Out:           stdout,
		Stderr:        stderr,
		Theme:         report.DefaultTheme(report.NoColorRequested()),
		Logger:        logger,
		UserAgent:     "rbscrobble/" + version,
	})
	if err != nil {
		logger.Error("scrobble failed", slog.Any("err", err))
	}
	return err
}

func runAccount(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: rbscrobble account add|remove|list [options]")
	}
	sub, rest := args[0], args[1:]
	fs := newFlagSet("account "+sub, stderr)
	cfgPath := fs.String("config", "", "config file")
	service := fs.String("service", "", "service (lastfm, librefm)")

	switch sub {
	case "add":
		username := fs.String("username", "", "account username")
		password := fs.String("password", "", "password (prompted when omitted)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *service == "" || *username == "" {
			return errors.New("--service and --username are required")
		}
		cfg, path, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		pw := *password
		if pw == "" {
			if pw, err = promptPasswordConfirm(stderr); err != nil {
				return err
			}
		}
		if err := cfg.AddAccount(*service, *username, pw); err != nil {
			return err
		}
		if err := config.Save(cfg, path); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Saved %s account for %s\n", strings.ToLower(*service), *username)
		return nil

	case "remove":
		username := fs.String("username", "", "account username")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		cfg, path, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		if !cfg.RemoveAccount(*service, *username) {
			return fmt.Errorf("no account found for %s %s", *service, *username)
		}
		if err := config.Save(cfg, path); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Removed %s account for %s\n", *service, *username)
		return nil

	case "list":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		cfg, _, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		accounts := cfg.FilterAccounts(*service, "")
		if len(accounts) == 0 {
			return errors.New("no accounts configured")
		}
		for _, a := range accounts {
			fmt.Fprintf(stdout, "%s\t%s\n", a.Service, a.Username)
		}
		return nil

	default:
		return fmt.Errorf("unknown account command %q", sub)
	}
}

func runService(args []string, stdout, stderr io.Writer) error {
	if len(args) < 2 || args[0] != "set-keys" {
		return errors.New("usage: rbscrobble service set-keys SERVICE --api-key KEY --api-secret SECRET")
	}
	service := args[1]
	fs := newFlagSet("service set-keys", stderr)
	cfgPath := fs.String("config", "", "config file")
	apiKey := fs.String("api-key", "", "API key")
	apiSecret := fs.String("api-secret", "", "API secret")
	if err := fs.Parse(args[2:]); err != nil {
		return err
	}

	cfg, path, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.SetServiceKeys(service, *apiKey, *apiSecret); err != nil {
		return err
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Saved API keys for %s\n", strings.ToLower(service))
	return nil
}

func runDoctor(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("doctor", stderr)
	rockboxDir := fs.String("rockbox-dir", ".rockbox", "Rockbox directory")
	playbackLog := fs.String("playback-log", "", "playback log")
	cfgPath := fs.String("config", "", "config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, resolvedPath, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	out := report.New(stdout, report.DefaultTheme(report.NoColorRequested()))
	fmt.Fprintln(stdout, "rbscrobble doctor")
	for _, c := range app.Doctor(cfg, resolvedPath, *rockboxDir, *playbackLog, nil) {
		out.Check(c.Name, c.OK, c.Detail)
	}
	return nil
}

func runHistory(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("history", stderr)
	cfgPath := fs.String("config", "", "config file")
	limit := fs.Int("limit", 20, "number of runs to show")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, _, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	runs, err := app.History(ctx, cfg, *limit)
	if err != nil {
		return err
	}
	report.New(stdout, report.DefaultTheme(report.NoColorRequested())).Runs(runs)
	return nil
}

func promptPasswordConfirm(stderr io.Writer) (string, error) {
	password, err := readPassword(stderr, "Password: ")
	if err != nil {
		return "", err
	}
	confirm, err := readPassword(stderr, "Confirm password: ")
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", errors.New("passwords do not match")
	}
	return password, nil
}

// stdin is shared so piped passwords are not lost to buffering between
// prompts.
var stdin = bufio.NewReader(os.Stdin)

func readPassword(stderr io.Writer, prompt string) (string, error) {
	fmt.Fprint(stderr, prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := stdin.ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(stderr)
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(b), nil
}
