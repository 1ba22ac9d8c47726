package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

var version = "0.1.0"

const usage = `rbscrobble - scrobble plays from a Rockbox player to Last.fm and Libre.fm

Usage: rbscrobble <command> [options]

Commands:
  scrobble                 Submit plays from the playback log
  account add|remove|list  Manage stored logins
  service set-keys         Store Last.fm API credentials
  doctor                   Check configuration and the player directory
  history                  Show recent runs
  version                  Print version and exit

Run 'rbscrobble <command> -h' for command options.

Examples:
  rbscrobble service set-keys lastfm --api-key KEY --api-secret SECRET
  rbscrobble account add --service lastfm --username alice
  rbscrobble scrobble --rockbox-dir /media/player/.rockbox --dry-run
  rbscrobble scrobble --rockbox-dir /media/player/.rockbox --mount /media/player
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return flag.ErrHelp
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "scrobble":
		return runScrobble(ctx, rest, stdout, stderr)
	case "account":
		return runAccount(rest, stdout, stderr)
	case "service":
		return runService(rest, stdout, stderr)
	case "doctor":
		return runDoctor(rest, stdout, stderr)
	case "history":
		return runHistory(ctx, rest, stdout, stderr)
	case "version", "-version", "--version":
		fmt.Fprintln(stdout, "rbscrobble", version)
		return nil
	case "help", "-h", "-help", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stderr, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}
