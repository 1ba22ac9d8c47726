package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rbscrobble/rbscrobble/internal/config"
	"github.com/rbscrobble/rbscrobble/internal/ledger"
	"github.com/rbscrobble/rbscrobble/internal/playlog"
	"github.com/rbscrobble/rbscrobble/internal/scrobble/lastfm"
	"github.com/rbscrobble/rbscrobble/internal/tagcache"
)

// Check is one line of doctor output.
type Check struct {
	Name   string
	OK     bool
	Detail string
}

// Doctor inspects configuration and the player directory without contacting
// any service.
func Doctor(cfg *config.Config, cfgPath, rockboxDir, playbackLog string, loc *time.Location) []Check {
	if rockboxDir == "" {
		rockboxDir = ".rockbox"
	}
	if playbackLog == "" {
		playbackLog = filepath.Join(rockboxDir, playbackLogName)
	}

	var checks []Check
	if _, err := os.Stat(cfgPath); err != nil {
		checks = append(checks, Check{"Config file", true, cfgPath + ", not created yet"})
	} else {
		checks = append(checks, Check{"Config file", true, cfgPath})
	}

	checks = append(checks, Check{"Accounts", len(cfg.Accounts) > 0, fmt.Sprintf("%d configured", len(cfg.Accounts))})
	for _, s := range lastfm.Services {
		if len(cfg.FilterAccounts(string(s), "")) == 0 {
			continue
		}
		_, err := cfg.KeysFor(s)
		checks = append(checks, Check{fmt.Sprintf("API keys (%s)", s), err == nil, errDetail(err)})
	}

	checks = append(checks, tagCacheCheck(rockboxDir))
	checks = append(checks, playbackLogCheck(playbackLog, loc))
	if cfg.Ledger.Enabled {
		checks = append(checks, ledgerCheck(cfg.Ledger.Path))
	}
	return checks
}

func tagCacheCheck(dir string) Check {
	r, err := tagcache.Open(dir)
	if err != nil {
		return Check{"Tag cache", false, err.Error()}
	}
	defer r.Close()
	n, err := r.IndexSize()
	if err != nil {
		return Check{"Tag cache", false, err.Error()}
	}
	return Check{"Tag cache", true, fmt.Sprintf("%s, %d files", r.Endian(), n)}
}

func playbackLogCheck(path string, loc *time.Location) Check {
	samples, err := playlog.ParseFile(path, loc)
	if errors.Is(err, os.ErrNotExist) {
		return Check{"Playback log", false, path + " missing"}
	}
	if err != nil {
		return Check{"Playback log", false, err.Error()}
	}
	return Check{"Playback log", true, fmt.Sprintf("%s, %d entries", path, len(samples))}
}

func ledgerCheck(path string) Check {
	store, err := ledger.Open(path)
	if err != nil {
		return Check{"Ledger", false, err.Error()}
	}
	defer store.Close()
	runs, err := store.Runs(context.Background(), 1)
	if err != nil {
		return Check{"Ledger", false, err.Error()}
	}
	if len(runs) == 0 {
		return Check{"Ledger", true, "no runs yet"}
	}
	return Check{"Ledger", true, "last run " + runs[0].StartedAt.Format(time.RFC3339)}
}

func errDetail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// History returns recent runs from the ledger.
func History(ctx context.Context, cfg *config.Config, limit int) ([]ledger.Run, error) {
	if !cfg.Ledger.Enabled {
		return nil, errors.New("ledger is disabled")
	}
	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Runs(ctx, limit)
}
