package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

// Options control where and how much is logged.
type Options struct {
	Level slog.Leveler
	// Stderr logs to standard error instead of a file.
	Stderr bool
	// Dir overrides StateDir.
	Dir string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup creates a slog.Logger writing to a dated log file in the state
// directory, or to stderr. The caller closes the returned Closer.
func Setup(opts Options) (*slog.Logger, io.Closer, error) {
	level := opts.Level
	if level == nil {
		level = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	if opts.Stderr {
		return slog.New(slog.NewTextHandler(os.Stderr, handlerOpts)), nopCloser{}, nil
	}

	dir := opts.Dir
	if dir == "" {
		dir = StateDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("rbscrobble-%s.log", time.Now().Format("20060102")))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return slog.New(slog.NewTextHandler(f, handlerOpts)), f, nil
}

// StateDir returns $XDG_STATE_HOME/rbscrobble.
func StateDir() string {
	return filepath.Join(xdg.StateHome, "rbscrobble")
}
