// Package ledger remembers which plays were submitted to which account, so
// a log that was not truncated is not scrobbled twice.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rbscrobble/rbscrobble/internal/scrobble"
)

// Store is a ledger backed by SQLite.
type Store struct {
	db *sql.DB
}

// Run summarizes one invocation of the scrobble command.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Samples    int
	Eligible   int
	Missing    int
	Submitted  int
	Failed     int
	DryRun     bool
}

// NewRunID returns a fresh identifier for a Run.
func NewRunID() string { return uuid.NewString() }

// DefaultPath is the ledger location under the XDG state directory.
func DefaultPath() (string, error) {
	return xdg.StateFile(filepath.Join("rbscrobble", "ledger.db"))
}

// Open opens or creates the ledger at path. An empty path uses DefaultPath.
func Open(path string) (*Store, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return nil, fmt.Errorf("resolve ledger path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS submissions (
			account TEXT NOT NULL,
			artist TEXT NOT NULL,
			title TEXT NOT NULL,
			album TEXT NOT NULL DEFAULT '',
			timestamp INTEGER NOT NULL,
			submitted_at INTEGER NOT NULL,
			run_id TEXT NOT NULL,
			UNIQUE (account, artist, title, timestamp)
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			samples INTEGER NOT NULL DEFAULT 0,
			eligible INTEGER NOT NULL DEFAULT 0,
			missing INTEGER NOT NULL DEFAULT 0,
			submitted INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			dry_run INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate ledger schema: %w", err)
		}
	}
	return nil
}

// Seen reports whether account already submitted track.
func (s *Store) Seen(ctx context.Context, account string, t scrobble.Track) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM submissions WHERE account = ? AND artist = ? AND title = ? AND timestamp = ?`,
		account, t.Artist, t.Title, t.Timestamp).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("query submissions: %w", err)
	}
	return n > 0, nil
}

// Record stores a successful submission. Recording the same play twice is
// not an error.
func (s *Store) Record(ctx context.Context, account, runID string, t scrobble.Track) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO submissions (account, artist, title, album, timestamp, submitted_at, run_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		account, t.Artist, t.Title, t.Album, t.Timestamp, time.Now().Unix(), runID)
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

// RecordRun stores or replaces a run summary.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	if r.ID == "" {
		return fmt.Errorf("record run: empty id")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, started_at, finished_at, samples, eligible, missing, submitted, failed, dry_run)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.Unix(), r.FinishedAt.Unix(), r.Samples, r.Eligible, r.Missing, r.Submitted, r.Failed, r.DryRun)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Runs returns up to limit runs, newest first.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, samples, eligible, missing, submitted, failed, dry_run
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &started, &finished, &r.Samples, &r.Eligible, &r.Missing, &r.Submitted, &r.Failed, &r.DryRun); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.Unix(started, 0)
		r.FinishedAt = time.Unix(finished, 0)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Submissions counts the plays recorded for account.
func (s *Store) Submissions(ctx context.Context, account string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions WHERE account = ?`, account).Scan(&n); err != nil {
		return 0, fmt.Errorf("count submissions: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
