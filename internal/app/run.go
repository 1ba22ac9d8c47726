// Package app ties the tag cache, playback log and scrobble clients into
// the commands the CLI exposes.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rbscrobble/rbscrobble/internal/config"
	"github.com/rbscrobble/rbscrobble/internal/ledger"
	"github.com/rbscrobble/rbscrobble/internal/metrics"
	"github.com/rbscrobble/rbscrobble/internal/playlog"
	"github.com/rbscrobble/rbscrobble/internal/report"
	"github.com/rbscrobble/rbscrobble/internal/scrobble"
	"github.com/rbscrobble/rbscrobble/internal/scrobble/lastfm"
	"github.com/rbscrobble/rbscrobble/internal/tagcache"
	"github.com/rbscrobble/rbscrobble/internal/tagfile"
)

const playbackLogName = "playback.log"

var (
	ErrMissingLog  = errors.New("playback log not found")
	ErrNoEntries   = errors.New("no playback entries found")
	ErrNoEligible  = errors.New("no scrobble-eligible tracks found")
	ErrBadSelector = errors.New("invalid account selector")
	ErrInterrupted = errors.New("scrobble interrupted, playback log kept")
)

// Options describe one scrobble run.
type Options struct {
	RockboxDir  string
	PlaybackLog string // defaults to RockboxDir/playback.log
	Service     string
	Username    string
	NoTruncate  bool
	DryRun      bool
	// DebugResponse echoes raw API responses to Stderr.
	DebugResponse bool
	// Mount is where the player's filesystem is mounted; when set, tags are
	// read from the audio files for plays the tag cache cannot resolve.
	Mount       string
	MetricsFile string
	Location    *time.Location

	Out    io.Writer
	Stderr io.Writer
	Theme  report.Theme
	Logger *slog.Logger

	HTTPClient *http.Client
	// BaseURLs overrides service endpoints.
	BaseURLs  map[lastfm.Service]string
	UserAgent string
}

func (o *Options) normalize(cfg *config.Config) {
	if o.RockboxDir == "" {
		o.RockboxDir = ".rockbox"
	}
	if o.PlaybackLog == "" {
		o.PlaybackLog = filepath.Join(o.RockboxDir, playbackLogName)
	}
	if o.Out == nil {
		o.Out = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: cfg.Timeout()}
	}
}

// Summary is what a run did.
type Summary struct {
	RunID     string
	Samples   int
	Eligible  int
	Missing   int
	Submitted int
	Failed    int
	Truncated bool
}

// Run scrobbles the playback log to every selected account. Per-account
// and per-track failures are counted in the summary, not returned. When ctx
// is cancelled the remaining plays are not sent, the log is left in place
// and the returned error wraps both ErrInterrupted and ctx.Err().
func Run(ctx context.Context, cfg *config.Config, opts Options) (Summary, error) {
	opts.normalize(cfg)
	logger := opts.Logger
	out := report.New(opts.Out, opts.Theme)
	started := time.Now()
	sum := Summary{RunID: ledger.NewRunID()}

	accounts, err := selectAccounts(cfg, opts.Service, opts.Username)
	if err != nil {
		return sum, err
	}

	if _, err := os.Stat(opts.PlaybackLog); err != nil {
		return sum, fmt.Errorf("%w at %s", ErrMissingLog, opts.PlaybackLog)
	}
	samples, err := playlog.ParseFile(opts.PlaybackLog, opts.Location)
	if err != nil {
		return sum, err
	}
	sum.Samples = len(samples)
	if len(samples) == 0 {
		return sum, ErrNoEntries
	}

	tracks, missing, err := resolveTracks(opts, samples, logger)
	if err != nil {
		return sum, err
	}
	tracks = scrobble.Dedupe(tracks)
	sum.Eligible = len(tracks)
	sum.Missing = len(missing)
	logger.Info("playback log read", "samples", sum.Samples, "eligible", sum.Eligible, "missing", sum.Missing)

	rec := metrics.New()
	rec.Batch(sum.Samples, sum.Eligible, sum.Missing)

	out.Missing(len(missing))
	if len(tracks) == 0 {
		return sum, ErrNoEligible
	}

	store := openLedger(cfg, logger)
	if store != nil {
		defer store.Close()
	}

	if opts.DryRun {
		ids := make([]string, len(accounts))
		for i, a := range accounts {
			ids[i] = a.Service + ":" + a.Username
		}
		out.DryRun(tracks, ids)
	} else {
		for _, acct := range accounts {
			if ctx.Err() != nil {
				break
			}
			res, err := scrobbleAccount(ctx, cfg, opts, acct, tracks, store, sum.RunID, rec)
			if err != nil {
				sum.Failed++
				out.AccountError(acct.Service+":"+acct.Username, err)
				logger.Warn("account skipped", "service", acct.Service, "username", acct.Username, "error", err)
				continue
			}
			sum.Submitted += res.Submitted
			sum.Failed += len(res.Failures)
			out.AccountResult(acct.Service, acct.Username, res)
		}
	}

	finished := time.Now()
	// Bookkeeping still happens after an interrupt.
	lctx := context.WithoutCancel(ctx)
	if store != nil {
		err := store.RecordRun(lctx, ledger.Run{
			ID:         sum.RunID,
			StartedAt:  started,
			FinishedAt: finished,
			Samples:    sum.Samples,
			Eligible:   sum.Eligible,
			Missing:    sum.Missing,
			Submitted:  sum.Submitted,
			Failed:     sum.Failed,
			DryRun:     opts.DryRun,
		})
		if err != nil {
			logger.Warn("ledger run not recorded", "error", err)
		}
	}
	rec.Finish(started, finished)
	if opts.MetricsFile != "" {
		if err := rec.WriteTextfile(opts.MetricsFile); err != nil {
			logger.Warn("metrics not written", "path", opts.MetricsFile, "error", err)
		}
	}

	if opts.DryRun {
		return sum, nil
	}
	if err := ctx.Err(); err != nil {
		logger.Warn("run interrupted", "run", sum.RunID, "submitted", sum.Submitted, "error", err)
		return sum, fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	out.Summary(sum.Failed)
	if !opts.NoTruncate {
		if err := playlog.Truncate(opts.PlaybackLog); err != nil {
			return sum, err
		}
		sum.Truncated = true
		out.Truncated(opts.PlaybackLog)
	}
	logger.Info("run finished", "run", sum.RunID, "submitted", sum.Submitted, "failed", sum.Failed)
	return sum, nil
}

func selectAccounts(cfg *config.Config, service, username string) ([]config.Account, error) {
	if service != "" {
		s, err := lastfm.ParseService(service)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBadSelector, err)
		}
		service = string(s)
	}
	accounts := cfg.FilterAccounts(service, username)
	if len(accounts) == 0 {
		return nil, scrobble.ErrNoAccounts
	}
	return accounts, nil
}

// resolveTracks joins samples with tag cache metadata, falling back to the
// audio files under Mount when set. The tag cache is closed before return.
func resolveTracks(opts Options, samples []playlog.Sample, logger *slog.Logger) ([]scrobble.Track, []string, error) {
	cache, err := tagcache.Open(opts.RockboxDir)
	if err != nil {
		return nil, nil, err
	}
	defer cache.Close()
	logger.Debug("tag cache opened", "dir", opts.RockboxDir, "endian", cache.Endian())

	var src scrobble.MetadataSource = cache
	if opts.Mount != "" {
		src = scrobble.Chain(cache, tagfile.New(opts.Mount, logger))
	}
	return scrobble.Assemble(samples, src)
}

func openLedger(cfg *config.Config, logger *slog.Logger) *ledger.Store {
	if !cfg.Ledger.Enabled {
		return nil
	}
	store, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		logger.Warn("ledger unavailable", "error", err)
		return nil
	}
	return store
}

// scrobbleAccount authenticates one account and submits every track it
// has not already sent. A returned error means the account never started.
func scrobbleAccount(
	ctx context.Context,
	cfg *config.Config,
	opts Options,
	acct config.Account,
	tracks []scrobble.Track,
	store *ledger.Store,
	runID string,
	rec *metrics.Recorder,
) (scrobble.Result, error) {
	login, err := acct.Login()
	if err != nil {
		rec.Failed(acct.Service, 1)
		return scrobble.Result{}, err
	}
	creds, err := cfg.KeysFor(login.Service)
	if err != nil {
		rec.Failed(acct.Service, 1)
		return scrobble.Result{}, err
	}

	clientOpts := lastfm.Options{
		HTTPClient: opts.HTTPClient,
		BaseURL:    opts.BaseURLs[login.Service],
		UserAgent:  opts.UserAgent,
		Logger:     opts.Logger,
	}
	if opts.DebugResponse {
		clientOpts.DebugResponse = opts.Stderr
	}
	client, err := lastfm.New(ctx, creds, login, clientOpts)
	if err != nil {
		rec.AuthFailure(acct.Service)
		return scrobble.Result{}, err
	}

	id := client.ID()
	lctx := context.WithoutCancel(ctx)
	var submitOpts []scrobble.SubmitOption
	if store != nil {
		submitOpts = append(submitOpts,
			scrobble.WithSkip(func(t scrobble.Track) bool {
				seen, err := store.Seen(lctx, id, t)
				if err != nil {
					opts.Logger.Warn("ledger lookup failed", "error", err)
					return false
				}
				return seen
			}),
			scrobble.WithOnSuccess(func(t scrobble.Track) {
				if err := store.Record(lctx, id, runID, t); err != nil {
					opts.Logger.Warn("ledger record failed", "error", err)
				}
			}),
		)
	}

	res := scrobble.Submit(ctx, client, tracks, submitOpts...)
	rec.Submitted(acct.Service, res.Submitted)
	rec.Failed(acct.Service, len(res.Failures))
	for _, f := range res.Failures {
		opts.Logger.Info("scrobble failed", "account", id, "track", f.Track.String(), "error", f.Err)
	}
	return res, nil
}
