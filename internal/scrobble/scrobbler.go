package scrobble

import (
	"context"
	"fmt"
)

// Scrobbler is implemented by an authenticated submission backend for one
// account.
type Scrobbler interface {
	// ID identifies the account, e.g. "lastfm:alice".
	ID() string
	// Scrobble submits a single track.
	Scrobble(ctx context.Context, track Track) error
}

// Failure pairs a track with the reason it was not accepted.
type Failure struct {
	Track Track
	Err   error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %v", f.Track, f.Err)
}

// Result summarizes one Submit call.
type Result struct {
	Submitted int
	Skipped   int
	Failures  []Failure
}

type submitOptions struct {
	skip      func(Track) bool
	onSuccess func(Track)
}

// SubmitOption configures Submit.
type SubmitOption func(*submitOptions)

// WithSkip leaves out tracks for which fn returns true.
func WithSkip(fn func(Track) bool) SubmitOption {
	return func(o *submitOptions) { o.skip = fn }
}

// WithOnSuccess calls fn after each accepted track.
func WithOnSuccess(fn func(Track)) SubmitOption {
	return func(o *submitOptions) { o.onSuccess = fn }
}

// Submit sends tracks one at a time in order. A failed track is recorded and
// the remaining tracks are still sent. Submit stops early once ctx is done;
// tracks not attempted are neither submitted nor failures.
func Submit(ctx context.Context, s Scrobbler, tracks []Track, opts ...SubmitOption) Result {
	var o submitOptions
	for _, opt := range opts {
		opt(&o)
	}

	var res Result
	for _, t := range tracks {
		if ctx.Err() != nil {
			break
		}
		if o.skip != nil && o.skip(t) {
			res.Skipped++
			continue
		}
		if err := s.Scrobble(ctx, t); err != nil {
			res.Failures = append(res.Failures, Failure{Track: t, Err: err})
			continue
		}
		res.Submitted++
		if o.onSuccess != nil {
			o.onSuccess(t)
		}
	}
	return res
}
