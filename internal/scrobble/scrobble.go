// Package scrobble decides which playback samples count as plays and
// turns them into tracks ready for submission.
package scrobble

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConfigured = errors.New("scrobbling not configured")
	ErrNoAccounts    = errors.New("no matching accounts configured")
)

// Track is a single play ready for submission.
type Track struct {
	Artist string
	Title  string
	// Album is empty when unknown.
	Album string
	// Timestamp is when playback started, in Unix seconds UTC.
	Timestamp int64
	// DurationSecs is zero when unknown.
	DurationSecs int64
}

// StartedAt returns Timestamp as a time.Time.
func (t Track) StartedAt() time.Time {
	return time.Unix(t.Timestamp, 0).UTC()
}

func (t Track) String() string {
	return fmt.Sprintf("%s - %s", t.Artist, t.Title)
}

// Dedupe drops repeated tracks with the same artist, title, album and
// timestamp, keeping the first occurrence and the input order.
func Dedupe(tracks []Track) []Track {
	seen := make(map[Track]struct{}, len(tracks))
	out := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		key := t
		key.DurationSecs = 0
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
	}
	return out
}
