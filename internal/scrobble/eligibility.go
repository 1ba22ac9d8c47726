package scrobble

import "github.com/rbscrobble/rbscrobble/internal/playlog"

const (
	// MinTrackSeconds is the shortest track that can ever be scrobbled.
	MinTrackSeconds = 30
	// MaxThresholdMs caps the required play time at four minutes.
	MaxThresholdMs = 240_000
)

// Threshold returns the play time in milliseconds a track of totalMs needs
// before it counts: half its length, at most four minutes.
func Threshold(totalMs int64) int64 {
	return min(totalMs/2, MaxThresholdMs)
}

// Eligible reports whether a sample qualifies as a scrobble.
func Eligible(s playlog.Sample) bool {
	if s.TotalMs <= 0 {
		return false
	}
	if s.TotalMs/1000 < MinTrackSeconds {
		return false
	}
	return s.ElapsedMs >= Threshold(s.TotalMs)
}
