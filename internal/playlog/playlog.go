// Package playlog parses the player's playback.log.
//
// Each line is "<timestamp>:<elapsed_ms>:<total_ms>:<path>". The path may
// itself contain colons. Blank lines and lines starting with '#' are
// ignored, and lines that do not parse are skipped without error.
package playlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

const fieldCount = 4

// MaxLineBytes bounds a single log line. Device paths are far shorter.
const MaxLineBytes = 64 * 1024

// Sample is one playback event from the log.
type Sample struct {
	// Timestamp is the start of playback in Unix seconds, UTC.
	Timestamp int64
	ElapsedMs int64
	TotalMs   int64
	Path      string
}

// ParseFile reads and parses the log at path. loc is the zone the device
// clock was set to; nil means time.Local.
func ParseFile(path string, loc *time.Location) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open playback log: %w", err)
	}
	defer f.Close()

	samples, err := Parse(f, loc)
	if err != nil {
		return nil, fmt.Errorf("read playback log %s: %w", path, err)
	}
	return samples, nil
}

// Parse reads samples from r until EOF. Lines longer than MaxLineBytes
// are skipped like any other malformed line.
func Parse(r io.Reader, loc *time.Location) ([]Sample, error) {
	if loc == nil {
		loc = time.Local
	}
	var (
		samples []Sample
		line    []byte
		tooLong bool
	)
	br := bufio.NewReader(r)
	for {
		chunk, more, err := br.ReadLine()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if !tooLong {
			if len(line)+len(chunk) > MaxLineBytes {
				tooLong = true
			} else {
				line = append(line, chunk...)
			}
		}
		if more {
			continue
		}
		if !tooLong {
			if s, ok := ParseLine(string(line), loc); ok {
				samples = append(samples, s)
			}
		}
		line, tooLong = line[:0], false
	}
	return samples, nil
}

// ParseLine parses a single log line.
func ParseLine(line string, loc *time.Location) (Sample, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Sample{}, false
	}
	parts := strings.SplitN(line, ":", fieldCount)
	if len(parts) != fieldCount {
		return Sample{}, false
	}
	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Sample{}, false
	}
	elapsed, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Sample{}, false
	}
	total, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Sample{}, false
	}
	return Sample{
		Timestamp: LocalToUTC(ts, loc),
		ElapsedMs: elapsed,
		TotalMs:   total,
		Path:      parts[3],
	}, true
}

// LocalToUTC treats ts as a wall-clock reading in loc (the device stores
// local time as if it were UTC) and returns the matching Unix instant.
// When the wall clock is ambiguous the earliest instant wins. When it does
// not exist in loc, ts is returned unchanged.
func LocalToUTC(ts int64, loc *time.Location) int64 {
	if loc == nil {
		loc = time.Local
	}
	// Every offset in use within a day of the reading is a candidate.
	const day = 24 * 60 * 60
	offsets := make(map[int]struct{}, 3)
	for _, probe := range []int64{ts - day, ts, ts + day} {
		_, off := time.Unix(probe, 0).In(loc).Zone()
		offsets[off] = struct{}{}
	}

	best, found := int64(0), false
	for off := range offsets {
		candidate := ts - int64(off)
		if _, got := time.Unix(candidate, 0).In(loc).Zone(); got != off {
			continue
		}
		if !found || candidate < best {
			best, found = candidate, true
		}
	}
	if !found {
		return ts
	}
	return best
}

// Truncate empties the log so the same plays are not read again.
func Truncate(path string) error {
	if err := os.Truncate(path, 0); err != nil {
		return fmt.Errorf("truncate playback log: %w", err)
	}
	return nil
}
