package scrobble

import (
	"github.com/rbscrobble/rbscrobble/internal/playlog"
	"github.com/rbscrobble/rbscrobble/internal/tagcache"
)

// MetadataSource resolves a device path to track metadata. ok is false when
// nothing usable is known about the path; err is reserved for failures that
// should abort the whole batch.
type MetadataSource interface {
	Lookup(path string) (meta tagcache.Metadata, ok bool, err error)
}

// Assemble joins eligible samples with their metadata. Paths with no
// metadata are returned in missing; output order follows samples.
func Assemble(samples []playlog.Sample, src MetadataSource) (tracks []Track, missing []string, err error) {
	for _, s := range samples {
		if !Eligible(s) {
			continue
		}
		meta, ok, err := src.Lookup(s.Path)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			missing = append(missing, s.Path)
			continue
		}
		tracks = append(tracks, Track{
			Artist:       meta.Artist,
			Title:        meta.Title,
			Album:        meta.Album,
			Timestamp:    s.Timestamp,
			DurationSecs: max(meta.DurationSeconds, 0),
		})
	}
	return tracks, missing, nil
}

// Chain tries each source in order and returns the first hit.
func Chain(sources ...MetadataSource) MetadataSource {
	return chain(sources)
}

type chain []MetadataSource

func (c chain) Lookup(path string) (tagcache.Metadata, bool, error) {
	for _, src := range c {
		meta, ok, err := src.Lookup(path)
		if err != nil {
			return tagcache.Metadata{}, false, err
		}
		if ok {
			return meta, true, nil
		}
	}
	return tagcache.Metadata{}, false, nil
}
