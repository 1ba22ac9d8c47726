// Package tagfile reads metadata straight from audio files on a mounted
// player, for plays the tag cache cannot resolve.
package tagfile

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"

	"github.com/rbscrobble/rbscrobble/internal/tagcache"
)

// Source resolves device paths against a directory where the player's
// filesystem is mounted.
type Source struct {
	root   string
	logger *slog.Logger
}

// New returns a Source rooted at mount.
func New(mount string, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{root: mount, logger: logger}
}

// Path maps a device path to a file under the mount point. Device paths
// cannot escape the mount.
func (s *Source) Path(devicePath string) string {
	return filepath.Join(s.root, filepath.Clean("/"+filepath.FromSlash(devicePath)))
}

// Lookup reads tags from the file. Unreadable or untagged files are
// reported as a miss, never as an error. Duration is not known from tags
// alone and is left at zero.
func (s *Source) Lookup(devicePath string) (tagcache.Metadata, bool, error) {
	path := s.Path(devicePath)
	meta, err := readTags(path)
	if err != nil {
		s.logger.Debug("tag file unreadable", "path", path, "error", err)
		return tagcache.Metadata{}, false, nil
	}
	if meta.Artist == "" || meta.Title == "" {
		return tagcache.Metadata{}, false, nil
	}
	return meta, true, nil
}

func readTags(path string) (tagcache.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return tagcache.Metadata{}, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		// dhowden/tag rejects some UTF-16 ID3 frames that id3v2 reads fine.
		if strings.EqualFold(filepath.Ext(path), ".mp3") {
			return readID3(path)
		}
		return tagcache.Metadata{}, err
	}

	artist := strings.TrimSpace(m.Artist())
	if artist == "" {
		artist = strings.TrimSpace(m.AlbumArtist())
	}
	return tagcache.Metadata{
		Artist: artist,
		Title:  strings.TrimSpace(m.Title()),
		Album:  strings.TrimSpace(m.Album()),
	}, nil
}

func readID3(path string) (tagcache.Metadata, error) {
	t, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return tagcache.Metadata{}, err
	}
	defer t.Close()
	return tagcache.Metadata{
		Artist: strings.TrimSpace(t.Artist()),
		Title:  strings.TrimSpace(t.Title()),
		Album:  strings.TrimSpace(t.Album()),
	}, nil
}
