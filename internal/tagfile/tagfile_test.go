package tagfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rbscrobble/rbscrobble/internal/tagcache"
)

// writeMP3 writes a single silent MPEG frame and tags it.
func writeMP3(t *testing.T, path, artist, title, album string) {
	t.Helper()
	frame := make([]byte, 417)
	frame[0], frame[1], frame[2] = 0xff, 0xfb, 0x90
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, frame, 0o600))

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	require.NoError(t, err, "open for tagging")
	defer tag.Close()
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	if artist != "" {
		tag.SetArtist(artist)
	}
	if title != "" {
		tag.SetTitle(title)
	}
	if album != "" {
		tag.SetAlbum(album)
	}
	require.NoError(t, tag.Save(), "save tags")
}

func TestLookup(t *testing.T) {
	mount := t.TempDir()
	writeMP3(t, filepath.Join(mount, "Music", "a.mp3"), "Artist", "Title", "Album")
	writeMP3(t, filepath.Join(mount, "Music", "notitle.mp3"), "Artist", "", "")
	src := New(mount, nil)

	meta, ok, err := src.Lookup("/Music/a.mp3")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, tagcache.Metadata{Artist: "Artist", Title: "Title", Album: "Album"}, meta, "duration stays unknown")

	_, ok, err = src.Lookup("/Music/notitle.mp3")
	require.NoError(t, err)
	assert.False(t, ok, "file without a title is a miss")

	_, ok, err = src.Lookup("/Music/missing.mp3")
	require.NoError(t, err)
	assert.False(t, ok, "missing file is a miss")
}

func TestLookupUnparsable(t *testing.T) {
	mount := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mount, "junk.flac"), []byte("not audio"), 0o600))

	_, ok, err := New(mount, nil).Lookup("/junk.flac")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPathStaysUnderMount(t *testing.T) {
	src := New("/mnt/player", nil)
	tests := map[string]string{
		"/Music/a.mp3":      "/mnt/player/Music/a.mp3",
		"Music/a.mp3":       "/mnt/player/Music/a.mp3",
		"/../../etc/passwd": "/mnt/player/etc/passwd",
	}
	for in, want := range tests {
		assert.Equal(t, want, src.Path(in), "Path(%q)", in)
	}
}
