// Package tagcache reads the Rockbox database: a master index file of
// fixed-size rows plus one side file per tag kind holding the strings the
// rows point at.
package tagcache

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

const (
	// Magic is the first word of every tag cache file.
	Magic uint32 = 0x54434810

	// TagCount is the number of tag kinds in a master row.
	TagCount = 23

	MasterHeaderSize = 24
	SideHeaderSize   = 12
	EntryHeaderSize  = 8
	RowSize          = (TagCount + 1) * 4

	filePrefix = "database"
)

// Tag kinds referenced by the reader. Each is both a field position in a
// master row and the number of its side file.
const (
	TagArtist   = 0
	TagAlbum    = 1
	TagTitle    = 3
	TagFilename = 4
	TagLength   = 14
)

// Endian is the byte order of a tag cache, chosen once when the master
// file is opened.
type Endian int

const (
	LittleEndian Endian = iota
	BigEndian
)

func (e Endian) String() string {
	if e == BigEndian {
		return "big-endian"
	}
	return "little-endian"
}

func (e Endian) order() binary.ByteOrder {
	if e == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func (e Endian) Uint32(b []byte) uint32 { return e.order().Uint32(b) }
func (e Endian) Int32(b []byte) int32   { return int32(e.order().Uint32(b)) }

// DetectEndian reports which byte order makes b read as the tag cache magic.
func DetectEndian(b [4]byte) (Endian, bool) {
	switch {
	case binary.LittleEndian.Uint32(b[:]) == Magic:
		return LittleEndian, true
	case binary.BigEndian.Uint32(b[:]) == Magic:
		return BigEndian, true
	}
	return 0, false
}

// Metadata is what the database knows about one file.
type Metadata struct {
	Artist          string
	Title           string
	Album           string
	DurationSeconds int64
}

type sideFile struct {
	f    *os.File
	size int64
}

// Reader decodes track metadata from a tag cache directory. It is not safe
// for concurrent use.
type Reader struct {
	dir        string
	masterPath string
	endian     Endian
	master     *os.File
	files      map[int]*sideFile
	index      map[string]int32
	closed     bool
}

// MasterPath returns the master index path inside dir.
func MasterPath(dir string) string {
	return filepath.Join(dir, filePrefix+"_idx.tcd")
}

// SidePath returns the side file path for a tag kind inside dir.
func SidePath(dir string, kind int) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%d.tcd", filePrefix, kind))
}

// Open opens the master index in dir and fixes the byte order for the
// session. The reverse index is built on the first Lookup.
func Open(dir string) (*Reader, error) {
	path := MasterPath(dir)
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, formatErrorf("missing tag cache file %s", path)
		}
		return nil, ioError("open", path, err)
	}

	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		f.Close()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, formatErrorf("short header in %s", path)
		}
		return nil, ioError("read", path, err)
	}
	endian, ok := DetectEndian(magic)
	if !ok {
		f.Close()
		return nil, formatErrorf("unrecognized magic %#x in %s", magic, path)
	}

	return &Reader{
		dir:        dir,
		masterPath: path,
		endian:     endian,
		master:     f,
		files:      make(map[int]*sideFile),
	}, nil
}

// Endian returns the byte order detected at open time.
func (r *Reader) Endian() Endian { return r.endian }

// Lookup returns the metadata for a device path. ok is false when the path
// is not in the database or its row lacks an artist or title.
func (r *Reader) Lookup(path string) (meta Metadata, ok bool, err error) {
	if r.closed {
		return Metadata{}, false, ioError("lookup", r.dir, os.ErrClosed)
	}
	index, err := r.pathIndex()
	if err != nil {
		return Metadata{}, false, err
	}
	id, found := index[path]
	if !found {
		return Metadata{}, false, nil
	}

	row, err := r.readRow(id)
	if err != nil {
		return Metadata{}, false, err
	}
	artist, err := r.readString(TagArtist, row[TagArtist])
	if err != nil {
		return Metadata{}, false, err
	}
	title, err := r.readString(TagTitle, row[TagTitle])
	if err != nil {
		return Metadata{}, false, err
	}
	album, err := r.readString(TagAlbum, row[TagAlbum])
	if err != nil {
		return Metadata{}, false, err
	}
	if artist == "" || title == "" {
		return Metadata{}, false, nil
	}

	return Metadata{
		Artist:          artist,
		Title:           title,
		Album:           album,
		DurationSeconds: int64(max(row[TagLength], 0)) / 1000,
	}, true, nil
}

// IndexSize builds the reverse index if needed and returns its entry count.
func (r *Reader) IndexSize() (int, error) {
	index, err := r.pathIndex()
	if err != nil {
		return 0, err
	}
	return len(index), nil
}

// Close releases every open file. Calling it again is a no-op.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var errs []error
	if err := r.master.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, sf := range r.files {
		if err := sf.f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	r.files = nil
	r.index = nil
	return errors.Join(errs...)
}

func (r *Reader) sideFile(kind int) (*sideFile, error) {
	if sf, ok := r.files[kind]; ok {
		return sf, nil
	}
	path := SidePath(r.dir, kind)
	f, err := os.Open(path)
	if err != nil {
		return nil, ioError("open", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ioError("stat", path, err)
	}
	sf := &sideFile{f: f, size: info.Size()}
	r.files[kind] = sf
	return sf, nil
}

// pathIndex scans the filename side file once and keeps the result for the
// lifetime of the reader.
func (r *Reader) pathIndex() (map[string]int32, error) {
	if r.index != nil {
		return r.index, nil
	}
	sf, err := r.sideFile(TagFilename)
	if err != nil {
		return nil, err
	}
	path := sf.f.Name()
	br := bufio.NewReader(io.NewSectionReader(sf.f, 0, sf.size))

	var hdr [SideHeaderSize]byte
	if _, err := io.ReadFull(br, hdr[:]); err != nil {
		if isShortRead(err) {
			return nil, formatErrorf("short header in %s", path)
		}
		return nil, ioError("read", path, err)
	}
	if r.endian.Uint32(hdr[0:4]) != Magic {
		return nil, formatErrorf("filename index %s has invalid header", path)
	}
	count := r.endian.Uint32(hdr[8:12])

	index := make(map[string]int32, min(count, 1<<16))
	offset := int64(SideHeaderSize)
	for range count {
		var eh [EntryHeaderSize]byte
		if _, err := io.ReadFull(br, eh[:]); err != nil {
			if isShortRead(err) {
				break
			}
			return nil, ioError("read", path, err)
		}
		offset += EntryHeaderSize

		length := r.endian.Uint32(eh[0:4])
		id := r.endian.Uint32(eh[4:8])
		if length == 0 {
			continue
		}
		if id > math.MaxInt32 {
			return nil, formatErrorf("index id %d out of range in %s", id, path)
		}
		if offset+int64(length) > sf.size {
			return nil, formatErrorf("truncated entry at offset %d in %s", offset, path)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(br, data); err != nil {
			if isShortRead(err) {
				return nil, formatErrorf("truncated entry at offset %d in %s", offset, path)
			}
			return nil, ioError("read", path, err)
		}
		offset += int64(length)
		index[decodeString(data)] = int32(id)
	}

	r.index = index
	return index, nil
}

func (r *Reader) readRow(id int32) ([TagCount + 1]int32, error) {
	var row [TagCount + 1]int32
	if id < 0 {
		return row, formatErrorf("invalid index id %d", id)
	}
	var raw [RowSize]byte
	offset := int64(MasterHeaderSize) + int64(id)*RowSize
	n, err := r.master.ReadAt(raw[:], offset)
	if n != RowSize {
		if err == nil || errors.Is(err, io.EOF) {
			return row, formatErrorf("short read for index entry %d in %s", id, r.masterPath)
		}
		return row, ioError("read", r.masterPath, err)
	}
	for i := range row {
		row[i] = r.endian.Int32(raw[i*4 : i*4+4])
	}
	return row, nil
}

// readString resolves a seek offset into a side file. Offsets <= 0 and
// empty entries have no value.
func (r *Reader) readString(kind int, seek int32) (string, error) {
	if seek <= 0 {
		return "", nil
	}
	sf, err := r.sideFile(kind)
	if err != nil {
		return "", err
	}
	path := sf.f.Name()

	var eh [EntryHeaderSize]byte
	n, err := sf.f.ReadAt(eh[:], int64(seek))
	if n != EntryHeaderSize {
		if err != nil && !errors.Is(err, io.EOF) {
			return "", ioError("read", path, err)
		}
		return "", nil
	}
	length := r.endian.Uint32(eh[0:4])
	if length == 0 {
		return "", nil
	}
	start := int64(seek) + EntryHeaderSize
	if start+int64(length) > sf.size {
		return "", formatErrorf("truncated string at offset %d in %s", seek, path)
	}
	data := make([]byte, length)
	if _, err := sf.f.ReadAt(data, start); err != nil && !errors.Is(err, io.EOF) {
		return "", ioError("read", path, err)
	}
	return decodeString(data), nil
}

// decodeString keeps everything before the first NUL and replaces invalid
// UTF-8 with U+FFFD.
func decodeString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}

func isShortRead(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
