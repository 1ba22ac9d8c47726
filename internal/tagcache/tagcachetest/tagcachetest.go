// Package tagcachetest writes small tag cache databases for tests.
package tagcachetest

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/rbscrobble/rbscrobble/internal/tagcache"
)

// Track is one row of a generated database. Empty strings leave the tag
// unset.
type Track struct {
	Path     string
	Artist   string
	Title    string
	Album    string
	LengthMs int32
}

type side struct {
	order   binary.ByteOrder
	entries []byte
	count   uint32
}

func (s *side) add(value string, id uint32) int32 {
	offset := int32(tagcache.SideHeaderSize + len(s.entries))
	data := append([]byte(value), 0)
	var eh [tagcache.EntryHeaderSize]byte
	s.order.PutUint32(eh[0:4], uint32(len(data)))
	s.order.PutUint32(eh[4:8], id)
	s.entries = append(s.entries, eh[:]...)
	s.entries = append(s.entries, data...)
	s.count++
	return offset
}

func (s *side) bytes() []byte {
	var hdr [tagcache.SideHeaderSize]byte
	s.order.PutUint32(hdr[0:4], tagcache.Magic)
	s.order.PutUint32(hdr[4:8], uint32(len(s.entries)))
	s.order.PutUint32(hdr[8:12], s.count)
	return append(hdr[:], s.entries...)
}

// Write creates database_idx.tcd and the side files for tracks in dir.
func Write(dir string, order binary.ByteOrder, tracks []Track) error {
	sides := map[int]*side{}
	for _, kind := range []int{tagcache.TagArtist, tagcache.TagAlbum, tagcache.TagTitle, tagcache.TagFilename} {
		sides[kind] = &side{order: order}
	}

	var rows []byte
	for i, tr := range tracks {
		row := make([]int32, tagcache.TagCount+1)
		for kind, value := range map[int]string{
			tagcache.TagArtist: tr.Artist,
			tagcache.TagAlbum:  tr.Album,
			tagcache.TagTitle:  tr.Title,
		} {
			if value != "" {
				row[kind] = sides[kind].add(value, uint32(i))
			}
		}
		row[tagcache.TagFilename] = sides[tagcache.TagFilename].add(tr.Path, uint32(i))
		row[tagcache.TagLength] = tr.LengthMs
		for _, v := range row {
			var b [4]byte
			order.PutUint32(b[:], uint32(v))
			rows = append(rows, b[:]...)
		}
	}

	var hdr [tagcache.MasterHeaderSize]byte
	order.PutUint32(hdr[0:4], tagcache.Magic)
	order.PutUint32(hdr[4:8], uint32(len(rows)))
	order.PutUint32(hdr[8:12], uint32(len(tracks)))
	if err := os.WriteFile(tagcache.MasterPath(dir), append(hdr[:], rows...), 0o644); err != nil {
		return fmt.Errorf("write master: %w", err)
	}
	for kind, s := range sides {
		if err := os.WriteFile(tagcache.SidePath(dir, kind), s.bytes(), 0o644); err != nil {
			return fmt.Errorf("write side file %d: %w", kind, err)
		}
	}
	return nil
}
