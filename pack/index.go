package pack

import (
	"bytes"
	"crypto"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/nanogit/gitcore/protocol/hash"
)

// indexV2Magic is the 4-byte signature that distinguishes a v2 pack index
// from the legacy, fan-out-only v1 format (which has no magic at all).
var indexV2Magic = [4]byte{0xff, 't', 'O', 'c'}

// largeOffsetFlag marks an entry in the 32-bit offset table as an index
// into the large-offset table rather than a literal offset.
const largeOffsetFlag = uint32(1) << 31

// Index is an in-memory representation of a .idx v2 file: for every object
// in a packfile, its oid, CRC32 of the (still deflated) on-disk bytes, and
// byte offset into the pack.
type Index struct {
	OIDSize     int
	Entries     []IndexEntry
	PackSHA     []byte
	PackObjects uint32
}

// IndexEntry is one object's index record.
type IndexEntry struct {
	OID    hash.Hash
	CRC32  uint32
	Offset int64
}

// NewIndex builds a sorted Index from a set of resolved objects plus their
// original offsets and CRC32s. Git requires idx entries sorted by oid so
// readers can binary-search. A pack may legally contain the same object
// twice; only the earliest occurrence is indexed.
func NewIndex(oidSize int, entries []IndexEntry, packSHA []byte) *Index {
	sorted := append([]IndexEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool {
		if c := bytes.Compare(sorted[i].OID, sorted[j].OID); c != 0 {
			return c < 0
		}
		return sorted[i].Offset < sorted[j].Offset
	})
	deduped := sorted[:0]
	for _, e := range sorted {
		if len(deduped) > 0 && deduped[len(deduped)-1].OID.Is(e.OID) {
			continue
		}
		deduped = append(deduped, e)
	}
	return &Index{OIDSize: oidSize, Entries: deduped, PackSHA: packSHA, PackObjects: uint32(len(deduped))}
}

// Find returns the entry for oid via binary search, or false if absent.
func (idx *Index) Find(oid hash.Hash) (IndexEntry, bool) {
	i := sort.Search(len(idx.Entries), func(i int) bool {
		return bytes.Compare(idx.Entries[i].OID, oid) >= 0
	})
	if i < len(idx.Entries) && idx.Entries[i].OID.Is(oid) {
		return idx.Entries[i], true
	}
	return IndexEntry{}, false
}

// WriteV2 serializes the index in Git's idx v2 format:
//
//	magic(4) version(4) fanout[256](4 each) oids[n](OIDSize each)
//	crc32s[n](4 each) offsets[n](4 each) largeOffsets[m](8 each)
//	packSHA(OIDSize) selfSHA(OIDSize)
//
// Offsets that don't fit in 31 bits (>= 2^31) are stored in the
// large-offset table and referenced by index with the high bit set.
func (idx *Index) WriteV2(w io.Writer, algo crypto.Hash) error {
	h := algo.New()
	tw := io.MultiWriter(w, h)

	if _, err := tw.Write(indexV2Magic[:]); err != nil {
		return err
	}
	if err := writeUint32(tw, 2); err != nil {
		return err
	}

	fanout := computeFanout(idx.Entries)
	for _, count := range fanout {
		if err := writeUint32(tw, count); err != nil {
			return err
		}
	}

	for _, e := range idx.Entries {
		if _, err := tw.Write(e.OID); err != nil {
			return err
		}
	}
	for _, e := range idx.Entries {
		if err := writeUint32(tw, e.CRC32); err != nil {
			return err
		}
	}

	var largeOffsets []int64
	for _, e := range idx.Entries {
		if e.Offset >= int64(largeOffsetFlag) {
			if err := writeUint32(tw, largeOffsetFlag|uint32(len(largeOffsets))); err != nil {
				return err
			}
			largeOffsets = append(largeOffsets, e.Offset)
		} else if err := writeUint32(tw, uint32(e.Offset)); err != nil {
			return err
		}
	}
	for _, off := range largeOffsets {
		if err := writeUint64(tw, uint64(off)); err != nil {
			return err
		}
	}

	if _, err := tw.Write(idx.PackSHA); err != nil {
		return err
	}

	selfSum := h.Sum(nil)
	if _, err := w.Write(selfSum); err != nil {
		return err
	}
	return nil
}

// ReadIndexV2 parses a .idx v2 byte stream produced by WriteV2 (or by Git
// itself). oidSize is 20 for SHA-1, 32 for SHA-256.
func ReadIndexV2(r io.Reader, oidSize int) (*Index, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("pack: reading index magic: %w", err)
	}
	if magic != indexV2Magic {
		return nil, errors.New("pack: not a v2 pack index (bad magic)")
	}
	version, err := readUint32(r)
	if err != nil {
		return nil, err
	}
	if version != 2 {
		return nil, fmt.Errorf("pack: unsupported index version %d", version)
	}

	var fanout [256]uint32
	for i := range fanout {
		if fanout[i], err = readUint32(r); err != nil {
			return nil, err
		}
	}
	n := int(fanout[255])

	entries := make([]IndexEntry, n)
	for i := 0; i < n; i++ {
		buf := make([]byte, oidSize)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("pack: reading oid %d: %w", i, err)
		}
		entries[i].OID = buf
	}
	for i := 0; i < n; i++ {
		if entries[i].CRC32, err = readUint32(r); err != nil {
			return nil, err
		}
	}

	rawOffsets := make([]uint32, n)
	var largeCount int
	for i := 0; i < n; i++ {
		if rawOffsets[i], err = readUint32(r); err != nil {
			return nil, err
		}
		if rawOffsets[i]&largeOffsetFlag != 0 {
			idx := int(rawOffsets[i] &^ largeOffsetFlag)
			if idx+1 > largeCount {
				largeCount = idx + 1
			}
		}
	}
	largeOffsets := make([]uint64, largeCount)
	for i := 0; i < largeCount; i++ {
		if largeOffsets[i], err = readUint64(r); err != nil {
			return nil, err
		}
	}
	for i, raw := range rawOffsets {
		if raw&largeOffsetFlag != 0 {
			entries[i].Offset = int64(largeOffsets[raw&^largeOffsetFlag])
		} else {
			entries[i].Offset = int64(raw)
		}
	}

	packSHA := make([]byte, oidSize)
	if _, err := io.ReadFull(r, packSHA); err != nil {
		return nil, fmt.Errorf("pack: reading pack checksum: %w", err)
	}
	// The trailing self-checksum is not re-verified here: callers that care
	// should tee their reader through a hash and compare themselves, since
	// ReadIndexV2 accepts an arbitrary io.Reader rather than a seekable file.
	selfSum := make([]byte, oidSize)
	if _, err := io.ReadFull(r, selfSum); err != nil {
		return nil, fmt.Errorf("pack: reading self checksum: %w", err)
	}

	return &Index{OIDSize: oidSize, Entries: entries, PackSHA: packSHA, PackObjects: uint32(n)}, nil
}

func computeFanout(entries []IndexEntry) [256]uint32 {
	var fanout [256]uint32
	for _, e := range entries {
		if len(e.OID) == 0 {
			continue
		}
		fanout[e.OID[0]]++
	}
	for i := 1; i < 256; i++ {
		fanout[i] += fanout[i-1]
	}
	return fanout
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}
