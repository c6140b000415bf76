// Package pack implements streaming parsing of Git packfiles, multi-pass
// delta resolution, and pack index (v2) construction. It has no knowledge
// of any transport or on-disk object store: it consumes a packfile byte
// stream and produces resolved objects plus an index ready to hand to an
// external Object Store port.
package pack

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/nanogit/gitcore/protocol/object"
)

// Magic is the 4-byte signature every packfile begins with.
var Magic = [4]byte{'P', 'A', 'C', 'K'}

var (
	// ErrBadSignature is returned when a byte stream does not begin with "PACK".
	ErrBadSignature = errors.New("pack: bad signature")
	// ErrUnsupportedVersion is returned for a pack version other than 2 or 3.
	ErrUnsupportedVersion = errors.New("pack: unsupported version")
	// ErrInvalidObjectType is returned when an object header encodes a reserved
	// or out-of-range type.
	ErrInvalidObjectType = errors.New("pack: invalid object type")
)

// Header describes one object record as it appears in the packfile, before
// any delta resolution.
type Header struct {
	// Offset is the byte offset of this record's header within the pack.
	Offset int64
	// Type is the object's type, including OfsDelta/RefDelta.
	Type object.Type
	// Size is the inflated size of the object (or, for deltas, of the delta
	// instruction stream), as declared by the header.
	Size int64
	// BaseOffset is set for OfsDelta records: the offset of the base object.
	BaseOffset int64
	// BaseOID is set for RefDelta records: the oid of the base object.
	BaseOID []byte
}

// Reader parses a packfile object-by-object. Call Next to advance to each
// record, then Read to stream its (still possibly deltified) inflated bytes.
type Reader struct {
	r       *countingReader
	oidSize int
	nobjs   uint32
	nread   uint32
	version uint32

	cur    *Header
	inflate io.ReadCloser
}

// NewReader returns a Reader over r. oidSize is 20 for SHA-1 packs and 32
// for SHA-256 packs, and determines how RefDelta base identifiers are read.
func NewReader(r io.Reader, oidSize int) (*Reader, error) {
	cr := &countingReader{r: bufio.NewReader(r)}

	var hdr [12]byte
	if _, err := io.ReadFull(cr, hdr[:]); err != nil {
		return nil, fmt.Errorf("pack: reading header: %w", err)
	}
	if hdr[0] != Magic[0] || hdr[1] != Magic[1] || hdr[2] != Magic[2] || hdr[3] != Magic[3] {
		return nil, ErrBadSignature
	}
	version := binary.BigEndian.Uint32(hdr[4:8])
	if version != 2 && version != 3 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, version)
	}
	nobjs := binary.BigEndian.Uint32(hdr[8:12])

	return &Reader{r: cr, oidSize: oidSize, nobjs: nobjs, version: version}, nil
}

// ObjectCount returns the number of objects declared in the pack header.
func (pr *Reader) ObjectCount() uint32 { return pr.nobjs }

// Version returns the packfile format version (2 or 3).
func (pr *Reader) Version() uint32 { return pr.version }

// Next advances to the next object record and returns its header. It
// returns io.EOF once every declared object has been read (callers must
// still consume the trailing pack checksum themselves via Trailer).
func (pr *Reader) Next() (*Header, error) {
	if pr.inflate != nil {
		_ = pr.inflate.Close()
		pr.inflate = nil
	}
	if pr.nread >= pr.nobjs {
		return nil, io.EOF
	}

	offset := pr.r.count
	typ, size, err := readTypeAndSize(pr.r)
	if err != nil {
		return nil, fmt.Errorf("pack: object %d: %w", pr.nread, err)
	}

	hdr := &Header{Offset: offset, Type: typ, Size: size}
	switch typ {
	case object.TypeOfsDelta:
		rel, err := readOffsetDelta(pr.r)
		if err != nil {
			return nil, fmt.Errorf("pack: object %d: reading ofs-delta offset: %w", pr.nread, err)
		}
		hdr.BaseOffset = offset - rel
	case object.TypeRefDelta:
		buf := make([]byte, pr.oidSize)
		if _, err := io.ReadFull(pr.r, buf); err != nil {
			return nil, fmt.Errorf("pack: object %d: reading ref-delta base: %w", pr.nread, err)
		}
		hdr.BaseOID = buf
	case object.TypeCommit, object.TypeTree, object.TypeBlob, object.TypeTag:
		// no extra header fields
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidObjectType, typ)
	}

	zr, err := zlib.NewReader(pr.r)
	if err != nil {
		return nil, fmt.Errorf("pack: object %d: opening zlib stream: %w", pr.nread, err)
	}
	pr.inflate = zr
	pr.cur = hdr
	pr.nread++
	return hdr, nil
}

// Read streams the inflated bytes of the object returned by the most
// recent Next call. For delta objects this yields the raw delta
// instruction stream, not the reconstructed object.
func (pr *Reader) Read(p []byte) (int, error) {
	if pr.inflate == nil {
		return 0, io.EOF
	}
	return pr.inflate.Read(p)
}

// Trailer reads and returns the packfile's trailing checksum (20 or 32
// bytes, matching oidSize). It must be called only after Next has
// returned io.EOF.
func (pr *Reader) Trailer() ([]byte, error) {
	buf := make([]byte, pr.oidSize)
	if _, err := io.ReadFull(pr.r, buf); err != nil {
		return nil, fmt.Errorf("pack: reading trailer checksum: %w", err)
	}
	return buf, nil
}

// readTypeAndSize decodes the variable-length object header: a 3-bit type
// in the first byte's bits 4-6, and a size encoded across the low 4 bits
// of the first byte plus 7 bits per continuation byte (little-endian-ish,
// least-significant chunk first), terminated by a byte with the high bit
// clear.
func readTypeAndSize(br io.ByteReader) (object.Type, int64, error) {
	b, err := br.ReadByte()
	if err != nil {
		return 0, 0, err
	}
	typ := object.Type((b >> 4) & 0x7)
	size := int64(b & 0xf)
	shift := uint(4)
	for b&0x80 != 0 {
		b, err = br.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		size |= int64(b&0x7f) << shift
		shift += 7
	}
	return typ, size, nil
}

// readOffsetDelta decodes an OFS-delta's negative offset. Each continuation
// byte adds 1 before shifting in the next 7 bits, per the pack format spec.
func readOffsetDelta(br io.ByteReader) (int64, error) {
	b, err := br.ReadByte()
	if err != nil {
		return 0, err
	}
	off := int64(b & 0x7f)
	for b&0x80 != 0 {
		b, err = br.ReadByte()
		if err != nil {
			return 0, err
		}
		off = ((off + 1) << 7) | int64(b&0x7f)
	}
	return off, nil
}

// countingReader wraps a *bufio.Reader and tracks the number of bytes
// consumed so delta base offsets can be computed relative to the stream.
type countingReader struct {
	r     *bufio.Reader
	count int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.count += int64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.count++
	}
	return b, err
}
