package pack

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"

	"github.com/nanogit/gitcore/protocol/hash"
	"github.com/nanogit/gitcore/protocol/object"
)

// ErrObjectMissing is returned when a requested oid is absent from the
// index, or a ref-delta base cannot be found in either this pack or the
// external resolver.
var ErrObjectMissing = errors.New("pack: object missing")

// ExternalBaseFunc resolves a ref-delta base that lives outside this pack
// (in another pack, or loose). Returning found=false means the base is
// unknown to the caller too.
type ExternalBaseFunc func(oid hash.Hash) (content []byte, typ object.Type, found bool)

// cacheDepthThreshold is the delta chain depth past which PackReader starts
// caching reconstructed objects by offset. Shallow chains are cheap to
// re-walk; deep ones turn tree/commit traversals quadratic without a cache.
const cacheDepthThreshold = 3

// PackReader reads individual objects out of an already-downloaded pack
// using its index for oid lookup, reconstructing delta chains on demand.
// Unlike Resolve, which materializes every object up front during a fetch,
// PackReader is for the read side: an object store backed by a pack on
// disk pulls single objects out as tree and commit walks request them.
//
// PackReader is safe for concurrent use.
type PackReader struct {
	data     []byte
	idx      *Index
	external ExternalBaseFunc

	mu    sync.Mutex
	cache map[int64]Object
}

// NewPackReader returns a PackReader over data (the complete packfile,
// header and trailer included) indexed by idx. external may be nil if
// the pack is known to be self-contained (not thin).
func NewPackReader(data []byte, idx *Index, external ExternalBaseFunc) *PackReader {
	return &PackReader{data: data, idx: idx, external: external, cache: make(map[int64]Object)}
}

// Object looks oid up in the index and reconstructs it, following any
// delta chain back to a non-delta base.
func (p *PackReader) Object(oid hash.Hash) (*Object, error) {
	entry, ok := p.idx.Find(oid)
	if !ok {
		return nil, fmt.Errorf("%w: %s not in index", ErrObjectMissing, oid)
	}
	typ, content, _, err := p.readAt(entry.Offset, 0)
	if err != nil {
		return nil, err
	}
	return &Object{OID: oid, Type: typ, Content: content, Offset: entry.Offset}, nil
}

// ObjectAt reconstructs the object whose record begins at offset, without
// consulting the index. Callers normally want Object; this exists for
// index construction and verification paths that already know offsets.
func (p *PackReader) ObjectAt(offset int64) (object.Type, []byte, error) {
	typ, content, _, err := p.readAt(offset, 0)
	return typ, content, err
}

// readAt reconstructs the record at offset, recursing through delta bases.
// It returns the chain depth below this record (0 for a non-delta) so
// callers can decide cache admission.
func (p *PackReader) readAt(offset int64, depth int) (object.Type, []byte, int, error) {
	if depth > maxPasses*2 {
		return 0, nil, 0, fmt.Errorf("pack: delta chain at offset %d exceeds depth limit", offset)
	}

	p.mu.Lock()
	cached, ok := p.cache[offset]
	p.mu.Unlock()
	if ok {
		return cached.Type, cached.Content, 0, nil
	}

	hdr, payload, err := p.inflateRecord(offset)
	if err != nil {
		return 0, nil, 0, err
	}

	var typ object.Type
	var content []byte
	var baseDepth int
	switch hdr.Type {
	case object.TypeCommit, object.TypeTree, object.TypeBlob, object.TypeTag:
		typ, content = hdr.Type, payload

	case object.TypeOfsDelta:
		var baseContent []byte
		typ, baseContent, baseDepth, err = p.readAt(hdr.BaseOffset, depth+1)
		if err != nil {
			return 0, nil, 0, err
		}
		content, err = ApplyDelta(baseContent, payload)
		if err != nil {
			return 0, nil, 0, fmt.Errorf("pack: applying ofs-delta at offset %d: %w", offset, err)
		}
		baseDepth++

	case object.TypeRefDelta:
		baseOID := hash.Hash(hdr.BaseOID)
		var baseContent []byte
		if entry, ok := p.idx.Find(baseOID); ok {
			typ, baseContent, baseDepth, err = p.readAt(entry.Offset, depth+1)
			if err != nil {
				return 0, nil, 0, err
			}
		} else if p.external != nil {
			var found bool
			baseContent, typ, found = p.external(baseOID)
			if !found {
				return 0, nil, 0, fmt.Errorf("%w: ref-delta base %s for object at offset %d", ErrObjectMissing, baseOID, offset)
			}
		} else {
			return 0, nil, 0, fmt.Errorf("%w: ref-delta base %s for object at offset %d", ErrObjectMissing, baseOID, offset)
		}
		content, err = ApplyDelta(baseContent, payload)
		if err != nil {
			return 0, nil, 0, fmt.Errorf("pack: applying ref-delta at offset %d: %w", offset, err)
		}
		baseDepth++

	default:
		return 0, nil, 0, fmt.Errorf("%w: %s at offset %d", ErrInvalidObjectType, hdr.Type, offset)
	}

	if baseDepth > cacheDepthThreshold {
		p.mu.Lock()
		if _, ok := p.cache[offset]; !ok {
			p.cache[offset] = Object{Type: typ, Content: content, Offset: offset}
		}
		p.mu.Unlock()
	}
	return typ, content, baseDepth, nil
}

// inflateRecord parses the record header at offset and inflates its
// payload, verifying the inflated length against the declared size.
func (p *PackReader) inflateRecord(offset int64) (*Header, []byte, error) {
	if offset < 0 || offset >= int64(len(p.data)) {
		return nil, nil, fmt.Errorf("pack: offset %d outside pack of %d bytes", offset, len(p.data))
	}
	br := bufio.NewReader(bytes.NewReader(p.data[offset:]))

	typ, size, err := readTypeAndSize(br)
	if err != nil {
		return nil, nil, fmt.Errorf("pack: record header at offset %d: %w", offset, err)
	}
	hdr := &Header{Offset: offset, Type: typ, Size: size}
	switch typ {
	case object.TypeOfsDelta:
		rel, err := readOffsetDelta(br)
		if err != nil {
			return nil, nil, fmt.Errorf("pack: ofs-delta offset at %d: %w", offset, err)
		}
		hdr.BaseOffset = offset - rel
	case object.TypeRefDelta:
		oid := make([]byte, p.idx.OIDSize)
		if _, err := io.ReadFull(br, oid); err != nil {
			return nil, nil, fmt.Errorf("pack: ref-delta base at offset %d: %w", offset, err)
		}
		hdr.BaseOID = oid
	}

	zr, err := zlib.NewReader(br)
	if err != nil {
		return nil, nil, fmt.Errorf("pack: opening zlib stream at offset %d: %w", offset, err)
	}
	defer zr.Close()
	payload, err := io.ReadAll(zr)
	if err != nil {
		return nil, nil, fmt.Errorf("pack: inflating object at offset %d: %w", offset, err)
	}
	if int64(len(payload)) != size {
		return nil, nil, fmt.Errorf("%w: object at offset %d inflated to %d bytes, header declared %d",
			ErrObjectSizeMismatch, offset, len(payload), size)
	}
	return hdr, payload, nil
}
