package pack

import (
	"crypto"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"

	"github.com/nanogit/gitcore/protocol/object"
)

// WriteTo serializes objs as a version-2 packfile and writes it to w,
// followed by a trailing checksum of everything written so far. Objects are
// written undeltified: push's "thin-pack" support is limited to omitting
// objects the remote already has (see package push), not to re-deltifying
// against them, so every object here is a plain, independently inflatable
// record.
//
// algo selects the trailer's hash function; it should match the oid size
// objs were computed with.
func WriteTo(w io.Writer, algo crypto.Hash, objs []Object) error {
	if !algo.Available() {
		return fmt.Errorf("pack: writing packfile: hash algorithm %s is not linked into the binary", algo)
	}
	h := algo.New()
	mw := io.MultiWriter(w, h)

	var hdr [12]byte
	copy(hdr[0:4], Magic[:])
	putUint32(hdr[4:8], 2)
	putUint32(hdr[8:12], uint32(len(objs)))
	if _, err := mw.Write(hdr[:]); err != nil {
		return fmt.Errorf("pack: writing header: %w", err)
	}

	for _, obj := range objs {
		if err := writeObjectHeader(mw, obj.Type, int64(len(obj.Content))); err != nil {
			return fmt.Errorf("pack: writing object %s header: %w", obj.OID, err)
		}
		zw := zlib.NewWriter(mw)
		if _, err := zw.Write(obj.Content); err != nil {
			return fmt.Errorf("pack: deflating object %s: %w", obj.OID, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("pack: deflating object %s: %w", obj.OID, err)
		}
	}

	if _, err := w.Write(h.Sum(nil)); err != nil {
		return fmt.Errorf("pack: writing trailer: %w", err)
	}
	return nil
}

// writeObjectHeader encodes the type+size varint header described in
// readTypeAndSize's doc comment, in reverse.
func writeObjectHeader(w io.Writer, typ object.Type, size int64) error {
	first := byte(typ&0x7) << 4
	rest := size >> 4
	b := first | byte(size&0xf)
	if rest > 0 {
		b |= 0x80
	}
	if err := writeByte(w, b); err != nil {
		return err
	}
	for rest > 0 {
		b = byte(rest & 0x7f)
		rest >>= 7
		if rest > 0 {
			b |= 0x80
		}
		if err := writeByte(w, b); err != nil {
			return err
		}
	}
	return nil
}

func writeByte(w io.Writer, b byte) error {
	_, err := w.Write([]byte{b})
	return err
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
