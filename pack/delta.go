package pack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidDelta is returned when a delta instruction stream is malformed.
	ErrInvalidDelta = errors.New("pack: invalid delta instruction stream")
	// ErrDeltaSizeMismatch is returned when applying a delta produces a result
	// whose size does not match the size recorded in the delta header.
	ErrDeltaSizeMismatch = errors.New("pack: delta result size mismatch")
)

// readDeltaHeaderSize reads one of the two size varints (source size,
// target size) at the start of a delta instruction stream: 7 bits per
// byte, least-significant first, continuation bit in the high bit.
func readDeltaHeaderSize(b []byte) (size uint64, rest []byte, err error) {
	var shift uint
	for i, c := range b {
		size |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return size, b[i+1:], nil
		}
		shift += 7
	}
	return 0, nil, fmt.Errorf("%w: truncated size varint", ErrInvalidDelta)
}

// ApplyDelta reconstructs a target object from base and a delta instruction
// stream produced by Git (as stored, un-deltified, for an OfsDelta or
// RefDelta pack entry). It implements the two delta opcodes: copy-from-base
// and insert-literal.
func ApplyDelta(base, delta []byte) ([]byte, error) {
	srcSize, rest, err := readDeltaHeaderSize(delta)
	if err != nil {
		return nil, err
	}
	if uint64(len(base)) != srcSize {
		return nil, fmt.Errorf("%w: base size %d != delta source size %d", ErrDeltaSizeMismatch, len(base), srcSize)
	}
	targetSize, rest, err := readDeltaHeaderSize(rest)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, targetSize)
	for len(rest) > 0 {
		op := rest[0]
		rest = rest[1:]

		switch {
		case op&0x80 != 0:
			// Copy-from-base: the low 7 bits of op select which of the
			// following 4 offset bytes and 3 size bytes are present.
			var offset, size uint32
			for i := uint(0); i < 4; i++ {
				if op&(1<<i) != 0 {
					if len(rest) == 0 {
						return nil, fmt.Errorf("%w: truncated copy offset", ErrInvalidDelta)
					}
					offset |= uint32(rest[0]) << (8 * i)
					rest = rest[1:]
				}
			}
			for i := uint(0); i < 3; i++ {
				if op&(1<<(4+i)) != 0 {
					if len(rest) == 0 {
						return nil, fmt.Errorf("%w: truncated copy size", ErrInvalidDelta)
					}
					size |= uint32(rest[0]) << (8 * i)
					rest = rest[1:]
				}
			}
			if size == 0 {
				size = 0x10000
			}
			if uint64(offset)+uint64(size) > uint64(len(base)) {
				return nil, fmt.Errorf("%w: copy instruction out of bounds", ErrInvalidDelta)
			}
			out = append(out, base[offset:offset+size]...)

		case op != 0:
			// Insert-literal: op is the number of literal bytes that follow.
			n := int(op)
			if len(rest) < n {
				return nil, fmt.Errorf("%w: truncated literal insert", ErrInvalidDelta)
			}
			out = append(out, rest[:n]...)
			rest = rest[n:]

		default:
			return nil, fmt.Errorf("%w: reserved opcode 0", ErrInvalidDelta)
		}
	}

	if uint64(len(out)) != targetSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrDeltaSizeMismatch, len(out), targetSize)
	}
	return out, nil
}

// DeltaTargetSize returns the target (post-application) size recorded in a
// delta instruction stream's header, without applying it.
func DeltaTargetSize(delta []byte) (int64, error) {
	_, rest, err := readDeltaHeaderSize(delta)
	if err != nil {
		return 0, err
	}
	size, _, err := readDeltaHeaderSize(rest)
	if err != nil {
		return 0, err
	}
	return int64(size), nil
}

// readAll drains r fully, used when a caller has an io.Reader of inflated
// delta or base bytes rather than a []byte already in memory.
func readAll(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
