// Package protocol implements the Git wire protocol codecs this module's
// transport and orchestration layers speak: pkt-line framing, the v1 and
// v2 ref advertisements, ls-refs, the upload-pack and receive-pack
// request/response bodies, and the data model they exchange.
//
// Framing references:
//   - https://git-scm.com/docs/gitprotocol-common
//   - https://git-scm.com/docs/gitprotocol-pack
//   - https://git-scm.com/docs/protocol-v2
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	// PktLineLengthSize is the size of a pkt-line's length field: 4 ASCII
	// hex digits. The encoded length counts these 4 bytes, so a frame's
	// payload is length-4 bytes long.
	PktLineLengthSize = 4

	// MaxPktLineDataSize is the largest payload a single pkt-line may
	// carry. A longer message must be chunked by the sender; PackLine
	// refuses to marshal anything bigger.
	MaxPktLineDataSize = 65516

	// MaxPktLineSize is MaxPktLineDataSize plus the length field.
	MaxPktLineSize = MaxPktLineDataSize + PktLineLengthSize
)

// ErrDataTooLarge is returned when a payload exceeds MaxPktLineDataSize,
// either while marshalling a PackLine or when an incoming frame declares
// an impossible length.
var ErrDataTooLarge = errors.New("the data field is too large")

// Pack is one marshallable unit of a pkt-line stream: either a PackLine
// carrying data or one of the length-only SpecialPack sentinels.
type Pack interface {
	// Marshal renders the packet in its wire form.
	Marshal() ([]byte, error)
}

// PackLine is a regular data-bearing pkt-line. Payloads are arbitrary
// binary; a trailing LF is part of the payload, not the framing.
type PackLine []byte

var _ Pack = PackLine{}

// Marshal prepends the 4-hex-digit length field.
func (p PackLine) Marshal() ([]byte, error) {
	if len(p) > MaxPktLineDataSize {
		return nil, ErrDataTooLarge
	}
	out := make([]byte, len(p)+PktLineLengthSize)
	copy(out, fmt.Sprintf("%04x", len(p)+PktLineLengthSize))
	copy(out[PktLineLengthSize:], p)
	return out, nil
}

// SpecialPack is a payload-less control frame whose 4-byte encoding is
// fixed, so marshalling is the identity.
type SpecialPack string

var _ Pack = SpecialPack("")

// Marshal implements Pack.
func (p SpecialPack) Marshal() ([]byte, error) {
	return []byte(p), nil
}

const (
	// FlushPacket ("0000") ends a message, or a section of one in v1.
	FlushPacket = SpecialPack("0000")

	// DelimeterPacket ("0001") separates the sections of a protocol v2
	// command request or response.
	DelimeterPacket = SpecialPack("0001")

	// ResponseEndPacket ("0002") ends a v2 response delivered over a
	// stateless transport. Tolerated but never sent by this module.
	ResponseEndPacket = SpecialPack("0002")
)

// PackParseError reports a malformed pkt-line, carrying the offending
// bytes for diagnostics.
type PackParseError struct {
	Line []byte
	Err  error
}

func (e *PackParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("error parsing line %q", e.Line)
	}
	return fmt.Sprintf("error parsing line %q: %s", e.Line, e.Err.Error())
}

func (e *PackParseError) Unwrap() error {
	return e.Err
}

// NewPackParseError builds a PackParseError around the offending line.
func NewPackParseError(line []byte, err error) *PackParseError {
	return &PackParseError{
		Line: line,
		Err:  err,
	}
}

// FormatPacks renders a sequence of packets into one wire buffer,
// appending a FlushPacket if the sequence doesn't already contain one.
func FormatPacks(packs ...Pack) ([]byte, error) {
	var out bytes.Buffer
	flushed := false
	for _, pl := range packs {
		marshalled, err := pl.Marshal()
		if err != nil {
			return nil, err
		}
		out.Write(marshalled)

		if sp, ok := pl.(SpecialPack); ok && sp == FlushPacket {
			flushed = true
		}
	}
	if !flushed {
		out.Write([]byte(FlushPacket))
	}
	return out.Bytes(), nil
}

// PktLineKind identifies what a single PktLineReader.Next call produced.
type PktLineKind int

const (
	// PktLineData is a regular data packet.
	PktLineData PktLineKind = iota
	// PktLineFlush is a flush-pkt ("0000").
	PktLineFlush
	// PktLineDelim is a delim-pkt ("0001").
	PktLineDelim
	// PktLineResponseEnd is a response-end-pkt ("0002").
	PktLineResponseEnd
	// PktLineEOF signals a clean end of the underlying stream.
	PktLineEOF
)

// PktLineReader is an 8-bit-clean pkt-line reader: it makes no assumption
// about UTF-8 and preserves trailing LFs verbatim, leaving stripping to
// the caller. Each call to Next yields exactly one pkt-line, and the
// reader never consumes bytes past the frames it has returned, so a
// caller can switch to reading the raw remainder of the stream (a v1
// packfile, say) after the last control frame.
type PktLineReader struct {
	r   io.Reader
	buf [4]byte
}

// NewPktLineReader returns a PktLineReader that reads pkt-lines from r.
func NewPktLineReader(r io.Reader) *PktLineReader {
	return &PktLineReader{r: r}
}

// Next reads and returns the next pkt-line. On a malformed length field it
// returns a *PackParseError and the reader must not be used again. At the
// end of the underlying stream it returns (nil, PktLineEOF, nil).
func (pr *PktLineReader) Next() (payload []byte, kind PktLineKind, err error) {
	if _, err := io.ReadFull(pr.r, pr.buf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, PktLineEOF, nil
		}
		return nil, 0, NewPackParseError(pr.buf[:], fmt.Errorf("reading packet length: %w", err))
	}

	length, err := strconv.ParseUint(string(pr.buf[:]), 16, 16)
	if err != nil {
		return nil, 0, NewPackParseError(append([]byte(nil), pr.buf[:]...), fmt.Errorf("parsing line length: %w", err))
	}

	switch length {
	case 0:
		return nil, PktLineFlush, nil
	case 1:
		return nil, PktLineDelim, nil
	case 2:
		return nil, PktLineResponseEnd, nil
	case 3:
		return nil, 0, NewPackParseError(append([]byte(nil), pr.buf[:]...), errors.New("invalid pkt-line length 0003"))
	}

	if length > MaxPktLineSize {
		return nil, 0, NewPackParseError(append([]byte(nil), pr.buf[:]...), ErrDataTooLarge)
	}

	data := make([]byte, length-PktLineLengthSize)
	if _, err := io.ReadFull(pr.r, data); err != nil {
		// A frame that declares more bytes than the stream holds is a
		// truncation, never a clean end.
		return nil, 0, NewPackParseError(append([]byte(nil), pr.buf[:]...), fmt.Errorf("reading packet data: %w", eofIsUnexpected(err)))
	}
	return data, PktLineData, nil
}
