package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrInvalidFetchStatus is returned when a packfile-section line's leading
// stream code byte is not one of the three side-band-64k channels (1, 2, 3).
var ErrInvalidFetchStatus = errors.New("protocol: invalid fetch packfile stream code")

// FatalFetchError wraps the message carried on side-band channel 3 (fatal
// error) during the packfile section of a fetch response. It compares equal
// to itself under errors.Is, since the message itself identifies the error.
type FatalFetchError string

func (e FatalFetchError) Error() string { return string(e) }

// maxSectionHeaderLen bounds how long a line can be and still be considered
// for a v2 fetch response section header ("acknowledgments", "shallow-info",
// "wanted-refs", "packfile"). Longer lines can't possibly be a header and
// are skipped rather than matched.
const maxSectionHeaderLen = 30

// PackfileReader streams the packfile section of a protocol v2 fetch
// response: a run of pkt-lines side-band-64k multiplexed exactly like
// upload-pack's side-band-64k capability in protocol v1. Channel 1 carries
// PACK bytes, channel 2 carries progress text (discarded here; callers that
// want it should use sideband.Demux instead, which surfaces it via the
// logger), and channel 3 carries a fatal error that aborts the stream.
type PackfileReader struct {
	pr      *PktLineReader
	pending []byte
}

// ReadObject returns the next chunk of raw PACK bytes, or an error. It
// returns io.EOF once the section's flush-pkt is reached. The name predates
// this type only returning chunks rather than parsed objects; pack.Reader is
// responsible for framing actual objects out of the byte stream this
// produces.
func (p *PackfileReader) ReadObject() ([]byte, error) {
	for {
		payload, kind, err := p.pr.Next()
		if err != nil {
			return nil, err
		}
		switch kind {
		case PktLineFlush, PktLineEOF:
			return nil, io.EOF
		case PktLineDelim, PktLineResponseEnd:
			continue
		}
		if len(payload) == 0 {
			continue
		}
		switch payload[0] {
		case byte(sidebandData):
			return payload[1:], nil
		case byte(sidebandProgress):
			continue
		case byte(sidebandFatal):
			return nil, FatalFetchError(payload[1:])
		default:
			return nil, fmt.Errorf("%w: %d", ErrInvalidFetchStatus, payload[0])
		}
	}
}

// Read implements io.Reader over the concatenation of every ReadObject
// chunk, so a PackfileReader can be handed directly to pack.NewReader.
func (p *PackfileReader) Read(out []byte) (int, error) {
	for len(p.pending) == 0 {
		chunk, err := p.ReadObject()
		if err != nil {
			return 0, err
		}
		p.pending = chunk
	}
	n := copy(out, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// The side-band-64k stream codes, duplicated from package sideband to avoid
// an import cycle (sideband demuxes the v1 wire form of the same channels;
// this file demuxes the v2 fetch-response-embedded form).
const (
	sidebandData     = 1
	sidebandProgress = 2
	sidebandFatal    = 3
)

// ParseFetchResponse reads a complete protocol v2 "fetch" command response:
// zero or more of the acknowledgments/shallow-info/wanted-refs sections, each
// introduced by its own header line and parsed into the corresponding
// FetchResponse field, followed by the packfile section.
//
// Packfile is always non-nil, even if the response never reaches a "packfile"
// section header: callers that only care about wants/haves resolution (e.g. a
// server responding before 'done' with just an acknowledgments section) get a
// PackfileReader that returns io.EOF immediately.
func ParseFetchResponse(r io.Reader) (*FetchResponse, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("protocol: reading fetch response: %w", err)
	}

	resp := &FetchResponse{}
	reader := bytes.NewReader(data)
	pr := NewPktLineReader(reader)

	var section string
	for {
		payload, kind, err := pr.Next()
		if err != nil {
			return nil, fmt.Errorf("protocol: parsing fetch response: %w", err)
		}
		after := reader.Len()
		switch kind {
		case PktLineFlush, PktLineEOF:
			resp.Packfile = &PackfileReader{pr: NewPktLineReader(bytes.NewReader(nil))}
			return resp, nil
		case PktLineDelim, PktLineResponseEnd:
			// A delim-pkt ends the current section; the next line (if any)
			// is the header of the following one.
			section = ""
			continue
		}

		line := string(bytes.TrimSuffix(payload, []byte("\n")))

		if section == "" && len(line) <= maxSectionHeaderLen {
			switch line {
			case "acknowledgments", "shallow-info", "wanted-refs":
				section = line
				continue
			case "packfile":
				// Everything from here to the end of data is the side-band
				// multiplexed packfile section; hand it to a fresh reader
				// over the remaining bytes so PackfileReader's pkt-line
				// parsing starts exactly where the "packfile" header line
				// ended.
				resp.Packfile = &PackfileReader{pr: NewPktLineReader(bytes.NewReader(data[len(data)-after:]))}
				return resp, nil
			}
		}

		switch section {
		case "acknowledgments":
			switch {
			case line == "NAK":
				resp.Acks.Nack = true
			case line == "ready":
				// The server is ready to send a packfile without further
				// negotiation; no FetchResponse field tracks this
				// separately since the packfile section that follows
				// already implies it.
			case strings.HasPrefix(line, "ACK "):
				resp.Acks.Acks = append(resp.Acks.Acks, strings.TrimPrefix(line, "ACK "))
			}
		case "shallow-info":
			switch {
			case strings.HasPrefix(line, "shallow "):
				resp.Shallow = append(resp.Shallow, ShallowInfo{Shallowness: Shallow, Object: strings.TrimPrefix(line, "shallow ")})
			case strings.HasPrefix(line, "unshallow "):
				resp.Shallow = append(resp.Shallow, ShallowInfo{Shallowness: Unshallow, Object: strings.TrimPrefix(line, "unshallow ")})
			}
		case "wanted-refs":
			fields := strings.SplitN(line, " ", 2)
			if len(fields) == 2 {
				rn, err := ParseRefName(fields[1])
				if err != nil {
					rn = RefName{FullName: fields[1]}
				}
				resp.WantedRefs = append(resp.WantedRefs, WantedRef{Object: fields[0], RefName: rn})
			}
		}
		// A line outside any recognized section (section == "" and the
		// line didn't match a known header) carries no information this
		// core surfaces to callers and is skipped.
	}
}
