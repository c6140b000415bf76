package protocol

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// ParseUploadPackV1Response parses a protocol v1 upload-pack response to a
// request that ended with "done": zero or more "shallow"/"unshallow"
// lines, ACK/NAK negotiation lines, then the packfile. With side-band-64k
// negotiated the packfile arrives channel-multiplexed in further
// pkt-lines; without it, the pack is simply the rest of the byte stream.
//
// Only the final ACK (no trailing status word) or a NAK concludes
// negotiation; "ACK <oid> continue|common|ready" lines from a multi_ack
// server are recorded and skipped.
func ParseUploadPackV1Response(r io.Reader, sideBand bool) (*FetchResponse, error) {
	pr := NewPktLineReader(r)
	resp := &FetchResponse{}

	for {
		payload, kind, err := pr.Next()
		if err != nil {
			return nil, fmt.Errorf("protocol: parsing upload-pack response: %w", err)
		}
		switch kind {
		case PktLineEOF, PktLineFlush:
			// Stream ended before any pack: a nothing-to-send response.
			resp.Packfile = bytes.NewReader(nil)
			return resp, nil
		case PktLineDelim, PktLineResponseEnd:
			continue
		}

		line := strings.TrimSuffix(string(payload), "\n")
		switch {
		case strings.HasPrefix(line, "shallow "):
			oid := strings.TrimPrefix(line, "shallow ")
			if !validHexOID(oid) {
				return nil, NewPackParseError(payload, fmt.Errorf("invalid shallow oid %q", oid))
			}
			resp.Shallow = append(resp.Shallow, ShallowInfo{Shallowness: Shallow, Object: oid})
			continue
		case strings.HasPrefix(line, "unshallow "):
			oid := strings.TrimPrefix(line, "unshallow ")
			if !validHexOID(oid) {
				return nil, NewPackParseError(payload, fmt.Errorf("invalid unshallow oid %q", oid))
			}
			resp.Shallow = append(resp.Shallow, ShallowInfo{Shallowness: Unshallow, Object: oid})
			continue

		case line == "NAK":
			resp.Acks.Nack = true

		case strings.HasPrefix(line, "ACK "):
			fields := strings.Fields(line)
			if len(fields) < 2 || !validHexOID(fields[1]) {
				return nil, NewPackParseError(payload, fmt.Errorf("invalid ACK line %q", line))
			}
			resp.Acks.Acks = append(resp.Acks.Acks, fields[1])
			if len(fields) > 2 {
				// multi_ack status; negotiation continues.
				continue
			}

		default:
			continue
		}

		// NAK or final ACK: the packfile starts here. The pkt-line reader
		// never consumes past the frames it returned, so r now sits at the
		// first pack byte (or its side-band framing).
		if sideBand {
			resp.Packfile = &PackfileReader{pr: pr}
		} else {
			resp.Packfile = r
		}
		return resp, nil
	}
}

// validHexOID reports whether s is a well-formed lowercase hex object id
// of either supported hash width.
func validHexOID(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
