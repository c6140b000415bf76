package protocol

import (
	"fmt"
	"io"
	"strings"
)

// ReceivePackUpdate is one ref update line in a receive-pack request:
// "<old> <new> <refname>", the old/new value pair being 40 (or 64) hex
// zeros for "doesn't exist".
type ReceivePackUpdate struct {
	OldOID  string
	NewOID  string
	RefName string
}

// BuildReceivePackRequest assembles a complete git-receive-pack request:
// one ref-update pkt-line per update (capabilities attached to the first,
// per protocol v1/v2 convention shared by receive-pack), a flush-pkt, and
// then the raw packfile bytes. Per §4.3.5, the packfile is omitted
// entirely when every update is a deletion (every NewOID is the zero oid),
// since the server has nothing to unpack in that case.
func BuildReceivePackRequest(updates []ReceivePackUpdate, caps []string, packData []byte, zeroOID string) ([]byte, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("protocol: receive-pack request needs at least one ref update")
	}

	var out []byte
	allDeletes := true
	for i, u := range updates {
		if u.NewOID != zeroOID {
			allDeletes = false
		}
		line := fmt.Sprintf("%s %s %s", u.OldOID, u.NewOID, u.RefName)
		if i == 0 && len(caps) > 0 {
			line += "\x00" + strings.Join(caps, " ")
		}
		line += "\n"
		pkt, err := PackLine(line).Marshal()
		if err != nil {
			return nil, fmt.Errorf("protocol: formatting ref update %q: %w", u.RefName, err)
		}
		out = append(out, pkt...)
	}
	out = append(out, []byte(FlushPacket)...)

	if !allDeletes {
		out = append(out, packData...)
	}
	return out, nil
}

// RefStatus is one ref's outcome as reported by receive-pack's
// report-status section: "ok <refname>" or "ng <refname> <reason>".
type RefStatus struct {
	RefName string
	OK      bool
	Reason  string
}

// ReceivePackResponse is the parsed result of a receive-pack request:
// whether the remote could unpack the pack it was sent, and each
// requested ref's individual outcome.
type ReceivePackResponse struct {
	// UnpackOK is false if the "unpack" line reported anything other than
	// "ok"; UnpackError then holds the reported reason.
	UnpackOK    bool
	UnpackError string
	Refs        []RefStatus
}

// OK reports the overall push result per §4.3.5: every ref must have
// reported ok, and the pack must have unpacked cleanly.
func (r *ReceivePackResponse) OK() bool {
	if !r.UnpackOK {
		return false
	}
	for _, rs := range r.Refs {
		if !rs.OK {
			return false
		}
	}
	return true
}

// ParseReceivePackResponse parses a report-status response: an "unpack"
// line, then one "ok"/"ng" line per requested ref, terminated by a
// flush-pkt. It assumes report-status (not report-status-v2 with its
// optional sideband-carried option lines) and a non-side-band-multiplexed
// stream; package push demuxes a side-band-64k response down to plain
// pkt-lines before calling it.
func ParseReceivePackResponse(r io.Reader) (*ReceivePackResponse, error) {
	pr := NewPktLineReader(r)
	resp := &ReceivePackResponse{}
	sawUnpack := false

	for {
		payload, kind, err := pr.Next()
		if err != nil {
			return nil, fmt.Errorf("protocol: parsing receive-pack response: %w", err)
		}
		switch kind {
		case PktLineEOF, PktLineFlush:
			if !sawUnpack {
				return nil, fmt.Errorf("protocol: receive-pack response missing \"unpack\" status line")
			}
			return resp, nil
		case PktLineDelim, PktLineResponseEnd:
			continue
		}

		line := strings.TrimSuffix(string(payload), "\n")
		switch {
		case !sawUnpack:
			rest, ok := strings.CutPrefix(line, "unpack ")
			if !ok {
				return nil, fmt.Errorf("protocol: receive-pack response: expected \"unpack\" line, got %q", line)
			}
			sawUnpack = true
			resp.UnpackOK = rest == "ok"
			if !resp.UnpackOK {
				resp.UnpackError = rest
			}
		case strings.HasPrefix(line, "ok "):
			resp.Refs = append(resp.Refs, RefStatus{RefName: strings.TrimPrefix(line, "ok "), OK: true})
		case strings.HasPrefix(line, "ng "):
			fields := strings.SplitN(strings.TrimPrefix(line, "ng "), " ", 2)
			rs := RefStatus{RefName: fields[0]}
			if len(fields) == 2 {
				rs.Reason = fields[1]
			}
			resp.Refs = append(resp.Refs, rs)
		default:
			return nil, fmt.Errorf("protocol: receive-pack response: unrecognized status line %q", line)
		}
	}
}
