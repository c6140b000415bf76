package protocol

import (
	"context"
	"fmt"
	"io"

	"github.com/nanogit/gitcore/log"
)

// ParseLsRefsResponse parses a protocol v2 ls-refs command response: one
// pkt-line per ref, terminated by a flush-pkt. Lines with an empty ref
// name (an unborn HEAD on a server without the unborn capability, say)
// are dropped.
func ParseLsRefsResponse(ctx context.Context, reader io.ReadCloser) ([]RefLine, error) {
	logger := log.FromContextOrNoop(ctx)
	defer reader.Close()

	pr := NewPktLineReader(reader)
	refs := make([]RefLine, 0)
	for {
		payload, kind, err := pr.Next()
		if err != nil {
			return nil, fmt.Errorf("protocol: parsing ls-refs response: %w", err)
		}
		switch kind {
		case PktLineEOF, PktLineFlush:
			return refs, nil
		case PktLineDelim, PktLineResponseEnd:
			continue
		}

		logger.Debug("ls-refs line", "payload", string(payload))
		ref, err := ParseRefLine(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: parsing ls-refs response: %w", err)
		}
		if ref.RefName != "" {
			refs = append(refs, ref)
		}
	}
}
