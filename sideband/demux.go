// Package sideband demultiplexes the three side-band-64k channels Git
// multiplexes onto a single pkt-line stream during fetch and push: pack
// data, progress messages, and a fatal error that aborts the stream.
package sideband

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/nanogit/gitcore/log"
	"github.com/nanogit/gitcore/protocol"
)

// Channel identifies which of the three side-band streams a packet
// belongs to.
type Channel byte

const (
	// ChannelData carries packfile bytes.
	ChannelData Channel = 1
	// ChannelProgress carries human-readable progress text, normally
	// forwarded to the user's logger rather than consumed by callers.
	ChannelProgress Channel = 2
	// ChannelFatal carries a fatal error message; its arrival means the
	// remote is about to close the stream.
	ChannelFatal Channel = 3
)

// ErrFatal wraps a message received on the fatal channel.
type ErrFatal struct {
	Message string
}

func (e *ErrFatal) Error() string {
	return fmt.Sprintf("remote reported a fatal error: %s", e.Message)
}

// Demux reads pkt-lines from r, treating each line's first byte as a
// Channel selector, and writes the channel-1 payload to data as it arrives.
// Channel-2 lines are logged at Debug via the logger in ctx. A channel-3
// line is converted into an *ErrFatal and returned immediately, since it
// signals the remote is aborting.
//
// Demux runs the read loop and the data writes in separate goroutines of
// an errgroup, joined by an io.Pipe. The pipe has no buffer, so each
// channel-1 write waits until data has taken the bytes, and a slow data
// consumer slows the read loop down with it.
func Demux(ctx context.Context, r io.Reader, data io.Writer) error {
	logger := log.FromContextOrNoop(ctx)
	pr := protocol.NewPktLineReader(r)

	pipeR, pipeW := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		_, err := io.Copy(data, pipeR)
		if err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		defer pipeW.Close()
		for {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			payload, kind, err := pr.Next()
			if err != nil {
				return err
			}
			switch kind {
			case protocol.PktLineEOF, protocol.PktLineFlush:
				return nil
			case protocol.PktLineDelim, protocol.PktLineResponseEnd:
				continue
			}

			if len(payload) == 0 {
				continue
			}
			switch Channel(payload[0]) {
			case ChannelData:
				if _, err := pipeW.Write(payload[1:]); err != nil {
					return err
				}
			case ChannelProgress:
				logger.Debug("remote progress", "message", string(payload[1:]))
			case ChannelFatal:
				return &ErrFatal{Message: string(payload[1:])}
			default:
				// Not a recognized side-band-64k channel byte; some servers
				// send unprefixed lines outside of a multiplexed section.
				// Treat the whole payload as data to stay permissive.
				if _, err := pipeW.Write(payload); err != nil {
					return err
				}
			}
		}
	})

	return g.Wait()
}
