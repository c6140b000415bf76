package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"

	"github.com/nanogit/gitcore/protocol"
	"github.com/nanogit/gitcore/retry"
)

// DefaultGitPort is the TCP port the git:// daemon listens on.
// https://git-scm.com/docs/git-daemon
const DefaultGitPort = "9418"

// tcpBackend implements Backend over the git:// anonymous daemon protocol.
// Unlike HTTP, the daemon speaks one persistent connection per logical
// session: the connect request line itself doubles as the capability/ref
// advertisement trigger, and every later UploadPack/ReceivePack command on
// the same backend instance must reuse that same socket (§4.4.2) rather
// than open a new one.
type tcpBackend struct {
	addr string
	host string
	path string

	mu                   sync.Mutex
	conn                 net.Conn
	service              string
	advertisementPending bool
}

func dialTCP(_ context.Context, u *url.URL, opts ...Option) (Backend, error) {
	if _, err := newConfig(opts); err != nil {
		return nil, err
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), DefaultGitPort)
	}
	return &tcpBackend{addr: host, host: u.Hostname(), path: u.Path}, nil
}

// ensureConn lazily dials the daemon connection and sends the connect
// request line for service. It is a no-op once a connection for the same
// service already exists; callers only ever switch services within one
// backend instance between independent fetch/push operations against a
// freshly dialed backend, so this never needs to redial mid-operation.
func (b *tcpBackend) ensureConn(ctx context.Context, service string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return nil
	}

	conn, err := retry.Do(ctx, func() (net.Conn, error) {
		var d net.Dialer
		c, err := d.DialContext(ctx, "tcp", b.addr)
		if err != nil {
			return nil, fmt.Errorf("transport: dialing %s: %w", b.addr, err)
		}
		return c, nil
	})
	if err != nil {
		return err
	}

	reqLine := fmt.Sprintf("%s %s\x00host=%s\x00\x00version=2\x00", service, b.path, b.host)
	pkt, err := protocol.FormatPacks(protocol.PackLine(reqLine))
	if err != nil {
		conn.Close()
		return err
	}
	if _, err := conn.Write(pkt); err != nil {
		conn.Close()
		return fmt.Errorf("transport: sending request line: %w", err)
	}

	b.conn = conn
	b.service = service
	b.advertisementPending = true
	return nil
}

// discardAdvertisement drains the capability/ref advertisement pkt-lines
// the daemon sends immediately after the connect request line, so that a
// later command's response starts reading from the first byte of its own
// reply rather than the leftover advertisement (§4.4.2).
func discardAdvertisement(r io.Reader) error {
	pr := protocol.NewPktLineReader(r)
	for {
		_, kind, err := pr.Next()
		if err != nil {
			return fmt.Errorf("transport: discarding advertisement: %w", err)
		}
		if kind == protocol.PktLineFlush || kind == protocol.PktLineEOF {
			return nil
		}
	}
}

// command writes body (if any) over the shared connection, first draining
// any still-pending ref advertisement, and returns a reader over the
// remainder of the connection.
func (b *tcpBackend) command(ctx context.Context, service string, body io.Reader) (io.ReadCloser, error) {
	if err := b.ensureConn(ctx, service); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.advertisementPending {
		if err := discardAdvertisement(b.conn); err != nil {
			return nil, err
		}
		b.advertisementPending = false
	}

	if body != nil {
		if _, err := io.Copy(b.conn, body); err != nil {
			return nil, fmt.Errorf("transport: sending request body: %w", err)
		}
	}

	return io.NopCloser(b.conn), nil
}

// SmartInfo implements Backend. The git:// daemon has no separate
// discovery endpoint: connecting and sending the service command itself
// yields the capability/ref advertisement as the first thing in the
// response stream, so SmartInfo just needs the connection established and
// returns the raw advertisement bytes for the caller to read. It clears
// the pending-advertisement flag, so the next command does not run
// discardAdvertisement over them.
func (b *tcpBackend) SmartInfo(ctx context.Context, service string) (io.ReadCloser, error) {
	if err := b.ensureConn(ctx, service); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advertisementPending = false
	return io.NopCloser(b.conn), nil
}

// UploadPack implements Backend.
func (b *tcpBackend) UploadPack(ctx context.Context, request io.Reader) (io.ReadCloser, error) {
	return b.command(ctx, "git-upload-pack", request)
}

// ReceivePack implements Backend.
func (b *tcpBackend) ReceivePack(ctx context.Context, request io.Reader) (io.ReadCloser, error) {
	return b.command(ctx, "git-receive-pack", request)
}

// Close releases the shared connection, if one was ever established.
func (b *tcpBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}
