// Package transport defines the Backend port that fetch/push orchestration
// talks to, and ships concrete backends for the smart-HTTP, git:// daemon,
// and SSH remote protocols. Dumb-HTTP is intentionally not a backend here:
// it is read-only, has no protocol v2 capability negotiation, and is
// explicitly out of scope as a primary transport.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

// ErrUnsupportedScheme is returned by Dial when no registered Backend
// constructor recognizes the remote URL's scheme.
var ErrUnsupportedScheme = errors.New("transport: unsupported remote URL scheme")

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -o ../mocks/backend.go . Backend

// Backend is the port fetch/push orchestration uses to exchange protocol
// v2 command requests with a remote. It abstracts over smart-HTTP request
// framing, the git:// daemon's single persistent connection, and SSH's
// exec-a-command-then-speak-the-pack-protocol model, all of which end up
// exposing the same shape: send a request payload, get back a response
// stream, for each of the three protocol v2 services.
type Backend interface {
	// SmartInfo performs capability/ref advertisement discovery for the
	// named service ("git-upload-pack" or "git-receive-pack").
	SmartInfo(ctx context.Context, service string) (io.ReadCloser, error)
	// UploadPack sends a protocol v2 command request (ls-refs, fetch) to
	// the git-upload-pack service and returns its response stream.
	UploadPack(ctx context.Context, request io.Reader) (io.ReadCloser, error)
	// ReceivePack sends ref update commands (and pack data) to the
	// git-receive-pack service and returns its response stream.
	ReceivePack(ctx context.Context, request io.Reader) (io.ReadCloser, error)
	// Close releases any held connection (TCP socket, SSH session). HTTP
	// backends may treat this as a no-op.
	Close() error
}

// Dialer constructs a Backend for a parsed remote URL.
type Dialer func(ctx context.Context, u *url.URL, opts ...Option) (Backend, error)

var dialers = map[string]Dialer{
	"http":  dialHTTP,
	"https": dialHTTP,
	"git":   dialTCP,
	"ssh":   dialSSH,
}

// Dial selects a Backend by the remote URL's scheme and dials it. An
// scp-style SSH URL (user@host:path, no scheme) should be normalized to
// ssh:// by the caller before reaching here; ParseRemoteURL does this.
func Dial(ctx context.Context, remote string, opts ...Option) (Backend, error) {
	u, err := ParseRemoteURL(remote)
	if err != nil {
		return nil, fmt.Errorf("transport: parsing remote URL: %w", err)
	}

	dialer, ok := dialers[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return dialer(ctx, u, opts...)
}

// ParseRemoteURL parses a Git remote URL, normalizing the scp-style SSH
// shorthand ("user@host:path/to/repo.git", no scheme, a colon instead of a
// slash before the path) into a proper ssh:// URL.
func ParseRemoteURL(remote string) (*url.URL, error) {
	if u, err := url.Parse(remote); err == nil && u.Scheme != "" && u.Host != "" {
		return u, nil
	}

	at := indexByte(remote, '@')
	colon := indexByte(remote, ':')
	if at >= 0 && colon > at {
		user := remote[:at]
		rest := remote[at+1:]
		colonInRest := indexByte(rest, ':')
		if colonInRest < 0 {
			return nil, fmt.Errorf("transport: %q looks like an scp-style SSH URL but has no path", remote)
		}
		host := rest[:colonInRest]
		path := rest[colonInRest+1:]
		return &url.URL{Scheme: "ssh", User: url.User(user), Host: host, Path: "/" + path}, nil
	}

	return nil, fmt.Errorf("transport: %q is not a recognized remote URL", remote)
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Registry caches dialed backends by normalized remote URL, so repeated
// operations against the same remote within one handle's lifetime share a
// backend (and, for the TCP and SSH backends, its underlying connection).
// It is a handle the caller threads through its operations rather than a
// process-wide map, for the same isolation reason as pack.IndexCache.
type Registry struct {
	mu       sync.Mutex
	backends map[string]Backend
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend)}
}

// normalizeRemoteURL is the Registry's cache key: the trimmed, lowercased
// remote URL. Lowercasing the path is safe as a cache key (two spellings
// of the same path on a case-sensitive server simply don't share a cached
// backend's URL, they share a connection to the same host).
func normalizeRemoteURL(remote string) string {
	return strings.ToLower(strings.TrimSpace(remote))
}

// Dial returns the cached backend for remote, dialing and caching one on
// first use. Options are applied only on the dialing call; later calls
// with different options still receive the cached backend.
func (r *Registry) Dial(ctx context.Context, remote string, opts ...Option) (Backend, error) {
	key := normalizeRemoteURL(remote)

	r.mu.Lock()
	backend, ok := r.backends[key]
	r.mu.Unlock()
	if ok {
		return backend, nil
	}

	backend, err := Dial(ctx, strings.TrimSpace(remote), opts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.backends[key]; ok {
		_ = backend.Close()
		return existing, nil
	}
	r.backends[key] = backend
	return backend, nil
}

// Close releases every cached backend, returning the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var first error
	for key, backend := range r.backends {
		if err := backend.Close(); err != nil && first == nil {
			first = err
		}
		delete(r.backends, key)
	}
	return first
}
