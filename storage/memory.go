package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nanogit/gitcore/pack"
	"github.com/nanogit/gitcore/protocol/hash"
)

// MemoryOption configures a Memory store.
type MemoryOption func(*Memory)

// WithTTL evicts entries that haven't been read or written for longer than
// ttl. Without it, entries live for the lifetime of the store.
func WithTTL(ttl time.Duration) MemoryOption {
	return func(m *Memory) { m.ttl = ttl }
}

type memoryEntry struct {
	obj        *pack.Object
	lastAccess time.Time
}

// Memory is a process-local ObjectStore and RefStore, suitable for tests
// and for short-lived CLI invocations that don't need objects to outlive
// the process. It is safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	objects map[string]*memoryEntry
	refs    map[string]hash.Hash
	shallow map[string]hash.Hash
	remotes map[string]remoteConfig
	ttl     time.Duration
}

type remoteConfig struct {
	url      string
	refspecs []string
}

// NewMemory returns an empty Memory store. If ctx is cancelled, the
// background TTL sweeper (if any) stops.
func NewMemory(ctx context.Context, opts ...MemoryOption) *Memory {
	m := &Memory{
		objects: make(map[string]*memoryEntry),
		refs:    make(map[string]hash.Hash),
		shallow: make(map[string]hash.Hash),
		remotes: make(map[string]remoteConfig),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.ttl > 0 {
		go m.sweep(ctx)
	}
	return m
}

func (m *Memory) sweep(ctx context.Context) {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.ttl)
			m.mu.Lock()
			for k, e := range m.objects {
				if e.lastAccess.Before(cutoff) {
					delete(m.objects, k)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Has implements ObjectStore.
func (m *Memory) Has(_ context.Context, oid hash.Hash) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[oid.String()]
	return ok, nil
}

// Get implements ObjectStore.
func (m *Memory) Get(_ context.Context, oid hash.Hash) (*pack.Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.objects[oid.String()]
	if !ok {
		return nil, fmt.Errorf("storage: object %s not found", oid)
	}
	e.lastAccess = time.Now()
	return e.obj, nil
}

// Put implements ObjectStore.
func (m *Memory) Put(_ context.Context, obj *pack.Object) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[obj.OID.String()] = &memoryEntry{obj: obj, lastAccess: time.Now()}
	return nil
}

// Len reports how many objects are currently stored.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

// Resolve implements RefStore.
func (m *Memory) Resolve(_ context.Context, name string) (hash.Hash, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	oid, ok := m.refs[name]
	return oid, ok, nil
}

// List implements RefStore.
func (m *Memory) List(_ context.Context, prefix string) (map[string]hash.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]hash.Hash)
	for name, oid := range m.refs {
		if len(name) >= len(prefix) && name[:len(prefix)] == prefix {
			out[name] = oid
		}
	}
	return out, nil
}

// ReadShallow implements ShallowStore.
func (m *Memory) ReadShallow(_ context.Context) ([]hash.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]hash.Hash, 0, len(m.shallow))
	for _, oid := range m.shallow {
		out = append(out, oid)
	}
	return out, nil
}

// WriteShallow implements ShallowStore.
func (m *Memory) WriteShallow(_ context.Context, shallow []hash.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shallow = make(map[string]hash.Hash, len(shallow))
	for _, oid := range shallow {
		m.shallow[oid.String()] = oid
	}
	return nil
}

// Update implements RefStore. Since Memory holds everything under a
// single mutex, the batch is applied atomically with respect to any
// concurrent Resolve/List/Update call.
func (m *Memory) Update(_ context.Context, updates []RefUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range updates {
		current, exists := m.refs[u.Name]
		switch {
		case u.Old.String() == hash.Zero.String() && exists:
			return fmt.Errorf("storage: ref %s already exists", u.Name)
		case u.Old.String() != hash.Zero.String() && (!exists || !current.Is(u.Old)):
			return fmt.Errorf("storage: ref %s changed concurrently (expected %s)", u.Name, u.Old)
		}
	}
	for _, u := range updates {
		if u.New.String() == hash.Zero.String() {
			delete(m.refs, u.Name)
			continue
		}
		m.refs[u.Name] = u.New
	}
	return nil
}

// SetRemote records a remote's URL and fetch refspecs, read back through
// the Config port.
func (m *Memory) SetRemote(remote, url string, refspecs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remotes[remote] = remoteConfig{url: url, refspecs: refspecs}
}

// RemoteURL implements Config.
func (m *Memory) RemoteURL(_ context.Context, remote string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.remotes[remote]
	if !ok || rc.url == "" {
		return "", fmt.Errorf("storage: remote %q has no configured URL", remote)
	}
	return rc.url, nil
}

// FetchRefspecs implements Config.
func (m *Memory) FetchRefspecs(_ context.Context, remote string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.remotes[remote]
	if !ok {
		return nil, fmt.Errorf("storage: remote %q is not configured", remote)
	}
	return append([]string(nil), rc.refspecs...), nil
}
