// Package storage defines the external ports this module depends on but
// does not implement: a durable Object Store, a Ref Store, and repository
// Config. Fetch and push orchestration is written entirely against these
// interfaces so callers can back them with whatever persistence layer they
// already have (on-disk loose objects, a KV store, a database).
//
// This package also ships a small in-memory adapter, used by tests and by
// CLI commands that don't need objects to outlive the process.
package storage

import (
	"context"

	"github.com/nanogit/gitcore/pack"
	"github.com/nanogit/gitcore/protocol/hash"
)

// ObjectStore is the port fetch/push orchestration uses to persist and
// look up Git objects. Implementations are expected to be content
// addressed: Put is idempotent, and Has/Get operate purely on oid.
type ObjectStore interface {
	// Has reports whether oid is already stored, letting fetch skip
	// objects the caller already has when building a thin-pack "have" set
	// or resolving REF_DELTA bases against existing history.
	Has(ctx context.Context, oid hash.Hash) (bool, error)
	// Get retrieves a previously stored object.
	Get(ctx context.Context, oid hash.Hash) (*pack.Object, error)
	// Put stores obj, returning nil if it already existed.
	Put(ctx context.Context, obj *pack.Object) error
}

// CommitGraph is the port push orchestration uses to reason about
// reachability and ancestry, matching the findMergeBase/isAncestor/
// listCommitsAndTags/listReachableObjects operations the Object Store port
// exposes. It is split out from ObjectStore so a store that only ever
// backs a fetch (pure content-addressed Has/Get/Put) isn't forced to
// implement graph walks it will never be asked to perform.
type CommitGraph interface {
	// IsAncestor reports whether ancestor is reachable from oid by
	// following commit parent links (including oid == ancestor).
	IsAncestor(ctx context.Context, oid, ancestor hash.Hash) (bool, error)
	// FindMergeBase returns the best common ancestor(s) of oids: every
	// commit reachable from all of them that is not itself an ancestor of
	// another candidate.
	FindMergeBase(ctx context.Context, oids []hash.Hash) ([]hash.Hash, error)
	// ListCommitsAndTags returns every commit and tag reachable from start
	// whose oid is not reachable from any oid in finish, keyed by oid hex
	// string (push uses this to compute what history it's introducing).
	ListCommitsAndTags(ctx context.Context, start, finish []hash.Hash) (map[string]hash.Hash, error)
	// ListReachableObjects returns every object (commits, tags, trees, and
	// blobs) reachable from oids, keyed by oid hex string.
	ListReachableObjects(ctx context.Context, oids []hash.Hash) (map[string]hash.Hash, error)
}

// ShallowStore is the port fetch uses to read and persist the shallow
// commit boundary set (§3 Shallow set): the commits a shallow clone or
// fetch truncated history at, which the next fetch against the same
// remote needs to know about to negotiate deepen/unshallow correctly. It
// is split out from RefStore, mirroring the CommitGraph split above, so a
// RefStore backing a full (non-shallow) clone isn't forced to implement
// it; fetch treats a nil ShallowStore as "this repository is never
// shallow."
type ShallowStore interface {
	// ReadShallow returns the current shallow boundary set.
	ReadShallow(ctx context.Context) ([]hash.Hash, error)
	// WriteShallow replaces the shallow boundary set in its entirety.
	WriteShallow(ctx context.Context, shallow []hash.Hash) error
}

// RefUpdate describes a single ref's desired change, used for updating
// remote-tracking refs after fetch and after a successful push.
type RefUpdate struct {
	Name string
	Old  hash.Hash // zero value means "ref must not already exist"
	New  hash.Hash // zero value means "delete the ref"
}

// RefStore is the port fetch uses to update remote-tracking refs (and
// FETCH_HEAD) and push uses to update the pushed ref's remote-tracking
// ref once the remote has accepted it.
type RefStore interface {
	// Resolve returns the oid a ref currently points to, or ok=false if
	// the ref does not exist.
	Resolve(ctx context.Context, name string) (oid hash.Hash, ok bool, err error)
	// List returns every ref matching prefix (e.g. "refs/remotes/origin/").
	List(ctx context.Context, prefix string) (map[string]hash.Hash, error)
	// Update applies a batch of ref changes atomically from the caller's
	// perspective: either all updates are visible or none are.
	Update(ctx context.Context, updates []RefUpdate) error
}

// Config is the port fetch/push read repository-level settings from:
// remote URLs and fetch refspecs. Auth callbacks are not part of it; they
// are a transport option (transport.WithAuthCallbacks). It deliberately excludes
// anything CLI-flag-shaped; that belongs to the caller's own configuration
// layer.
type Config interface {
	// RemoteURL returns the configured URL for a named remote (e.g. "origin").
	RemoteURL(ctx context.Context, remote string) (string, error)
	// FetchRefspecs returns the configured fetch refspecs for a remote, e.g.
	// "+refs/heads/*:refs/remotes/origin/*".
	FetchRefspecs(ctx context.Context, remote string) ([]string, error)
}
