package storage

import (
	"context"
	"fmt"

	"github.com/nanogit/gitcore/protocol/hash"
	"github.com/nanogit/gitcore/protocol/object"
)

// commitParents inflates oid as a commit (following a tag chain first, if
// it points at one) and returns its parent oids.
func commitParents(ctx context.Context, store ObjectStore, oid hash.Hash) ([]hash.Hash, error) {
	target, err := peelToCommit(ctx, store, oid)
	if err != nil {
		return nil, err
	}
	obj, err := store.Get(ctx, target)
	if err != nil {
		return nil, err
	}
	c, err := object.ParseCommit(obj.Content)
	if err != nil {
		return nil, fmt.Errorf("storage: parsing commit %s: %w", target, err)
	}
	parents := make([]hash.Hash, 0, len(c.Parents))
	for _, p := range c.Parents {
		h, err := hash.FromHex(p)
		if err != nil {
			return nil, fmt.Errorf("storage: parsing parent oid of %s: %w", target, err)
		}
		parents = append(parents, h)
	}
	return parents, nil
}

// peelToCommit follows a chain of annotated tags until it reaches the
// commit (or other non-tag object) they ultimately point at.
func peelToCommit(ctx context.Context, store ObjectStore, oid hash.Hash) (hash.Hash, error) {
	for {
		obj, err := store.Get(ctx, oid)
		if err != nil {
			return nil, err
		}
		if obj.Type != object.TypeTag {
			return oid, nil
		}
		tag, err := object.ParseTag(obj.Content)
		if err != nil {
			return nil, fmt.Errorf("storage: parsing tag %s: %w", oid, err)
		}
		next, err := hash.FromHex(tag.Object)
		if err != nil {
			return nil, fmt.Errorf("storage: parsing tag %s target: %w", oid, err)
		}
		oid = next
	}
}

// Graph implements CommitGraph over any ObjectStore by decoding commit,
// tag, and tree objects as it walks. It holds no state of its own, so a
// Graph can be constructed on the fly around whatever store a caller has.
type Graph struct {
	Objects ObjectStore
}

// IsAncestor implements CommitGraph by breadth-first-walking oid's parents
// until ancestor is found or the walk exhausts.
func (g Graph) IsAncestor(ctx context.Context, oid, ancestor hash.Hash) (bool, error) {
	if hash.Zero.Is(ancestor) {
		return false, nil
	}
	if oid.Is(ancestor) {
		return true, nil
	}
	queue := []hash.Hash{oid}
	seen := map[string]bool{oid.String(): true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		parents, err := commitParents(ctx, g.Objects, cur)
		if err != nil {
			return false, err
		}
		for _, p := range parents {
			if p.Is(ancestor) {
				return true, nil
			}
			if seen[p.String()] {
				continue
			}
			seen[p.String()] = true
			queue = append(queue, p)
		}
	}
	return false, nil
}

// FindMergeBase implements CommitGraph: it collects every commit reachable
// from oids[0], then walks the remaining oids' ancestry, keeping only
// commits common to all of them, and finally drops any common commit that
// is itself an ancestor of another common commit (so only the "best",
// most-recent common ancestors remain).
func (g Graph) FindMergeBase(ctx context.Context, oids []hash.Hash) ([]hash.Hash, error) {
	if len(oids) == 0 {
		return nil, nil
	}
	common, err := ancestorSet(ctx, g.Objects, oids[0])
	if err != nil {
		return nil, err
	}
	for _, oid := range oids[1:] {
		set, err := ancestorSet(ctx, g.Objects, oid)
		if err != nil {
			return nil, err
		}
		for k := range common {
			if !set[k] {
				delete(common, k)
			}
		}
	}

	var bases []hash.Hash
outer:
	for k := range common {
		oid, err := hash.FromHex(k)
		if err != nil {
			return nil, err
		}
		for other := range common {
			if other == k {
				continue
			}
			otherOID, err := hash.FromHex(other)
			if err != nil {
				return nil, err
			}
			isAncestor, err := g.IsAncestor(ctx, otherOID, oid)
			if err != nil {
				return nil, err
			}
			if isAncestor {
				continue outer
			}
		}
		bases = append(bases, oid)
	}
	return bases, nil
}

// ancestorSet returns oid and every commit reachable from it, keyed by hex
// oid string.
func ancestorSet(ctx context.Context, store ObjectStore, oid hash.Hash) (map[string]bool, error) {
	set := map[string]bool{oid.String(): true}
	queue := []hash.Hash{oid}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		parents, err := commitParents(ctx, store, cur)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			if set[p.String()] {
				continue
			}
			set[p.String()] = true
			queue = append(queue, p)
		}
	}
	return set, nil
}

// ListCommitsAndTags implements CommitGraph: every commit/tag reachable
// from start, minus everything reachable from finish.
func (g Graph) ListCommitsAndTags(ctx context.Context, start, finish []hash.Hash) (map[string]hash.Hash, error) {
	exclude := map[string]bool{}
	for _, oid := range finish {
		set, err := ancestorSet(ctx, g.Objects, oid)
		if err != nil {
			return nil, err
		}
		for k := range set {
			exclude[k] = true
		}
	}

	result := make(map[string]hash.Hash)
	seen := map[string]bool{}
	var queue []hash.Hash
	queue = append(queue, start...)
	for _, oid := range start {
		seen[oid.String()] = true
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if !exclude[cur.String()] {
			result[cur.String()] = cur
		}
		parents, err := commitParents(ctx, g.Objects, cur)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			if seen[p.String()] {
				continue
			}
			seen[p.String()] = true
			queue = append(queue, p)
		}
	}
	return result, nil
}

// ListReachableObjects implements CommitGraph: every commit, tag, tree, and
// blob reachable from oids.
func (g Graph) ListReachableObjects(ctx context.Context, oids []hash.Hash) (map[string]hash.Hash, error) {
	result := make(map[string]hash.Hash)
	seen := map[string]bool{}
	var queue []hash.Hash
	queue = append(queue, oids...)
	for _, oid := range oids {
		seen[oid.String()] = true
	}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		result[cur.String()] = cur

		obj, err := g.Objects.Get(ctx, cur)
		if err != nil {
			return nil, err
		}

		var next []string
		switch obj.Type {
		case object.TypeCommit:
			c, err := object.ParseCommit(obj.Content)
			if err != nil {
				return nil, fmt.Errorf("storage: parsing commit %s: %w", cur, err)
			}
			next = append(next, c.Tree)
			next = append(next, c.Parents...)
		case object.TypeTag:
			t, err := object.ParseTag(obj.Content)
			if err != nil {
				return nil, fmt.Errorf("storage: parsing tag %s: %w", cur, err)
			}
			next = append(next, t.Object)
		case object.TypeTree:
			entries, err := object.ParseTree(obj.Content, len(cur))
			if err != nil {
				return nil, fmt.Errorf("storage: parsing tree %s: %w", cur, err)
			}
			for _, e := range entries {
				next = append(next, e.OID)
			}
		case object.TypeBlob:
			// No further references.
		}

		for _, n := range next {
			if seen[n] {
				continue
			}
			seen[n] = true
			h, err := hash.FromHex(n)
			if err != nil {
				return nil, fmt.Errorf("storage: parsing reference from %s: %w", cur, err)
			}
			queue = append(queue, h)
		}
	}
	return result, nil
}

// Memory's CommitGraph implementation is a Graph over itself.

func (m *Memory) IsAncestor(ctx context.Context, oid, ancestor hash.Hash) (bool, error) {
	return Graph{Objects: m}.IsAncestor(ctx, oid, ancestor)
}

func (m *Memory) FindMergeBase(ctx context.Context, oids []hash.Hash) ([]hash.Hash, error) {
	return Graph{Objects: m}.FindMergeBase(ctx, oids)
}

func (m *Memory) ListCommitsAndTags(ctx context.Context, start, finish []hash.Hash) (map[string]hash.Hash, error) {
	return Graph{Objects: m}.ListCommitsAndTags(ctx, start, finish)
}

func (m *Memory) ListReachableObjects(ctx context.Context, oids []hash.Hash) (map[string]hash.Hash, error) {
	return Graph{Objects: m}.ListReachableObjects(ctx, oids)
}
