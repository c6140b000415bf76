// Package gitdir backs the storage ports with a plain .git directory:
// objects are read out of objects/pack/pack-*.{pack,idx} on demand, refs
// are loose files under refs/, and the shallow boundary set is the
// newline-delimited shallow file. Objects written during an operation are
// held in memory; the fetched pack itself is persisted separately by the
// command that ran the fetch.
package gitdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nanogit/gitcore/pack"
	"github.com/nanogit/gitcore/protocol/hash"
	"github.com/nanogit/gitcore/protocol/object"
	"github.com/nanogit/gitcore/storage"
)

type packSource struct {
	idx    *pack.Index
	reader *pack.PackReader
}

// Store reads objects from the packs already on disk and refs from loose
// ref files. It implements storage.ObjectStore, storage.RefStore,
// storage.ShallowStore, and (via storage.Graph) storage.CommitGraph.
type Store struct {
	dir   string
	mem   *storage.Memory
	packs []packSource
}

// Open scans gitDir/objects/pack for pack indexes and prepares readers for
// each. Indexes already present in cache are reused rather than re-parsed.
func Open(ctx context.Context, gitDir string, cache *pack.IndexCache) (*Store, error) {
	s := &Store{dir: gitDir, mem: storage.NewMemory(ctx)}

	idxPaths, err := filepath.Glob(filepath.Join(gitDir, "objects", "pack", "pack-*.idx"))
	if err != nil {
		return nil, err
	}
	for _, idxPath := range idxPaths {
		idx, ok := cache.Get(idxPath)
		if !ok {
			f, err := os.Open(idxPath)
			if err != nil {
				return nil, fmt.Errorf("gitdir: opening %s: %w", idxPath, err)
			}
			idx, err = pack.ReadIndexV2(f, oidSizeFromName(idxPath))
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("gitdir: parsing %s: %w", idxPath, err)
			}
			idx = cache.Put(idxPath, idx)
		}

		packPath := strings.TrimSuffix(idxPath, ".idx") + ".pack"
		data, err := os.ReadFile(packPath)
		if err != nil {
			return nil, fmt.Errorf("gitdir: reading %s: %w", packPath, err)
		}
		s.packs = append(s.packs, packSource{
			idx:    idx,
			reader: pack.NewPackReader(data, idx, s.findBase),
		})
	}
	return s, nil
}

// oidSizeFromName infers the oid width from the hex checksum embedded in
// the pack file name: pack-<40 hex>.idx is SHA-1, pack-<64 hex>.idx SHA-256.
func oidSizeFromName(idxPath string) int {
	name := strings.TrimSuffix(filepath.Base(idxPath), ".idx")
	if len(strings.TrimPrefix(name, "pack-")) == 64 {
		return 32
	}
	return 20
}

// findBase resolves a ref-delta base that lives outside the pack asking
// for it: another pack on disk, or an object written this session.
func (s *Store) findBase(oid hash.Hash) ([]byte, object.Type, bool) {
	for _, p := range s.packs {
		if _, ok := p.idx.Find(oid); !ok {
			continue
		}
		obj, err := p.reader.Object(oid)
		if err != nil {
			continue
		}
		return obj.Content, obj.Type, true
	}
	if obj, err := s.mem.Get(context.Background(), oid); err == nil {
		return obj.Content, obj.Type, true
	}
	return nil, 0, false
}

// Has implements storage.ObjectStore.
func (s *Store) Has(ctx context.Context, oid hash.Hash) (bool, error) {
	if ok, _ := s.mem.Has(ctx, oid); ok {
		return true, nil
	}
	for _, p := range s.packs {
		if _, ok := p.idx.Find(oid); ok {
			return true, nil
		}
	}
	return false, nil
}

// Get implements storage.ObjectStore.
func (s *Store) Get(ctx context.Context, oid hash.Hash) (*pack.Object, error) {
	if obj, err := s.mem.Get(ctx, oid); err == nil {
		return obj, nil
	}
	for _, p := range s.packs {
		if _, ok := p.idx.Find(oid); !ok {
			continue
		}
		return p.reader.Object(oid)
	}
	return nil, fmt.Errorf("%w: %s", pack.ErrObjectMissing, oid)
}

// Put implements storage.ObjectStore. Objects land in memory; durability
// comes from the pack file the enclosing command writes afterwards.
func (s *Store) Put(ctx context.Context, obj *pack.Object) error {
	return s.mem.Put(ctx, obj)
}

// Resolve implements storage.RefStore by reading the loose ref file,
// following a single "ref: " indirection (HEAD).
func (s *Store) Resolve(ctx context.Context, name string) (hash.Hash, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(name)))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("gitdir: reading ref %s: %w", name, err)
	}
	content := strings.TrimSpace(string(data))
	if target, ok := strings.CutPrefix(content, "ref: "); ok {
		return s.Resolve(ctx, target)
	}
	oid, err := hash.FromHex(content)
	if err != nil {
		return nil, false, fmt.Errorf("gitdir: ref %s does not contain an oid: %w", name, err)
	}
	return oid, true, nil
}

// List implements storage.RefStore by walking the directory prefix names.
func (s *Store) List(_ context.Context, prefix string) (map[string]hash.Hash, error) {
	out := make(map[string]hash.Hash)
	root := filepath.Join(s.dir, filepath.FromSlash(prefix))
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		oid, err := hash.FromHex(strings.TrimSpace(string(data)))
		if err != nil {
			return nil
		}
		out[name] = oid
		return nil
	})
	if os.IsNotExist(err) {
		return out, nil
	}
	return out, err
}

// Update implements storage.RefStore. Each update is applied as a write
// (or remove) of the loose ref file; the batch is not atomic across
// process crashes, matching what loose refs can promise.
func (s *Store) Update(_ context.Context, updates []storage.RefUpdate) error {
	for _, u := range updates {
		path := filepath.Join(s.dir, filepath.FromSlash(u.Name))
		if hash.Zero.Is(u.New) {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("gitdir: deleting ref %s: %w", u.Name, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("gitdir: creating ref directory for %s: %w", u.Name, err)
		}
		if err := os.WriteFile(path, []byte(u.New.String()+"\n"), 0o644); err != nil {
			return fmt.Errorf("gitdir: writing ref %s: %w", u.Name, err)
		}
	}
	return nil
}

// ReadShallow implements storage.ShallowStore: one oid per line; a missing
// file is the empty set.
func (s *Store) ReadShallow(_ context.Context) ([]hash.Hash, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "shallow"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []hash.Hash
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		oid, err := hash.FromHex(line)
		if err != nil {
			return nil, fmt.Errorf("gitdir: parsing shallow entry %q: %w", line, err)
		}
		out = append(out, oid)
	}
	return out, nil
}

// WriteShallow implements storage.ShallowStore. An empty set removes the
// file entirely.
func (s *Store) WriteShallow(_ context.Context, shallow []hash.Hash) error {
	path := filepath.Join(s.dir, "shallow")
	if len(shallow) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	var b strings.Builder
	for _, oid := range shallow {
		b.WriteString(oid.String())
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}
