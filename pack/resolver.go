package pack

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nanogit/gitcore/log"
	"github.com/nanogit/gitcore/protocol/hash"
	"github.com/nanogit/gitcore/protocol/object"
)

// ErrObjectSizeMismatch is returned when an object's inflated length does
// not match the size its pack record header declared.
var ErrObjectSizeMismatch = errors.New("pack: object size mismatch")

// Object is a fully resolved, non-deltified Git object: its type, its
// inflated content, and the oid the content hashes to.
type Object struct {
	OID     hash.Hash
	Type    object.Type
	Content []byte
	// Offset is the object's record offset in the pack it was resolved
	// from, or zero for objects that never lived in a pack (e.g. ones
	// assembled by a caller for push).
	Offset int64
}

// unresolved is an object record still needing delta resolution, or one
// that's already plain and just needs hashing.
type unresolved struct {
	header  *Header
	payload []byte // inflated bytes: plain content, or delta instructions
}

// maxPasses bounds multi-pass delta resolution. A well-formed pack resolves
// fully within a handful of passes; this is a backstop against cyclic or
// corrupt base references.
const maxPasses = 10

// Resolve reads every object out of r (as produced by NewReader), resolving
// OfsDelta/RefDelta chains against each other and against externally
// supplied bases (objects already known to the caller's Object Store, for
// thin packs). algo selects the oid hash function (crypto.SHA1 or
// crypto.SHA256).
//
// It runs in multiple passes: each pass attempts to resolve every object
// whose base is now known, stopping once a pass resolves nothing new. This
// mirrors how packs may reference deltas in any order relative to their
// base's position in the stream.
//
// Resolve is deliberately lenient about incomplete packs: a stream that
// truncates mid-object (or before the declared object count) yields the
// objects recovered up to that point plus a warning, and a ref-delta whose
// base never materializes (neither in the pack nor via externalBases) is
// omitted from the result with a warning rather than failing the whole
// parse. The one per-object hard failure is a record whose inflated length
// disagrees with the size its header declared, which indicates corruption
// rather than truncation.
func Resolve(ctx context.Context, r *Reader, algo crypto.Hash, externalBases func(hash.Hash) ([]byte, object.Type, bool)) ([]Object, error) {
	logger := log.FromContextOrNoop(ctx)
	var pending []unresolved

	for {
		hdr, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn("pack: stream truncated between objects; keeping recovered objects",
				"recovered", len(pending), "declared", r.ObjectCount(), "error", err.Error())
			break
		}
		payload, err := readAll(r)
		if err != nil {
			logger.Warn("pack: stream truncated mid-object; keeping recovered objects",
				"offset", hdr.Offset, "recovered", len(pending), "declared", r.ObjectCount(), "error", err.Error())
			break
		}
		if int64(len(payload)) != hdr.Size {
			return nil, fmt.Errorf("%w: object at offset %d inflated to %d bytes, header declared %d",
				ErrObjectSizeMismatch, hdr.Offset, len(payload), hdr.Size)
		}
		pending = append(pending, unresolved{header: hdr, payload: payload})
	}

	resolvedByOffset := make(map[int64]Object, len(pending))
	resolvedByOID := make(map[string]Object, len(pending))
	var mu sync.Mutex

	remaining := pending
	for pass := 0; len(remaining) > 0 && pass < maxPasses; pass++ {
		var next []unresolved
		g, gctx := errgroup.WithContext(ctx)
		results := make([]*Object, len(remaining))

		for i, u := range remaining {
			i, u := i, u
			g.Go(func() error {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				obj, ok, err := resolveOne(u, algo, &mu, resolvedByOffset, resolvedByOID, externalBases)
				if err != nil {
					return err
				}
				if ok {
					results[i] = &obj
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		resolvedThisPass := 0
		for i, u := range remaining {
			if results[i] != nil {
				results[i].Offset = u.header.Offset
				mu.Lock()
				resolvedByOffset[u.header.Offset] = *results[i]
				resolvedByOID[results[i].OID.String()] = *results[i]
				mu.Unlock()
				resolvedThisPass++
			} else {
				next = append(next, u)
			}
		}
		if resolvedThisPass == 0 {
			break
		}
		remaining = next
	}

	if len(remaining) > 0 {
		// Dangling or cyclic delta bases. The unresolved objects are left
		// out of the result (and therefore out of any index built from it);
		// a later read of one of these oids fails with an object-missing
		// error rather than this whole pack being rejected.
		offsets := make([]int64, 0, len(remaining))
		for _, u := range remaining {
			offsets = append(offsets, u.header.Offset)
		}
		logger.Warn("pack: delta bases unresolved after all passes; omitting objects from result",
			"unresolved", len(remaining), "offsets", offsets)
	}

	out := make([]Object, 0, len(pending))
	for _, u := range pending {
		if obj, ok := resolvedByOffset[u.header.Offset]; ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

func resolveOne(
	u unresolved,
	algo crypto.Hash,
	mu *sync.Mutex,
	resolvedByOffset map[int64]Object,
	resolvedByOID map[string]Object,
	externalBases func(hash.Hash) ([]byte, object.Type, bool),
) (Object, bool, error) {
	switch u.header.Type {
	case object.TypeCommit, object.TypeTree, object.TypeBlob, object.TypeTag:
		oid, err := hash.Object(algo, u.header.Type, u.payload)
		if err != nil {
			return Object{}, false, err
		}
		return Object{OID: oid, Type: u.header.Type, Content: u.payload}, true, nil

	case object.TypeOfsDelta:
		mu.Lock()
		base, ok := resolvedByOffset[u.header.BaseOffset]
		mu.Unlock()
		if !ok {
			return Object{}, false, nil
		}
		return applyDeltaObject(base, u, algo)

	case object.TypeRefDelta:
		baseOID := hash.Hash(u.header.BaseOID)
		mu.Lock()
		base, ok := resolvedByOID[baseOID.String()]
		mu.Unlock()
		if !ok {
			if externalBases != nil {
				if content, typ, found := externalBases(baseOID); found {
					base = Object{OID: baseOID, Type: typ, Content: content}
					ok = true
				}
			}
		}
		if !ok {
			return Object{}, false, nil
		}
		return applyDeltaObject(base, u, algo)

	default:
		return Object{}, false, fmt.Errorf("%w: %s", ErrInvalidObjectType, u.header.Type)
	}
}

func applyDeltaObject(base Object, u unresolved, algo crypto.Hash) (Object, bool, error) {
	content, err := ApplyDelta(base.Content, u.payload)
	if err != nil {
		return Object{}, false, fmt.Errorf("pack: resolving delta at offset %d against base %s: %w", u.header.Offset, base.OID, err)
	}
	oid, err := hash.Object(algo, base.Type, content)
	if err != nil {
		return Object{}, false, err
	}
	return Object{OID: oid, Type: base.Type, Content: content}, true, nil
}
