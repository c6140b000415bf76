package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nanogit/gitcore/pack"
	"github.com/nanogit/gitcore/protocol/hash"
	"github.com/nanogit/gitcore/protocol/object"
	"github.com/nanogit/gitcore/storage"
)

func TestMemory_ObjectStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := storage.NewMemory(ctx)

	obj := &pack.Object{
		OID:     hash.MustFromHex("0123456789abcdef0123456789abcdef01234567"),
		Type:    object.TypeBlob,
		Content: []byte("hello"),
	}

	has, err := m.Has(ctx, obj.OID)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, m.Put(ctx, obj))
	require.Equal(t, 1, m.Len())

	has, err = m.Has(ctx, obj.OID)
	require.NoError(t, err)
	require.True(t, has)

	got, err := m.Get(ctx, obj.OID)
	require.NoError(t, err)
	require.Equal(t, obj, got)

	_, err = m.Get(ctx, hash.MustFromHex("ffffffffffffffffffffffffffffffffffffff"))
	require.Error(t, err)
}

func TestMemory_RefStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := storage.NewMemory(ctx)

	head := hash.MustFromHex("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, m.Update(ctx, []storage.RefUpdate{
		{Name: "refs/remotes/origin/main", New: head},
	}))

	oid, ok, err := m.Resolve(ctx, "refs/remotes/origin/main")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, head, oid)

	refs, err := m.List(ctx, "refs/remotes/origin/")
	require.NoError(t, err)
	require.Len(t, refs, 1)

	// A stale "Old" should be rejected.
	err = m.Update(ctx, []storage.RefUpdate{
		{Name: "refs/remotes/origin/main", Old: hash.MustFromHex("bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"), New: head},
	})
	require.Error(t, err)

	// Deleting by setting New to the zero hash.
	require.NoError(t, m.Update(ctx, []storage.RefUpdate{
		{Name: "refs/remotes/origin/main", Old: head, New: hash.Zero},
	}))
	_, ok, err = m.Resolve(ctx, "refs/remotes/origin/main")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemory_TTLEviction(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := storage.NewMemory(ctx, storage.WithTTL(50*time.Millisecond))
	obj := &pack.Object{OID: hash.MustFromHex("0123456789abcdef0123456789abcdef01234567"), Type: object.TypeBlob, Content: []byte("x")}
	require.NoError(t, m.Put(ctx, obj))

	require.Eventually(t, func() bool {
		has, _ := m.Has(ctx, obj.OID)
		return !has
	}, time.Second, 10*time.Millisecond)
}
