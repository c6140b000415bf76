package push_test

import (
	"bytes"
	"context"
	"crypto"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanogit/gitcore/pack"
	"github.com/nanogit/gitcore/protocol"
	"github.com/nanogit/gitcore/protocol/hash"
	"github.com/nanogit/gitcore/protocol/object"
	"github.com/nanogit/gitcore/push"
	"github.com/nanogit/gitcore/storage"
)

// fakeBackend is a hand-rolled transport.Backend stand-in; counterfeiter
// generation isn't available here, and the interface is small enough that
// a real fake is no harder to maintain than a mock.
type fakeBackend struct {
	advertisement []byte
	receivePackFn func(body []byte) []byte

	sentReceivePack []byte
}

func (f *fakeBackend) SmartInfo(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.advertisement)), nil
}

func (f *fakeBackend) UploadPack(_ context.Context, _ io.Reader) (io.ReadCloser, error) {
	return nil, fmt.Errorf("fakeBackend: UploadPack not expected during a push")
}

func (f *fakeBackend) ReceivePack(_ context.Context, request io.Reader) (io.ReadCloser, error) {
	body, err := io.ReadAll(request)
	if err != nil {
		return nil, err
	}
	f.sentReceivePack = body
	return io.NopCloser(bytes.NewReader(f.receivePackFn(body))), nil
}

func (f *fakeBackend) Close() error { return nil }

func advertisement(refs ...string) []byte {
	var packs []protocol.Pack
	for i, r := range refs {
		line := r
		if i == 0 {
			line += "\x00report-status agent=git/2.40.0"
		}
		packs = append(packs, protocol.PackLine(line+"\n"))
	}
	out, err := protocol.FormatPacks(packs...)
	if err != nil {
		panic(err)
	}
	return out
}

func reportStatus(unpackOK bool, refs ...protocol.RefStatus) []byte {
	var packs []protocol.Pack
	if unpackOK {
		packs = append(packs, protocol.PackLine("unpack ok\n"))
	} else {
		packs = append(packs, protocol.PackLine("unpack error\n"))
	}
	for _, r := range refs {
		if r.OK {
			packs = append(packs, protocol.PackLine(fmt.Sprintf("ok %s\n", r.RefName)))
		} else {
			packs = append(packs, protocol.PackLine(fmt.Sprintf("ng %s %s\n", r.RefName, r.Reason)))
		}
	}
	out, err := protocol.FormatPacks(packs...)
	if err != nil {
		panic(err)
	}
	return out
}

func putBlob(t *testing.T, ctx context.Context, store *storage.Memory, content string) hash.Hash {
	t.Helper()
	oid, err := hash.Object(crypto.SHA1, object.TypeBlob, []byte(content))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &pack.Object{OID: oid, Type: object.TypeBlob, Content: []byte(content)}))
	return oid
}

func putCommit(t *testing.T, ctx context.Context, store *storage.Memory, tree hash.Hash, parents []hash.Hash, message string) hash.Hash {
	t.Helper()
	var parentLines string
	for _, p := range parents {
		parentLines += fmt.Sprintf("parent %s\n", p.String())
	}
	content := fmt.Sprintf(
		"tree %s\n%sauthor A <a@example.com> 1700000000 +0000\ncommitter A <a@example.com> 1700000000 +0000\n\n%s\n",
		tree.String(), parentLines, message,
	)
	oid, err := hash.Object(crypto.SHA1, object.TypeCommit, []byte(content))
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &pack.Object{OID: oid, Type: object.TypeCommit, Content: []byte(content)}))
	return oid
}

func TestPush_NewBranch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory(ctx)

	blob := putBlob(t, ctx, store, "hello")
	treeContent := append([]byte("100644 hello.txt\x00"), blob...)
	treeOID, err := hash.Object(crypto.SHA1, object.TypeTree, treeContent)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &pack.Object{OID: treeOID, Type: object.TypeTree, Content: treeContent}))
	commit := putCommit(t, ctx, store, treeOID, nil, "initial commit")

	zero := "0000000000000000000000000000000000000000"
	backend := &fakeBackend{
		advertisement: advertisement(zero + " capabilities^{}"),
		receivePackFn: func(body []byte) []byte {
			return reportStatus(true, protocol.RefStatus{RefName: "refs/heads/main", OK: true})
		},
	}

	result, err := push.Push(ctx, backend, store, push.Options{
		LocalRef:  "refs/heads/main",
		OID:       commit,
		RemoteRef: "refs/heads/main",
	})
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Len(t, result.Refs, 1)
	require.True(t, result.Refs[0].OK)
	require.Contains(t, string(backend.sentReceivePack), zero+" "+commit.String()+" refs/heads/main")
}

func TestPush_NonFastForwardRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory(ctx)

	blob := putBlob(t, ctx, store, "hello")
	treeContent := append([]byte("100644 hello.txt\x00"), blob...)
	treeOID, err := hash.Object(crypto.SHA1, object.TypeTree, treeContent)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &pack.Object{OID: treeOID, Type: object.TypeTree, Content: treeContent}))

	remoteTip := putCommit(t, ctx, store, treeOID, nil, "remote tip, unrelated to local history")
	localCommit := putCommit(t, ctx, store, treeOID, nil, "diverged local commit")

	backend := &fakeBackend{
		advertisement: advertisement(remoteTip.String() + " refs/heads/main"),
		receivePackFn: func(body []byte) []byte {
			t.Fatal("should not reach the remote when the guard rejects the push")
			return nil
		},
	}

	_, err = push.Push(ctx, backend, store, push.Options{
		LocalRef:  "refs/heads/main",
		OID:       localCommit,
		RemoteRef: "refs/heads/main",
	})
	require.Error(t, err)
	var rejected *push.RejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "not-fast-forward", rejected.Reason)
}

func TestPush_ForceSkipsGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory(ctx)

	blob := putBlob(t, ctx, store, "hello")
	treeContent := append([]byte("100644 hello.txt\x00"), blob...)
	treeOID, err := hash.Object(crypto.SHA1, object.TypeTree, treeContent)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &pack.Object{OID: treeOID, Type: object.TypeTree, Content: treeContent}))

	remoteTip := putCommit(t, ctx, store, treeOID, nil, "remote tip")
	localCommit := putCommit(t, ctx, store, treeOID, nil, "diverged local commit")

	backend := &fakeBackend{
		advertisement: advertisement(remoteTip.String() + " refs/heads/main"),
		receivePackFn: func(body []byte) []byte {
			return reportStatus(true, protocol.RefStatus{RefName: "refs/heads/main", OK: true})
		},
	}

	result, err := push.Push(ctx, backend, store, push.Options{
		LocalRef:  "refs/heads/main",
		OID:       localCommit,
		RemoteRef: "refs/heads/main",
		Force:     true,
	})
	require.NoError(t, err)
	require.True(t, result.OK)
}

func TestPush_TagOverwriteRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory(ctx)

	blob := putBlob(t, ctx, store, "hello")
	treeContent := append([]byte("100644 hello.txt\x00"), blob...)
	treeOID, err := hash.Object(crypto.SHA1, object.TypeTree, treeContent)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &pack.Object{OID: treeOID, Type: object.TypeTree, Content: treeContent}))

	existingTag := putCommit(t, ctx, store, treeOID, nil, "tagged commit")
	newCommit := putCommit(t, ctx, store, treeOID, nil, "new commit for the same tag")

	backend := &fakeBackend{
		advertisement: advertisement(existingTag.String() + " refs/tags/v1.0.0"),
	}

	_, err = push.Push(ctx, backend, store, push.Options{
		LocalRef:  "refs/tags/v1.0.0",
		OID:       newCommit,
		RemoteRef: "refs/tags/v1.0.0",
	})
	require.Error(t, err)
	var rejected *push.RejectedError
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "tag-exists", rejected.Reason)
}

func TestPush_RemoteRejection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory(ctx)

	blob := putBlob(t, ctx, store, "hello")
	treeContent := append([]byte("100644 hello.txt\x00"), blob...)
	treeOID, err := hash.Object(crypto.SHA1, object.TypeTree, treeContent)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &pack.Object{OID: treeOID, Type: object.TypeTree, Content: treeContent}))
	commit := putCommit(t, ctx, store, treeOID, nil, "initial commit")

	zero := "0000000000000000000000000000000000000000"
	backend := &fakeBackend{
		advertisement: advertisement(zero + " capabilities^{}"),
		receivePackFn: func(body []byte) []byte {
			return reportStatus(true, protocol.RefStatus{RefName: "refs/heads/main", OK: false, Reason: "hook declined"})
		},
	}

	result, err := push.Push(ctx, backend, store, push.Options{
		LocalRef:  "refs/heads/main",
		OID:       commit,
		RemoteRef: "refs/heads/main",
	})
	require.Error(t, err)
	var remoteErr *push.RemoteError
	require.ErrorAs(t, err, &remoteErr)
	require.False(t, result.OK)
}

func TestPush_PrePushHookRejection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory(ctx)

	blob := putBlob(t, ctx, store, "hello")
	treeContent := append([]byte("100644 hello.txt\x00"), blob...)
	treeOID, err := hash.Object(crypto.SHA1, object.TypeTree, treeContent)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &pack.Object{OID: treeOID, Type: object.TypeTree, Content: treeContent}))
	commit := putCommit(t, ctx, store, treeOID, nil, "initial commit")

	zero := "0000000000000000000000000000000000000000"
	backend := &fakeBackend{
		advertisement: advertisement(zero + " capabilities^{}"),
		receivePackFn: func(body []byte) []byte {
			t.Fatal("should not reach the remote when the pre-push hook rejects")
			return nil
		},
	}

	_, err = push.Push(ctx, backend, store, push.Options{
		LocalRef:  "refs/heads/main",
		OID:       commit,
		RemoteRef: "refs/heads/main",
		PrePush: func(ctx context.Context, localRef, localOID, remoteRef, remoteOID string) error {
			return fmt.Errorf("blocked by policy")
		},
	})
	require.ErrorIs(t, err, push.ErrPrePushRejected)
}

func TestPush_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory(ctx)

	blob := putBlob(t, ctx, store, "hello")
	treeContent := append([]byte("100644 hello.txt\x00"), blob...)
	treeOID, err := hash.Object(crypto.SHA1, object.TypeTree, treeContent)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &pack.Object{OID: treeOID, Type: object.TypeTree, Content: treeContent}))
	commit := putCommit(t, ctx, store, treeOID, nil, "initial commit")

	zero := "0000000000000000000000000000000000000000"
	backend := &fakeBackend{
		advertisement: advertisement(commit.String() + " refs/heads/doomed"),
		receivePackFn: func(body []byte) []byte {
			require.NotContains(t, string(body), "PACK")
			return reportStatus(true, protocol.RefStatus{RefName: "refs/heads/doomed", OK: true})
		},
	}

	result, err := push.Push(ctx, backend, store, push.Options{
		LocalRef:  "refs/heads/doomed",
		RemoteRef: "refs/heads/doomed",
		Delete:    true,
		Force:     true,
	})
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Contains(t, string(backend.sentReceivePack), commit.String()+" "+zero+" refs/heads/doomed")
}

func TestPush_UpdatesLocalTrackingRef(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory(ctx)
	refs := storage.NewMemory(ctx)

	blob := putBlob(t, ctx, store, "hello")
	treeContent := append([]byte("100644 hello.txt\x00"), blob...)
	treeOID, err := hash.Object(crypto.SHA1, object.TypeTree, treeContent)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &pack.Object{OID: treeOID, Type: object.TypeTree, Content: treeContent}))
	commit := putCommit(t, ctx, store, treeOID, nil, "initial commit")

	zero := "0000000000000000000000000000000000000000"
	backend := &fakeBackend{
		advertisement: advertisement(zero + " capabilities^{}"),
		receivePackFn: func(body []byte) []byte {
			return reportStatus(true, protocol.RefStatus{RefName: "refs/heads/main", OK: true})
		},
	}

	_, err = push.Push(ctx, backend, store, push.Options{
		LocalRef:  "refs/heads/main",
		OID:       commit,
		RemoteRef: "refs/heads/main",
		Remote:    "origin",
		Refs:      refs,
	})
	require.NoError(t, err)

	oid, ok, err := refs.Resolve(ctx, "refs/remotes/origin/main")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, commit, oid)
}

func TestPush_PostPushHookRunsAfterResponse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory(ctx)

	blob := putBlob(t, ctx, store, "hello")
	treeContent := append([]byte("100644 hello.txt\x00"), blob...)
	treeOID, err := hash.Object(crypto.SHA1, object.TypeTree, treeContent)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &pack.Object{OID: treeOID, Type: object.TypeTree, Content: treeContent}))
	commit := putCommit(t, ctx, store, treeOID, nil, "initial commit")

	zero := "0000000000000000000000000000000000000000"
	var responded bool
	backend := &fakeBackend{
		advertisement: advertisement(zero + " capabilities^{}"),
		receivePackFn: func(body []byte) []byte {
			responded = true
			return reportStatus(true, protocol.RefStatus{RefName: "refs/heads/main", OK: true})
		},
	}

	var hookResult *push.Result
	result, err := push.Push(ctx, backend, store, push.Options{
		LocalRef:  "refs/heads/main",
		OID:       commit,
		RemoteRef: "refs/heads/main",
		PostPush: func(_ context.Context, r *push.Result) error {
			require.True(t, responded, "the post-push hook must run after the remote responded")
			hookResult = r
			return nil
		},
	})
	require.NoError(t, err)
	require.True(t, result.OK)
	require.Same(t, result, hookResult)
}
