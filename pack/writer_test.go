package pack_test

import (
	"bytes"
	"crypto"
	_ "crypto/sha1"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanogit/gitcore/pack"
	"github.com/nanogit/gitcore/protocol/hash"
	"github.com/nanogit/gitcore/protocol/object"
)

func TestWriteTo_RoundTripsThroughReaderAndResolve(t *testing.T) {
	t.Parallel()

	blobContent := []byte("hello world")
	blobOID, err := hash.Object(crypto.SHA1, object.TypeBlob, blobContent)
	require.NoError(t, err)

	treeContent := []byte("100644 hello.txt\x00" + string(blobOID))
	treeOID, err := hash.Object(crypto.SHA1, object.TypeTree, treeContent)
	require.NoError(t, err)

	objs := []pack.Object{
		{OID: blobOID, Type: object.TypeBlob, Content: blobContent},
		{OID: treeOID, Type: object.TypeTree, Content: treeContent},
	}

	var buf bytes.Buffer
	require.NoError(t, pack.WriteTo(&buf, crypto.SHA1, objs))

	r, err := pack.NewReader(bytes.NewReader(buf.Bytes()), 20)
	require.NoError(t, err)
	require.EqualValues(t, 2, r.ObjectCount())

	resolved, err := pack.Resolve(t.Context(), r, crypto.SHA1, nil)
	require.NoError(t, err)
	require.Len(t, resolved, 2)

	byOID := make(map[string]pack.Object)
	for _, o := range resolved {
		byOID[o.OID.String()] = o
	}
	require.Equal(t, blobContent, byOID[blobOID.String()].Content)
	require.Equal(t, treeContent, byOID[treeOID.String()].Content)
}
