package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nanogit/gitcore/fetch"
	"github.com/nanogit/gitcore/protocol"
	"github.com/nanogit/gitcore/protocol/hash"
)

func TestJSONFormatter_FormatRefs(t *testing.T) {
	var buf bytes.Buffer
	formatter := NewJSONFormatter()
	formatter.encoder = json.NewEncoder(&buf)

	refs := []protocol.RefLine{
		{RefName: "refs/heads/main", OID: "0123456789abcdef0123456789abcdef01234567"},
		{RefName: "refs/heads/develop", OID: "1111111111111111111111111111111111111111"},
	}

	err := formatter.FormatRefs(refs)
	require.NoError(t, err)

	var result map[string]interface{}
	err = json.Unmarshal(buf.Bytes(), &result)
	require.NoError(t, err)

	assert.Contains(t, result, "refs")
	refsArray := result["refs"].([]interface{})
	assert.Len(t, refsArray, 2)

	firstRef := refsArray[0].(map[string]interface{})
	assert.Equal(t, "refs/heads/main", firstRef["name"])
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", firstRef["hash"])
}

func TestJSONFormatter_EmptyRefs(t *testing.T) {
	var buf bytes.Buffer
	formatter := NewJSONFormatter()
	formatter.encoder = json.NewEncoder(&buf)

	err := formatter.FormatRefs([]protocol.RefLine{})
	require.NoError(t, err)

	var result map[string]interface{}
	err = json.Unmarshal(buf.Bytes(), &result)
	require.NoError(t, err)

	assert.Contains(t, result, "refs")
	refsArray := result["refs"].([]interface{})
	assert.Len(t, refsArray, 0)
}

func TestJSONFormatter_FormatFetchResult(t *testing.T) {
	var buf bytes.Buffer
	formatter := NewJSONFormatter()
	formatter.encoder = json.NewEncoder(&buf)

	result := &fetch.Result{
		ObjectsReceived: 42,
		Refs: []fetch.FetchedRef{
			{
				RemoteName: "refs/heads/main",
				LocalName:  "refs/remotes/origin/main",
				OID:        hash.MustFromHex("0123456789abcdef0123456789abcdef01234567"),
			},
		},
	}

	err := formatter.FormatFetchResult(result)
	require.NoError(t, err)

	var output map[string]interface{}
	err = json.Unmarshal(buf.Bytes(), &output)
	require.NoError(t, err)

	assert.Equal(t, float64(42), output["objects_received"])
	refsArray := output["refs"].([]interface{})
	require.Len(t, refsArray, 1)
	firstRef := refsArray[0].(map[string]interface{})
	assert.Equal(t, "refs/heads/main", firstRef["remote"])
	assert.Equal(t, "refs/remotes/origin/main", firstRef["local"])
	assert.Equal(t, "0123456789abcdef0123456789abcdef01234567", firstRef["hash"])
}
