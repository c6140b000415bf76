package pack_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanogit/gitcore/pack"
)

// encodeSize encodes n using the delta header's 7-bit continuation varint.
func encodeSize(n uint64) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if n == 0 {
			break
		}
	}
	return out
}

func TestApplyDelta(t *testing.T) {
	t.Parallel()

	base := []byte("the quick brown fox jumps over the lazy dog")

	testcases := map[string]struct {
		base    []byte
		target  []byte
		build   func(srcSize, targetSize uint64) []byte
		wantErr bool
	}{
		"single copy covers whole base": {
			base:   base,
			target: base,
			build: func(srcSize, targetSize uint64) []byte {
				var d []byte
				d = append(d, encodeSize(srcSize)...)
				d = append(d, encodeSize(targetSize)...)
				// copy op: offset=0 (no offset bytes), size=len(base) (1 size byte)
				d = append(d, 0x90, byte(len(base)))
				return d
			},
		},
		"insert literal replaces base": {
			base:   base,
			target: []byte("hello"),
			build: func(srcSize, targetSize uint64) []byte {
				var d []byte
				d = append(d, encodeSize(srcSize)...)
				d = append(d, encodeSize(targetSize)...)
				d = append(d, 0x05, 'h', 'e', 'l', 'l', 'o')
				return d
			},
		},
		"copy then insert": {
			base:   base,
			target: []byte("the quick brown fox jumps over the lazy CAT"),
			build: func(srcSize, targetSize uint64) []byte {
				var d []byte
				d = append(d, encodeSize(srcSize)...)
				d = append(d, encodeSize(targetSize)...)
				// copy first 40 bytes ("the quick brown fox jumps over the lazy ")
				d = append(d, 0x90, 40)
				// insert "CAT"
				d = append(d, 0x03, 'C', 'A', 'T')
				return d
			},
		},
		"reserved opcode zero is an error": {
			base:   base,
			target: nil,
			build: func(srcSize, targetSize uint64) []byte {
				var d []byte
				d = append(d, encodeSize(srcSize)...)
				d = append(d, encodeSize(targetSize)...)
				d = append(d, 0x00)
				return d
			},
			wantErr: true,
		},
		"copy out of bounds is an error": {
			base:   base,
			target: nil,
			build: func(srcSize, targetSize uint64) []byte {
				var d []byte
				d = append(d, encodeSize(srcSize)...)
				d = append(d, encodeSize(targetSize)...)
				d = append(d, 0x90, 255)
				return d
			},
			wantErr: true,
		},
	}

	for name, tc := range testcases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			delta := tc.build(uint64(len(tc.base)), uint64(len(tc.target)))
			got, err := pack.ApplyDelta(tc.base, delta)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.target, got)
		})
	}
}

func TestApplyDelta_SourceSizeMismatch(t *testing.T) {
	t.Parallel()

	var delta []byte
	delta = append(delta, encodeSize(10)...)
	delta = append(delta, encodeSize(0)...)

	_, err := pack.ApplyDelta([]byte("short"), delta)
	require.ErrorIs(t, err, pack.ErrDeltaSizeMismatch)
}
