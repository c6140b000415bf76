package protocol_test

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nanogit/gitcore/protocol"
)

func TestParseRefName(t *testing.T) {
	t.Parallel()

	t.Run("HEAD is valid", func(t *testing.T) {
		// git check-ref-format does not consider HEAD to be valid;
		// the parser special-cases it.
		refname, err := protocol.ParseRefName("HEAD")
		require.NoError(t, err)
		require.Equal(t, protocol.HEAD, refname)
	})

	t.Run("valid ref names", func(t *testing.T) {
		testcases := []struct {
			Full     string
			Category string
			Location string
		}{
			{"refs/heads/main", "heads", "main"},
			{"refs/heads/feature/test", "heads", "feature/test"},
			{"refs/heads/foo./bar", "heads", "foo./bar"},
			{"refs/tags/v1.0.0", "tags", "v1.0.0"},
			{"refs/remotes/origin/main", "remotes", "origin/main"},
		}

		for _, tc := range testcases {
			t.Run(tc.Full, func(t *testing.T) {
				crossCheckRefFormat(t, tc.Full, true)
				rn, err := protocol.ParseRefName(tc.Full)
				require.NoError(t, err)
				require.Equal(t, protocol.RefName{
					FullName: tc.Full,
					Category: tc.Category,
					Location: tc.Location,
				}, rn)
			})
		}
	})

	t.Run("invalid ref names", func(t *testing.T) {
		testcases := []struct {
			Value string
			Name  string
		}{
			{"", "empty"},
			{"@", "single @"},
			{"H", "bare word"},
			{"refs/", "only the refs prefix"},
			{"refs//", "empty category and location"},
			{"refs//test", "empty category"},
			{"refs/../test", "dot-dot category"},
			{"refs/heads/.bar", "component beginning with a dot"},
			{"refs/heads/foo.lock", "component ending in .lock"},
			{"refs/heads/foo.lock/bar", "inner component ending in .lock"},
			{"refs/heads/.lock", "component that is just .lock"},
			{"refs/heads/foo..bar", "consecutive dots"},
			{"refs/heads/foo\001bar", "control character"},
			{"refs/heads/foo\033bar", "escape character"},
			{"refs/heads/foo\177bar", "DEL"},
			{"refs/heads/foo bar", "space"},
			{"refs/heads/foo~bar", "tilde"},
			{"refs/heads/foo^bar", "caret"},
			{"refs/heads/foo:bar", "colon"},
			{"refs/heads/foo?bar", "question mark"},
			{"refs/heads/foo*bar", "asterisk"},
			{"refs/heads/foo[bar", "open bracket"},
			{"refs/heads/foo\\bar", "backslash"},
			{"refs/heads/foobar/", "trailing slash"},
			{"refs/heads/foo//bar", "consecutive slashes"},
			{"refs/heads/foobar.", "trailing dot"},
			{"refs/heads/foo@{bar", "reflog-style @{ sequence"},
			{"refs/.heads/test", "category beginning with a dot"},
			{"refs/he..ads/test", "category with consecutive dots"},
			{"refs/hea ds/test", "category with a space"},
			{"refs/heads/test/", "valid name with a trailing slash"},
		}

		for _, tc := range testcases {
			t.Run(tc.Name, func(t *testing.T) {
				crossCheckRefFormat(t, tc.Value, false)
				_, err := protocol.ParseRefName(tc.Value)
				require.Error(t, err, "parsing %q should fail", tc.Value)
			})
		}
	})

	t.Run("NUL byte is rejected", func(t *testing.T) {
		// A NUL cannot even be passed to git check-ref-format as an
		// argument, so there is no cross-check for this one.
		_, err := protocol.ParseRefName("refs/heads/foo\000bar")
		require.Error(t, err)
	})
}

// crossCheckRefFormat asserts that git's own check-ref-format agrees with
// the expectation, when a git binary is on PATH; without one the table's
// expectations stand alone.
func crossCheckRefFormat(t *testing.T, refName string, wantValid bool) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		return
	}
	err := exec.Command("git", "check-ref-format", refName).Run()
	if wantValid {
		require.NoError(t, err, "git check-ref-format should consider %q valid", refName)
	} else {
		require.Error(t, err, "git check-ref-format should consider %q invalid", refName)
	}
}
