// Package refparse resolves a short ref name, full ref name, or raw hex oid
// typed on the command line against a remote's advertised ref list.
package refparse

import (
	"fmt"
	"regexp"

	"github.com/nanogit/gitcore/protocol"
)

var hexOIDPattern = regexp.MustCompile(`^(?:[0-9a-f]{40}|[0-9a-f]{64})$`)

// Resolve finds the full ref name and oid refOrHash refers to among
// advertised. It accepts, in order:
//   - a full ref name (refs/heads/main, refs/tags/v1.0.0), matched exactly
//   - a short name, tried as refs/heads/<name> then refs/tags/<name>
//   - a raw hex oid, returned as-is with no ref name (the remote will reject
//     it at fetch time if it isn't actually reachable)
func Resolve(advertised []protocol.RefLine, refOrHash string) (refName, oid string, err error) {
	if refOrHash == "" {
		return "", "", fmt.Errorf("refparse: empty ref")
	}

	byName := make(map[string]protocol.RefLine, len(advertised))
	for _, r := range advertised {
		byName[r.RefName] = r
	}

	if ref, ok := byName[refOrHash]; ok {
		return ref.RefName, ref.OID, nil
	}

	for _, candidate := range []string{"refs/heads/" + refOrHash, "refs/tags/" + refOrHash} {
		if ref, ok := byName[candidate]; ok {
			return ref.RefName, ref.OID, nil
		}
	}

	if hexOIDPattern.MatchString(refOrHash) {
		return "", refOrHash, nil
	}

	return "", "", fmt.Errorf("refparse: no ref named %q and it is not a valid oid", refOrHash)
}
