package fetch

import (
	"fmt"
	"strings"

	"github.com/nanogit/gitcore/protocol"
	"github.com/nanogit/gitcore/protocol/hash"
)

// refMatch is one advertised ref that a refspec selected, paired with the
// local name it should be recorded under.
type refMatch struct {
	RemoteName string
	LocalName  string
	OID        hash.Hash
}

// parseRefspec splits "[+]src:dst" into its force flag, source pattern, and
// destination pattern. A refspec with no colon is shorthand for fetching
// that single ref without updating any remote-tracking ref (matching
// git-fetch(1)'s "a single ref without a destination" form); it is
// represented here as an empty dst.
func parseRefspec(spec string) (force bool, src, dst string, err error) {
	spec, force = strings.CutPrefix(spec, "+")
	src, dst, hasDst := strings.Cut(spec, ":")
	if src == "" {
		return false, "", "", fmt.Errorf("fetch: empty refspec")
	}
	if !hasDst {
		return force, src, "", nil
	}
	return force, src, dst, nil
}

// matchRefspecs resolves every refspec against the server's advertised refs,
// returning one refMatch per advertised ref that matched some refspec's
// source pattern. A source pattern ending in "*" matches any advertised ref
// sharing its prefix, with the "*" in the destination substituted by the
// same suffix; otherwise it must match a ref name exactly.
func matchRefspecs(advertised []protocol.RefLine, refspecs []string) ([]refMatch, error) {
	if len(refspecs) == 0 {
		return nil, fmt.Errorf("fetch: at least one refspec is required")
	}

	byName := make(map[string]protocol.RefLine, len(advertised))
	for _, r := range advertised {
		byName[r.RefName] = r
	}

	var matches []refMatch
	seen := make(map[string]bool)
	for _, spec := range refspecs {
		_, src, dst, err := parseRefspec(spec)
		if err != nil {
			return nil, err
		}

		if strings.HasSuffix(src, "*") {
			prefix := strings.TrimSuffix(src, "*")
			dstPrefix := strings.TrimSuffix(dst, "*")
			for name, ref := range byName {
				if !strings.HasPrefix(name, prefix) {
					continue
				}
				local := name
				if dst != "" {
					local = dstPrefix + strings.TrimPrefix(name, prefix)
				}
				if seen[name] {
					continue
				}
				seen[name] = true
				oid, err := hash.FromHex(ref.OID)
				if err != nil {
					return nil, fmt.Errorf("fetch: parsing oid for %s: %w", name, err)
				}
				matches = append(matches, refMatch{RemoteName: name, LocalName: local, OID: oid})
			}
			continue
		}

		ref, ok := byName[src]
		if !ok {
			return nil, fmt.Errorf("%w: remote has no ref %q", ErrNoMatchingRefs, src)
		}
		local := dst
		if local == "" {
			local = src
		}
		if seen[src] {
			continue
		}
		seen[src] = true
		oid, err := hash.FromHex(ref.OID)
		if err != nil {
			return nil, fmt.Errorf("fetch: parsing oid for %s: %w", src, err)
		}
		matches = append(matches, refMatch{RemoteName: src, LocalName: local, OID: oid})
	}
	return matches, nil
}
