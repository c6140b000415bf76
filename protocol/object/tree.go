package object

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// TreeEntry is one record of a tree object: a file mode, the entry's name
// within the tree, and the oid (hex-encoded) of the blob or sub-tree it
// points to.
type TreeEntry struct {
	Mode string
	Name string
	OID  string
}

// ParseTree parses the inflated content of a tree object. Unlike commits
// and blobs, a tree's content is binary: each entry is "<mode> <name>\0"
// followed by oidSize raw (not hex) bytes.
func ParseTree(content []byte, oidSize int) ([]TreeEntry, error) {
	var entries []TreeEntry
	for len(content) > 0 {
		sp := bytes.IndexByte(content, ' ')
		if sp < 0 {
			return nil, fmt.Errorf("object: tree entry missing mode/name separator")
		}
		mode := string(content[:sp])
		rest := content[sp+1:]

		nul := bytes.IndexByte(rest, 0)
		if nul < 0 {
			return nil, fmt.Errorf("object: tree entry missing name terminator")
		}
		name := string(rest[:nul])

		oidBytes := rest[nul+1:]
		if len(oidBytes) < oidSize {
			return nil, fmt.Errorf("object: tree entry %q truncated oid", name)
		}

		entries = append(entries, TreeEntry{Mode: mode, Name: name, OID: hex.EncodeToString(oidBytes[:oidSize])})
		content = oidBytes[oidSize:]
	}
	return entries, nil
}
