package object

import (
	"bytes"
	"fmt"
)

// Commit is a parsed commit object's header fields. Git stores a commit as
// plain text: a "tree" line, zero or more "parent" lines, "author" and
// "committer" identity lines, an optional gpgsig block, a blank line, and
// then the free-form message. ParseCommit only extracts what push's
// reachability and ancestry walks need: the tree and parents.
type Commit struct {
	Tree    string
	Parents []string
	Message string
}

// ParseCommit parses the inflated content of a commit object. Unrecognized
// header lines (gpgsig, mergetag, encoding, ...) are skipped rather than
// rejected, since push never needs to round-trip a commit it didn't create.
func ParseCommit(content []byte) (*Commit, error) {
	headers, body, ok := bytes.Cut(content, []byte("\n\n"))
	if !ok {
		headers, body = content, nil
	}

	c := &Commit{}
	lines := bytes.Split(headers, []byte("\n"))
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		switch {
		case bytes.HasPrefix(line, []byte("tree ")):
			c.Tree = string(bytes.TrimPrefix(line, []byte("tree ")))
		case bytes.HasPrefix(line, []byte("parent ")):
			c.Parents = append(c.Parents, string(bytes.TrimPrefix(line, []byte("parent "))))
		case bytes.HasPrefix(line, []byte(" ")):
			// Continuation of a multi-line header (gpgsig); already
			// consumed by the header it belongs to, nothing to do.
		}
	}
	if c.Tree == "" {
		return nil, fmt.Errorf("object: commit has no tree line")
	}
	c.Message = string(body)
	return c, nil
}
