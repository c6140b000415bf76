package object

import (
	"bytes"
	"fmt"
)

// Tag is a parsed annotated tag object's header fields: the oid and type of
// object it points at.
type Tag struct {
	Object string
	Type   string
}

// ParseTag parses the inflated content of a tag object, extracting just the
// "object"/"type" header lines push needs to follow a tag to what it
// points at.
func ParseTag(content []byte) (*Tag, error) {
	headers, _, _ := bytes.Cut(content, []byte("\n\n"))
	t := &Tag{}
	for _, line := range bytes.Split(headers, []byte("\n")) {
		switch {
		case bytes.HasPrefix(line, []byte("object ")):
			t.Object = string(bytes.TrimPrefix(line, []byte("object ")))
		case bytes.HasPrefix(line, []byte("type ")):
			t.Type = string(bytes.TrimPrefix(line, []byte("type ")))
		}
	}
	if t.Object == "" {
		return nil, fmt.Errorf("object: tag has no object line")
	}
	return t, nil
}
