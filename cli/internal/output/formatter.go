package output

import (
	"github.com/nanogit/gitcore/fetch"
	"github.com/nanogit/gitcore/protocol"
)

// Formatter defines the interface for different output formats
type Formatter interface {
	// FormatRefs outputs a list of Git references (branches/tags)
	FormatRefs(refs []protocol.RefLine) error

	// FormatFetchResult outputs the result of a clone/fetch operation
	FormatFetchResult(result *fetch.Result) error
}

// Get returns the appropriate formatter based on format type
func Get(format string) Formatter {
	switch format {
	case "json":
		return NewJSONFormatter()
	default:
		return NewHumanFormatter()
	}
}
