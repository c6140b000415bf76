package output

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/nanogit/gitcore/fetch"
	"github.com/nanogit/gitcore/protocol"
)

// HumanFormatter outputs in human-readable format with colors
type HumanFormatter struct {
	success *color.Color
	info    *color.Color
	dim     *color.Color
}

// NewHumanFormatter creates a new human-readable formatter
func NewHumanFormatter() *HumanFormatter {
	return &HumanFormatter{
		success: color.New(color.FgGreen),
		info:    color.New(color.FgCyan),
		dim:     color.New(color.Faint),
	}
}

func shortOID(oid string) string {
	if len(oid) <= 8 {
		return oid
	}
	return oid[:8] + "..."
}

// FormatRefs outputs references in human-readable format
func (f *HumanFormatter) FormatRefs(refs []protocol.RefLine) error {
	for _, ref := range refs {
		fmt.Printf("%s\t%s\n", f.dim.Sprint(shortOID(ref.OID)), ref.RefName)
	}
	return nil
}

// FormatFetchResult outputs a fetch/clone result in human-readable format
func (f *HumanFormatter) FormatFetchResult(result *fetch.Result) error {
	f.success.Printf("✓ Fetched %d objects\n", result.ObjectsReceived)
	for _, r := range result.Refs {
		fmt.Printf("  %s\t%s -> %s\n", f.info.Sprint(shortOID(r.OID.String())), r.RemoteName, r.LocalName)
	}
	if result.FetchHeadDescription != "" {
		fmt.Printf("  %s\n", f.dim.Sprintf("FETCH_HEAD: %s", result.FetchHeadDescription))
	}
	for _, name := range result.PrunedRefs {
		fmt.Printf("  %s %s\n", f.dim.Sprint("[deleted]"), name)
	}
	return nil
}
