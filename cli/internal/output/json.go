package output

import (
	"encoding/json"
	"os"

	"github.com/nanogit/gitcore/fetch"
	"github.com/nanogit/gitcore/protocol"
)

// JSONFormatter outputs in JSON format
type JSONFormatter struct {
	encoder *json.Encoder
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter() *JSONFormatter {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return &JSONFormatter{
		encoder: enc,
	}
}

// refOutput represents a Git reference for JSON output
type refOutput struct {
	Name string `json:"name"`
	Hash string `json:"hash"`
}

// FormatRefs outputs references in JSON format
func (f *JSONFormatter) FormatRefs(refs []protocol.RefLine) error {
	output := make([]refOutput, len(refs))
	for i, ref := range refs {
		output[i] = refOutput{
			Name: ref.RefName,
			Hash: ref.OID,
		}
	}
	return f.encoder.Encode(map[string]interface{}{
		"refs": output,
	})
}

// fetchedRefOutput represents one fetched ref for JSON output
type fetchedRefOutput struct {
	Remote string `json:"remote"`
	Local  string `json:"local"`
	Hash   string `json:"hash"`
}

// fetchResultOutput represents a fetch/clone result for JSON output
type fetchResultOutput struct {
	Refs                 []fetchedRefOutput `json:"refs"`
	ObjectsReceived      int                `json:"objects_received"`
	DefaultBranch        string             `json:"default_branch,omitempty"`
	FetchHeadDescription string             `json:"fetch_head_description,omitempty"`
	PackfileRelPath      string             `json:"packfile_rel_path,omitempty"`
	PrunedRefs           []string           `json:"pruned_refs,omitempty"`
}

// FormatFetchResult outputs a fetch/clone result in JSON format
func (f *JSONFormatter) FormatFetchResult(result *fetch.Result) error {
	output := fetchResultOutput{
		ObjectsReceived:      result.ObjectsReceived,
		DefaultBranch:        result.DefaultBranch,
		FetchHeadDescription: result.FetchHeadDescription,
		PackfileRelPath:      result.PackfileRelPath,
		PrunedRefs:           result.PrunedRefs,
	}
	for _, r := range result.Refs {
		output.Refs = append(output.Refs, fetchedRefOutput{
			Remote: r.RemoteName,
			Local:  r.LocalName,
			Hash:   r.OID.String(),
		})
	}
	return f.encoder.Encode(output)
}
