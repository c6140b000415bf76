package fetch

import "strings"

// FormatFetchHead renders the fetch's FETCH_HEAD file content: one line per
// fetched ref, "<oid>\t[not-for-merge\t]<description>\n". The first fetched
// ref is the merge candidate; every other ref carries the not-for-merge
// marker, matching what git itself records after a multi-ref fetch.
func (r *Result) FormatFetchHead() string {
	var b strings.Builder
	for _, line := range r.FetchHead {
		b.WriteString(line.OID.String())
		b.WriteByte('\t')
		if line.NotForMerge {
			b.WriteString("not-for-merge\t")
		}
		b.WriteString(line.Description)
		b.WriteByte('\n')
	}
	return b.String()
}
