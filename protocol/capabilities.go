package protocol

import "strings"

// Capabilities is the set of capabilities a server advertised: key=value
// pairs in protocol v2, bare tokens (empty value) and key=value tokens in
// v1. Populated by ParseRefAdvertisement.
type Capabilities map[string]string

// Has reports whether the server advertised name, with or without a value.
func (c Capabilities) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// Value returns the value half of a "name=value" capability, or "" if the
// capability wasn't advertised or carries no value.
func (c Capabilities) Value(name string) string {
	return c[name]
}

// FetchSubCapabilities splits the "fetch" capability's value (a
// space-separated list such as "shallow wait-for-done filter") into a set,
// so callers can check for a specific sub-capability (e.g. "shallow",
// "deepen-since", "deepen-not", "deepen-relative") before relying on it.
func (c Capabilities) FetchSubCapabilities() map[string]bool {
	out := make(map[string]bool)
	for _, f := range strings.Fields(c.Value("fetch")) {
		out[f] = true
	}
	return out
}

// HasFetchSubCapability reports whether the server's "fetch" capability
// value lists name.
func (c Capabilities) HasFetchSubCapability(name string) bool {
	return c.FetchSubCapabilities()[name]
}

