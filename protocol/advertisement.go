package protocol

import (
	"fmt"
	"io"
	"strings"
)

// RefAdvertisement is a server's first response on a connection, for
// either upload-pack or receive-pack: which protocol dialect it speaks,
// its capabilities, and (protocol v1 only) its full ref list. A v2 server
// advertises no refs here; they come from a separate ls-refs command.
type RefAdvertisement struct {
	// Version is 1 or 2.
	Version int
	// Caps holds the advertised capabilities: key=value pairs in v2,
	// bare tokens (value "") and key=value tokens in v1.
	Caps Capabilities
	// Refs is the v1 ref listing, with symref targets and peeled tag
	// oids attached where the server supplied them. Empty in v2.
	Refs []RefLine
}

// ParseRefAdvertisement parses a SmartInfo (info/refs?service=...)
// response. Over HTTP the stream is preceded by a "# service=<name>" line
// and its own flush-pkt; that prefix is skipped if present, so the TCP
// and SSH backends' bare streams parse identically.
//
// The first real line decides the dialect. A v2 server opens with
// "version 2" followed by capability lines:
//
//	PKT-LINE("version 2" LF)
//	*PKT-LINE(key[=value] LF)
//	flush-pkt
//
// Anything else is a v1 advertisement: one "<oid> <refname>" line per
// ref, the first carrying a NUL-separated capability list. An empty
// repository advertises the placeholder "<zero-oid> capabilities^{}" in
// place of any real ref. Peeled tag lines ("<refname>^{}") fold into the
// preceding ref, and "symref=<name>:<target>" capability tokens attach a
// SymrefTarget to the named ref.
func ParseRefAdvertisement(r io.Reader) (*RefAdvertisement, error) {
	pr := NewPktLineReader(r)
	adv := &RefAdvertisement{Caps: make(Capabilities)}
	symrefs := make(map[string]string)

	for {
		payload, kind, err := pr.Next()
		if err != nil {
			return nil, fmt.Errorf("protocol: parsing ref advertisement: %w", err)
		}
		switch kind {
		case PktLineEOF:
			if adv.Version == 0 {
				return nil, fmt.Errorf("protocol: ref advertisement ended before any version or ref line")
			}
			return finishAdvertisement(adv, symrefs), nil
		case PktLineFlush:
			if adv.Version == 0 {
				// The "# service=..." preamble's own flush-pkt.
				continue
			}
			return finishAdvertisement(adv, symrefs), nil
		case PktLineDelim, PktLineResponseEnd:
			continue
		}

		line := strings.TrimSuffix(string(payload), "\n")
		switch {
		case strings.HasPrefix(line, "#"):
			continue

		case adv.Version == 0 && line == "version 2":
			adv.Version = 2

		case adv.Version == 2:
			if line == "" {
				continue
			}
			key, value, _ := strings.Cut(line, "=")
			adv.Caps[key] = value

		default:
			// A v1 ref line. The first one carries the capability list
			// after a NUL.
			if adv.Version == 0 {
				adv.Version = 1
				if refPart, capPart, ok := strings.Cut(line, "\x00"); ok {
					line = refPart
					for _, token := range strings.Fields(capPart) {
						key, value, _ := strings.Cut(token, "=")
						adv.Caps[key] = value
						if key == "symref" {
							if name, target, ok := strings.Cut(value, ":"); ok {
								symrefs[name] = target
							}
						}
					}
				}
			}
			if err := appendV1RefLine(adv, line); err != nil {
				return nil, err
			}
		}
	}
}

// appendV1RefLine adds one parsed "<oid> <refname>" line to adv, folding
// peeled-tag lines into their base ref and dropping the empty-repository
// placeholder.
func appendV1RefLine(adv *RefAdvertisement, line string) error {
	oid, name, ok := strings.Cut(line, " ")
	if !ok || oid == "" || name == "" {
		return fmt.Errorf("protocol: malformed ref advertisement line %q: expected \"<oid> <refname>\"", line)
	}
	if name == "capabilities^{}" {
		return nil
	}
	if base, ok := strings.CutSuffix(name, "^{}"); ok {
		for i := range adv.Refs {
			if adv.Refs[i].RefName == base {
				adv.Refs[i].Peeled = oid
				return nil
			}
		}
		return nil
	}
	adv.Refs = append(adv.Refs, RefLine{OID: oid, RefName: name})
	return nil
}

// finishAdvertisement applies collected symref targets to the ref list.
func finishAdvertisement(adv *RefAdvertisement, symrefs map[string]string) *RefAdvertisement {
	for i := range adv.Refs {
		if target, ok := symrefs[adv.Refs[i].RefName]; ok {
			adv.Refs[i].SymrefTarget = target
		}
	}
	return adv
}
