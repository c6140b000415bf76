package protocol

import "io"

// Acknowledgements is the parsed acknowledgments section of an
// upload-pack response: either a single NAK, or some subset of the acked
// oids. Servers are free to ack fewer objects than they matched, so an
// empty Acks with Nack false still means negotiation succeeded.
//
// Invariant: Nack == true implies Acks is empty.
type Acknowledgements struct {
	Nack bool
	Acks []string
}

// Shallowness says which way a shallow-info line moves a commit across
// the shallow boundary.
type Shallowness string

const (
	Shallow   = Shallowness("shallow")
	Unshallow = Shallowness("unshallow")
)

// ShallowInfo is one line of the shallow-info section (or the equivalent
// v1 "shallow"/"unshallow" control lines): an instruction to add or
// remove one commit from the client's shallow boundary set.
type ShallowInfo struct {
	Shallowness Shallowness
	Object      string
}

// WantedRef is one line of a v2 wanted-refs section: the oid the server
// resolved a want-ref request to.
type WantedRef struct {
	Object  string
	RefName RefName
}

// FetchResponse is a parsed upload-pack response, v1 or v2. The sections
// arrive in field order on the wire; the packfile always comes last.
type FetchResponse struct {
	Acks       Acknowledgements
	Shallow    []ShallowInfo
	WantedRefs []WantedRef

	// Packfile reads the raw PACK bytes. For a side-band-multiplexed
	// response this is a PackfileReader that strips the channel framing
	// (progress discarded, a channel-3 line surfacing as FatalFetchError);
	// for a bare v1 response it is simply the rest of the stream. It is
	// never nil: a response with no packfile section yields a reader
	// that returns io.EOF immediately.
	Packfile io.Reader
}
