// Package fetch orchestrates a complete fetch over protocol v2, or v1 when
// the server does not offer v2: capability discovery, ls-refs (v2 only),
// want/have negotiation, packfile ingestion with delta
// resolution, pack index construction, shallow-boundary reconciliation, and
// remote-tracking ref updates.
//
// It is written entirely against the transport.Backend and storage ports;
// it knows nothing about HTTP, TCP, SSH, or any particular persistence
// layer.
package fetch

import (
	"bytes"
	"context"
	"crypto"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
	"time"

	"github.com/nanogit/gitcore/log"
	"github.com/nanogit/gitcore/pack"
	"github.com/nanogit/gitcore/protocol"
	"github.com/nanogit/gitcore/protocol/hash"
	"github.com/nanogit/gitcore/protocol/object"
	"github.com/nanogit/gitcore/storage"
	"github.com/nanogit/gitcore/transport"
)

// Options configures a Fetch call.
type Options struct {
	// Refspecs selects which advertised refs to fetch and where their
	// local remote-tracking name should land, e.g.
	// "+refs/heads/*:refs/remotes/origin/*". At least one is required.
	Refspecs []string
	// Depth requests a shallow fetch truncated to this many commits from
	// each wanted tip. Zero requests a full fetch. Requires the remote to
	// advertise the "shallow" fetch sub-capability.
	Depth int
	// Since requests history be truncated to commits no older than this
	// time ("deepen-since"). Requires the "deepen-since" fetch
	// sub-capability.
	Since time.Time
	// Exclude lists revisions (oids or refnames) whose ancestry should be
	// excluded from the fetched history ("deepen-not", one line per
	// entry). Requires the "deepen-not" fetch sub-capability.
	Exclude []string
	// Relative makes Since/Exclude-based deepening relative to the
	// current shallow boundary rather than absolute ("deepen-relative").
	// Requires the "deepen-relative" fetch sub-capability.
	Relative bool
	// Tags additionally fetches every advertised "refs/tags/*" ref not
	// already selected by Refspecs, landing each directly at its own name
	// (tags are not namespaced under refs/remotes/<remote>/).
	Tags bool
	// SingleBranch excludes the remote's HEAD symref from the ref updates
	// applied to Refs, matching `git fetch`'s --single-branch behavior of
	// not updating the tracking HEAD pointer.
	SingleBranch bool
	// Prune removes local refs under "refs/remotes/<Remote>/" that no
	// longer correspond to an advertised branch ref. Requires Remote.
	Prune bool
	// PruneTags removes local "refs/tags/*" refs that no longer correspond
	// to an advertised tag ref. Requires Remote and Tags.
	PruneTags bool
	// Remote is the remote's configured name (e.g. "origin"), used to
	// scope Prune/PruneTags and as a default for the FETCH_HEAD
	// description's URL when URL is unset.
	Remote string
	// URL is the remote URL, recorded in each FETCH_HEAD line's
	// description ("<branch|tag> '<abbrev>' of <url>").
	URL string
	// Shallow, if set, is consulted for the repository's existing shallow
	// boundary set and updated with the server's shallow/unshallow
	// response after the fetch completes. A nil Shallow means this
	// repository is never treated as shallow, regardless of Depth.
	Shallow storage.ShallowStore
	// HashAlgo selects the oid hash function; defaults to crypto.SHA1.
	HashAlgo crypto.Hash
}

// FetchedRef is one ref the server advertised that matched a refspec and was
// included in this fetch, mirroring a line Git would record in FETCH_HEAD.
type FetchedRef struct {
	RemoteName string
	LocalName  string
	OID        hash.Hash
}

// FetchHeadLine is one line Git would write to FETCH_HEAD: the fetched
// oid, whether it is excluded from merge, and a human-readable description.
type FetchHeadLine struct {
	OID         hash.Hash
	NotForMerge bool
	Description string
}

// Result summarizes a completed fetch.
type Result struct {
	Refs []FetchedRef
	// ObjectsReceived is how many distinct objects the packfile contained,
	// after delta resolution.
	ObjectsReceived int
	// PackData is the raw, unmodified packfile bytes received from the
	// remote. Callers that persist a single pack file, rather than
	// exploding every object into loose storage, can write PackData and
	// Index straight to objects/pack/pack-<sha>.{pack,idx}.
	PackData []byte
	// Index is the pack index built from PackData.
	Index *pack.Index
	// DefaultBranch is the remote's HEAD symref target (e.g.
	// "refs/heads/main"), or "" if the remote advertised no HEAD symref or
	// had no refs at all.
	DefaultBranch string
	// FetchHead is one entry per fetched ref, in FETCH_HEAD order.
	FetchHead []FetchHeadLine
	// FetchHeadDescription is the description of the first (primary)
	// fetched ref, for callers that only care about a single line to
	// report.
	FetchHeadDescription string
	// PackfileRelPath is the relative path (under objects/pack/) the
	// packfile would be written to: "pack-<trailerHash>.pack". Empty if
	// the fetch produced no pack.
	PackfileRelPath string
	// PrunedRefs lists every local remote-tracking ref removed by Prune
	// or PruneTags, in the order they were removed.
	PrunedRefs []string
}

// ErrNoMatchingRefs is returned when none of the server's advertised refs
// matched any configured refspec. It is also wrapped by the error for an
// exact-name refspec whose source ref the server does not advertise.
var ErrNoMatchingRefs = errors.New("fetch: no advertised ref matched the configured refspecs")

// MissingFetchCapabilityError is returned when an option requires a fetch
// sub-capability (§4.6 step 6) the remote did not advertise. It is raised
// before the fetch command request is built, so no network body is sent on
// behalf of an option the remote can't satisfy.
type MissingFetchCapabilityError struct {
	Capability string
	Option     string
}

func (e *MissingFetchCapabilityError) Error() string {
	return fmt.Sprintf("fetch: remote does not advertise the %q fetch capability, required by Options.%s", e.Capability, e.Option)
}

// Fetch performs a full fetch against backend (protocol v2, or v1 when the
// server's advertisement is v1), storing every
// resolved object in objects and updating refs to match opts.Refspecs.
func Fetch(ctx context.Context, backend transport.Backend, objects storage.ObjectStore, refs storage.RefStore, opts Options) (*Result, error) {
	algo := opts.HashAlgo
	if algo == 0 {
		algo = crypto.SHA1
	}
	oidSize := algo.Size()
	logger := log.FromContextOrNoop(ctx)

	remote, err := discoverRemote(ctx, backend)
	if err != nil {
		return nil, err
	}
	advertised := remote.Refs

	result := &Result{DefaultBranch: defaultBranch(advertised)}

	matches, err := matchRefspecs(advertised, opts.Refspecs)
	if err != nil {
		return nil, err
	}
	if opts.Tags {
		matches = append(matches, matchTags(advertised, matches)...)
	}
	if len(matches) == 0 {
		return nil, ErrNoMatchingRefs
	}

	sub := fetchSubCapabilities(remote)
	if err := validateFetchCapabilities(sub, opts); err != nil {
		return nil, err
	}

	haves, err := existingHaves(ctx, refs, matches)
	if err != nil {
		return nil, err
	}

	var shallowSet []hash.Hash
	if opts.Shallow != nil {
		shallowSet, err = opts.Shallow.ReadShallow(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch: reading shallow set: %w", err)
		}
	}

	var reqBody []byte
	if remote.Version == 2 {
		reqBody, err = buildFetchRequest(matches, haves, shallowSet, opts, sub, algo)
	} else {
		reqBody, err = buildFetchRequestV1(matches, haves, shallowSet, opts, remote.Caps)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("fetch: sending fetch command", "protocolVersion", remote.Version, "wants", len(matches), "haves", len(haves))
	respStream, err := backend.UploadPack(ctx, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("fetch: sending fetch request: %w", err)
	}
	defer respStream.Close()

	var resp *protocol.FetchResponse
	if remote.Version == 2 {
		resp, err = protocol.ParseFetchResponse(respStream)
	} else {
		resp, err = protocol.ParseUploadPackV1Response(respStream, remote.Caps.Has("side-band-64k"))
	}
	if err != nil {
		return nil, err
	}

	packData, err := io.ReadAll(resp.Packfile)
	if err != nil {
		var fatal protocol.FatalFetchError
		if errors.As(err, &fatal) {
			return nil, fmt.Errorf("fetch: remote reported a fatal error: %s", fatal)
		}
		return nil, fmt.Errorf("fetch: reading packfile: %w", err)
	}

	// A server with nothing to send may end the response right after its
	// control lines, with no pack at all; refs still update below.
	var resolved []pack.Object
	if len(packData) > 0 {
		resolved, err = resolvePackfile(ctx, packData, oidSize, algo, objects)
		if err != nil {
			return nil, err
		}
	}
	for _, obj := range resolved {
		obj := obj
		if err := objects.Put(ctx, &obj); err != nil {
			return nil, fmt.Errorf("fetch: storing object %s: %w", obj.OID, err)
		}
	}

	if opts.Shallow != nil {
		newShallow, err := reconcileShallow(ctx, objects, shallowSet, resp.Shallow)
		if err != nil {
			return nil, err
		}
		if err := opts.Shallow.WriteShallow(ctx, newShallow); err != nil {
			return nil, fmt.Errorf("fetch: writing shallow set: %w", err)
		}
	}

	if len(packData) > 0 {
		idx, err := buildIndex(packData, oidSize, resolved)
		if err != nil {
			return nil, err
		}
		result.ObjectsReceived = len(resolved)
		result.PackData = packData
		result.Index = idx
		result.PackfileRelPath = "pack-" + hash.Hash(idx.PackSHA).String() + ".pack"
	}

	url := opts.URL
	if url == "" {
		url = opts.Remote
	}
	updates := make([]storage.RefUpdate, 0, len(matches))
	for _, m := range matches {
		if opts.SingleBranch && m.RemoteName == "HEAD" {
			continue
		}
		old, ok, err := refs.Resolve(ctx, m.LocalName)
		if err != nil {
			return nil, fmt.Errorf("fetch: resolving %s: %w", m.LocalName, err)
		}
		update := storage.RefUpdate{Name: m.LocalName, New: m.OID}
		if ok {
			update.Old = old
		}
		updates = append(updates, update)
		result.Refs = append(result.Refs, FetchedRef{RemoteName: m.RemoteName, LocalName: m.LocalName, OID: m.OID})
		result.FetchHead = append(result.FetchHead, FetchHeadLine{
			OID:         m.OID,
			NotForMerge: len(result.FetchHead) != 0,
			Description: describeFetchedRef(m.RemoteName, url),
		})
	}
	if err := refs.Update(ctx, updates); err != nil {
		return nil, fmt.Errorf("fetch: updating remote-tracking refs: %w", err)
	}
	if len(result.FetchHead) > 0 {
		result.FetchHeadDescription = result.FetchHead[0].Description
	}

	// Pruning runs after the new/updated refs are written, so a
	// remote-tracking ref is visible for the minimum possible time between
	// the remote deleting it and this fetch noticing (§9 edge case).
	if opts.Prune && opts.Remote != "" {
		keep := make(map[string]bool, len(matches))
		for _, m := range matches {
			if strings.HasPrefix(m.LocalName, "refs/remotes/"+opts.Remote+"/") {
				keep[m.LocalName] = true
			}
		}
		pruned, err := pruneRefs(ctx, refs, "refs/remotes/"+opts.Remote+"/", keep)
		if err != nil {
			return nil, err
		}
		result.PrunedRefs = append(result.PrunedRefs, pruned...)
	}
	if opts.PruneTags && opts.Tags && opts.Remote != "" {
		keep := make(map[string]bool, len(matches))
		for _, m := range matches {
			if strings.HasPrefix(m.LocalName, "refs/tags/") {
				keep[m.LocalName] = true
			}
		}
		pruned, err := pruneRefs(ctx, refs, "refs/tags/", keep)
		if err != nil {
			return nil, err
		}
		result.PrunedRefs = append(result.PrunedRefs, pruned...)
	}

	return result, nil
}

// ErrNoRemoteURL is returned by OptionsFromConfig when neither opts.URL nor
// the config carries a URL for the named remote.
var ErrNoRemoteURL = errors.New("fetch: no URL given and none configured for the remote")

// OptionsFromConfig fills opts' URL and Refspecs from cfg where the caller
// left them unset: the URL from the remote's configured URL, the refspecs
// from the remote's configured fetch refspecs. Explicitly supplied values
// always win over configured ones. It fails with ErrNoRemoteURL when no URL
// can be determined at all, before any backend is dialed.
func OptionsFromConfig(ctx context.Context, cfg storage.Config, opts Options) (Options, error) {
	if opts.URL == "" {
		if opts.Remote == "" {
			return opts, ErrNoRemoteURL
		}
		url, err := cfg.RemoteURL(ctx, opts.Remote)
		if err != nil {
			return opts, fmt.Errorf("%w: %v", ErrNoRemoteURL, err)
		}
		opts.URL = url
	}
	if len(opts.Refspecs) == 0 && opts.Remote != "" {
		refspecs, err := cfg.FetchRefspecs(ctx, opts.Remote)
		if err == nil && len(refspecs) > 0 {
			opts.Refspecs = refspecs
		}
	}
	return opts, nil
}

// remoteState is a discovered upload-pack remote: which protocol dialect
// it speaks, its capabilities, and its full ref list (from the v1
// advertisement directly, or a follow-up ls-refs command for v2).
type remoteState struct {
	Version int
	Caps    protocol.Capabilities
	Refs    []protocol.RefLine
}

// ListRemoteRefs performs capability discovery against the remote's
// upload-pack service and returns its capabilities and full ref list,
// whichever protocol dialect the server speaks. It is the same discovery
// step Fetch performs internally, exported so callers that only need to
// enumerate a remote's refs (ls-remote and clone)
// don't have to duplicate it.
func ListRemoteRefs(ctx context.Context, backend transport.Backend) (protocol.Capabilities, []protocol.RefLine, error) {
	remote, err := discoverRemote(ctx, backend)
	if err != nil {
		return nil, nil, err
	}
	return remote.Caps, remote.Refs, nil
}

// discoverRemote reads the upload-pack ref advertisement and, for a v2
// server, issues the ls-refs command the v2 dialect moved ref listing
// into. A v1 server's refs arrive with the advertisement itself, so the
// fallback (§4.6 step 2) costs no extra round trip.
func discoverRemote(ctx context.Context, backend transport.Backend) (*remoteState, error) {
	logger := log.FromContextOrNoop(ctx)

	info, err := backend.SmartInfo(ctx, "git-upload-pack")
	if err != nil {
		return nil, fmt.Errorf("fetch: discovering capabilities: %w", err)
	}
	defer info.Close()
	adv, err := protocol.ParseRefAdvertisement(info)
	if err != nil {
		return nil, fmt.Errorf("fetch: parsing ref advertisement: %w", err)
	}

	remote := &remoteState{Version: adv.Version, Caps: adv.Caps, Refs: adv.Refs}
	if adv.Version == 2 {
		if !adv.Caps.Has("fetch") {
			return nil, fmt.Errorf("fetch: remote speaks protocol v2 but does not advertise the fetch command")
		}
		remote.Refs, err = lsRefs(ctx, backend)
		if err != nil {
			return nil, err
		}
	} else {
		logger.Debug("fetch: remote speaks protocol v1, proceeding with the v1 dialect")
	}
	return remote, nil
}

func lsRefs(ctx context.Context, backend transport.Backend) ([]protocol.RefLine, error) {
	req, err := protocol.FormatPacks(
		protocol.PackLine("command=ls-refs"),
		protocol.PackLine("agent=gitcore/1.0"),
		protocol.DelimeterPacket,
		protocol.PackLine("peel"),
		protocol.PackLine("symrefs"),
	)
	if err != nil {
		return nil, err
	}
	resp, err := backend.UploadPack(ctx, bytes.NewReader(req))
	if err != nil {
		return nil, fmt.Errorf("fetch: requesting ls-refs: %w", err)
	}
	refs, err := protocol.ParseLsRefsResponse(ctx, resp)
	if err != nil {
		return nil, fmt.Errorf("fetch: parsing ls-refs response: %w", err)
	}
	return refs, nil
}

// defaultBranch returns the advertised HEAD ref's symref target, or "" if
// the remote advertised no HEAD (an empty repository).
func defaultBranch(advertised []protocol.RefLine) string {
	for _, r := range advertised {
		if r.RefName == "HEAD" {
			return r.SymrefTarget
		}
	}
	return ""
}

// describeFetchedRef formats a FETCH_HEAD description line per §4.6 step 14:
// "<branch|tag> '<abbrev>' of <url>".
func describeFetchedRef(remoteName, url string) string {
	kind, abbrev := "branch", remoteName
	switch {
	case strings.HasPrefix(remoteName, "refs/heads/"):
		abbrev = strings.TrimPrefix(remoteName, "refs/heads/")
	case strings.HasPrefix(remoteName, "refs/tags/"):
		kind = "tag"
		abbrev = strings.TrimPrefix(remoteName, "refs/tags/")
	}
	return fmt.Sprintf("%s '%s' of %s", kind, abbrev, url)
}

// matchTags returns a refMatch for every advertised "refs/tags/*" ref not
// already present in existing, landing each tag directly at its own name
// rather than under a remote-tracking namespace (§4.6 step 7's "tag oids if
// tags").
func matchTags(advertised []protocol.RefLine, existing []refMatch) []refMatch {
	seen := make(map[string]bool, len(existing))
	for _, m := range existing {
		seen[m.RemoteName] = true
	}
	var out []refMatch
	for _, r := range advertised {
		if !strings.HasPrefix(r.RefName, "refs/tags/") || seen[r.RefName] {
			continue
		}
		oid, err := hash.FromHex(r.OID)
		if err != nil {
			continue
		}
		out = append(out, refMatch{RemoteName: r.RefName, LocalName: r.RefName, OID: oid})
	}
	return out
}

// pruneRefs deletes every ref under prefix not present in keep, returning
// the names it removed.
func pruneRefs(ctx context.Context, refs storage.RefStore, prefix string, keep map[string]bool) ([]string, error) {
	existing, err := refs.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("fetch: listing %s for pruning: %w", prefix, err)
	}

	var updates []storage.RefUpdate
	var pruned []string
	for name, oid := range existing {
		if keep[name] {
			continue
		}
		updates = append(updates, storage.RefUpdate{Name: name, Old: oid, New: hash.Zero})
		pruned = append(pruned, name)
	}
	if len(updates) == 0 {
		return nil, nil
	}
	if err := refs.Update(ctx, updates); err != nil {
		return nil, fmt.Errorf("fetch: pruning %s: %w", prefix, err)
	}
	return pruned, nil
}

// fetchSubCapabilities returns the set of deepen-related capabilities the
// remote supports, normalized across dialects: a v2 server lists them in
// its "fetch" capability's value, a v1 server advertises each as a bare
// capability token of its own.
func fetchSubCapabilities(remote *remoteState) map[string]bool {
	if remote.Version == 2 {
		return remote.Caps.FetchSubCapabilities()
	}
	sub := make(map[string]bool)
	for _, name := range []string{"shallow", "deepen-since", "deepen-not", "deepen-relative"} {
		if remote.Caps.Has(name) {
			sub[name] = true
		}
	}
	return sub
}

// validateFetchCapabilities checks every option that depends on a fetch
// sub-capability against what the remote advertised, failing before
// buildFetchRequest ever runs so no option the remote can't satisfy
// results in a request being sent at all (§4.6 step 6, §7).
func validateFetchCapabilities(sub map[string]bool, opts Options) error {
	check := func(name, option string, want bool) error {
		if want && !sub[name] {
			return &MissingFetchCapabilityError{Capability: name, Option: option}
		}
		return nil
	}
	if err := check("shallow", "Depth", opts.Depth > 0); err != nil {
		return err
	}
	if err := check("deepen-since", "Since", !opts.Since.IsZero()); err != nil {
		return err
	}
	if err := check("deepen-not", "Exclude", len(opts.Exclude) > 0); err != nil {
		return err
	}
	if err := check("deepen-relative", "Relative", opts.Relative); err != nil {
		return err
	}
	return nil
}

// reconcileShallow applies the server's shallow-info section to current
// (§4.6 step 11): an "unshallow" entry removes that oid from the set; a
// "shallow" entry adds it, unless every one of its parents is already
// present in objects, in which case the commit is actually complete and the
// boundary doesn't apply.
func reconcileShallow(ctx context.Context, objects storage.ObjectStore, current []hash.Hash, shallowInfo []protocol.ShallowInfo) ([]hash.Hash, error) {
	set := make(map[string]hash.Hash, len(current))
	for _, oid := range current {
		set[oid.String()] = oid
	}

	for _, si := range shallowInfo {
		oid, err := hash.FromHex(si.Object)
		if err != nil {
			return nil, fmt.Errorf("fetch: parsing shallow-info oid %q: %w", si.Object, err)
		}
		switch si.Shallowness {
		case protocol.Unshallow:
			delete(set, oid.String())
		case protocol.Shallow:
			complete, err := commitIsComplete(ctx, objects, oid)
			if err != nil {
				return nil, err
			}
			if !complete {
				set[oid.String()] = oid
			}
		}
	}

	out := make([]hash.Hash, 0, len(set))
	for _, oid := range set {
		out = append(out, oid)
	}
	return out, nil
}

// commitIsComplete reports whether every parent of the commit at oid is
// already present in objects.
func commitIsComplete(ctx context.Context, objects storage.ObjectStore, oid hash.Hash) (bool, error) {
	obj, err := objects.Get(ctx, oid)
	if err != nil {
		return false, fmt.Errorf("fetch: reading shallow commit %s: %w", oid, err)
	}
	c, err := object.ParseCommit(obj.Content)
	if err != nil {
		return false, fmt.Errorf("fetch: parsing shallow commit %s: %w", oid, err)
	}
	for _, p := range c.Parents {
		parentOID, err := hash.FromHex(p)
		if err != nil {
			return false, fmt.Errorf("fetch: parsing parent oid %q: %w", p, err)
		}
		has, err := objects.Has(ctx, parentOID)
		if err != nil {
			return false, fmt.Errorf("fetch: checking parent %s: %w", parentOID, err)
		}
		if !has {
			return false, nil
		}
	}
	return true, nil
}

// existingHaves collects the oids already recorded under each matched ref's
// local name, so the fetch command can tell the server what it need not
// resend. This is a single-round negotiation: it only offers the previous
// tip of each ref being updated, not the full reachable history, so deep
// rewrites of remote history still transfer more than the theoretical
// minimum. Multi-round multi_ack negotiation is not implemented.
func existingHaves(ctx context.Context, refs storage.RefStore, matches []refMatch) ([]hash.Hash, error) {
	var haves []hash.Hash
	for _, m := range matches {
		oid, ok, err := refs.Resolve(ctx, m.LocalName)
		if err != nil {
			return nil, fmt.Errorf("fetch: resolving existing %s: %w", m.LocalName, err)
		}
		if ok {
			haves = append(haves, oid)
		}
	}
	return haves, nil
}

func objectFormat(algo crypto.Hash) string {
	if algo == crypto.SHA256 {
		return "sha256"
	}
	return "sha1"
}

func buildFetchRequest(matches []refMatch, haves []hash.Hash, shallow []hash.Hash, opts Options, sub map[string]bool, algo crypto.Hash) ([]byte, error) {
	args := []protocol.Pack{
		protocol.PackLine("command=fetch"),
		protocol.PackLine("object-format=" + objectFormat(algo)),
		protocol.DelimeterPacket,
		protocol.PackLine("thin-pack"),
		protocol.PackLine("ofs-delta"),
	}
	if sub["shallow"] {
		for _, oid := range shallow {
			args = append(args, protocol.PackLine("shallow "+oid.String()))
		}
	}
	if opts.Depth > 0 {
		args = append(args, protocol.PackLine(fmt.Sprintf("deepen %d", opts.Depth)))
	}
	if !opts.Since.IsZero() {
		args = append(args, protocol.PackLine(fmt.Sprintf("deepen-since %d", opts.Since.Unix())))
	}
	for _, rev := range opts.Exclude {
		args = append(args, protocol.PackLine("deepen-not "+rev))
	}
	if opts.Relative {
		args = append(args, protocol.PackLine("deepen-relative"))
	}
	for _, m := range matches {
		args = append(args, protocol.PackLine("want "+m.OID.String()))
	}
	for _, h := range haves {
		args = append(args, protocol.PackLine("have "+h.String()))
	}
	args = append(args, protocol.PackLine("done"))
	return protocol.FormatPacks(args...)
}

// buildFetchRequestV1 assembles a protocol v1 upload-pack request body:
// want lines (the first carrying the capabilities we echo back), shallow
// and deepen lines, a flush-pkt, then haves and "done". Ending with
// "done" keeps negotiation to a single round, matching the v2 path.
func buildFetchRequestV1(matches []refMatch, haves []hash.Hash, shallow []hash.Hash, opts Options, caps protocol.Capabilities) ([]byte, error) {
	var echo []string
	for _, name := range []string{"side-band-64k", "ofs-delta", "thin-pack", "no-progress"} {
		if caps.Has(name) {
			echo = append(echo, name)
		}
	}
	if caps.Has("agent") {
		echo = append(echo, "agent=gitcore/1.0")
	}

	var args []protocol.Pack
	for i, m := range matches {
		line := "want " + m.OID.String()
		if i == 0 && len(echo) > 0 {
			line += " " + strings.Join(echo, " ")
		}
		args = append(args, protocol.PackLine(line+"\n"))
	}
	if caps.Has("shallow") {
		for _, oid := range shallow {
			args = append(args, protocol.PackLine("shallow "+oid.String()+"\n"))
		}
	}
	if opts.Depth > 0 {
		args = append(args, protocol.PackLine(fmt.Sprintf("deepen %d\n", opts.Depth)))
	}
	if !opts.Since.IsZero() {
		args = append(args, protocol.PackLine(fmt.Sprintf("deepen-since %d\n", opts.Since.Unix())))
	}
	for _, rev := range opts.Exclude {
		args = append(args, protocol.PackLine("deepen-not "+rev+"\n"))
	}
	if opts.Relative {
		args = append(args, protocol.PackLine("deepen-relative\n"))
	}
	args = append(args, protocol.FlushPacket)
	for _, h := range haves {
		args = append(args, protocol.PackLine("have "+h.String()+"\n"))
	}
	args = append(args, protocol.PackLine("done\n"))
	return protocol.FormatPacks(args...)
}

func resolvePackfile(ctx context.Context, packData []byte, oidSize int, algo crypto.Hash, objects storage.ObjectStore) ([]pack.Object, error) {
	r, err := pack.NewReader(bytes.NewReader(packData), oidSize)
	if err != nil {
		return nil, fmt.Errorf("fetch: reading packfile header: %w", err)
	}

	external := func(oid hash.Hash) ([]byte, object.Type, bool) {
		obj, err := objects.Get(ctx, oid)
		if err != nil {
			return nil, 0, false
		}
		return obj.Content, obj.Type, true
	}

	resolved, err := pack.Resolve(ctx, r, algo, external)
	if err != nil {
		return nil, fmt.Errorf("fetch: resolving packfile: %w", err)
	}
	return resolved, nil
}

// buildIndex re-reads packData to recover each record's end offset (needed
// for the per-object CRC32 of the still-deflated on-disk bytes), and pairs
// those byte ranges with the objects resolve already computed. Objects
// resolve omitted (unresolvable delta bases in a truncated or thin pack)
// simply have no index entry; the index covers what was resolved (§4.6).
func buildIndex(packData []byte, oidSize int, resolved []pack.Object) (*pack.Index, error) {
	r, err := pack.NewReader(bytes.NewReader(packData), oidSize)
	if err != nil {
		return nil, fmt.Errorf("fetch: indexing packfile: %w", err)
	}

	var offsets []int64
	for {
		hdr, err := r.Next()
		if err != nil {
			// io.EOF is the clean end; anything else is the same truncation
			// Resolve already warned about.
			break
		}
		offsets = append(offsets, hdr.Offset)
		if _, err := io.Copy(io.Discard, r); err != nil {
			break
		}
	}

	trailerStart := len(packData) - oidSize
	ends := make(map[int64]int64, len(offsets))
	for i, off := range offsets {
		end := int64(trailerStart)
		if i+1 < len(offsets) {
			end = offsets[i+1]
		} else if end < off {
			end = int64(len(packData))
		}
		ends[off] = end
	}

	entries := make([]pack.IndexEntry, 0, len(resolved))
	for _, obj := range resolved {
		end, ok := ends[obj.Offset]
		if !ok {
			return nil, fmt.Errorf("fetch: indexing packfile: resolved object %s at offset %d has no record boundary", obj.OID, obj.Offset)
		}
		entries = append(entries, pack.IndexEntry{
			OID:    obj.OID,
			CRC32:  crc32.ChecksumIEEE(packData[obj.Offset:end]),
			Offset: obj.Offset,
		})
	}

	packSHA := append([]byte(nil), packData[trailerStart:]...)
	return pack.NewIndex(oidSize, entries, packSHA), nil
}
