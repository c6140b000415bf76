// Package push orchestrates a complete push: receive-pack discovery,
// pre-push hook invocation, the non-fast-forward and tag-overwrite guards,
// thin-pack object selection, packfile assembly, and remote-tracking ref
// update from the report-status response.
//
// Like package fetch, it is written entirely against transport.Backend and
// the storage ports; it knows nothing about HTTP, TCP, SSH, or any
// particular persistence layer.
package push

import (
	"bytes"
	"context"
	"crypto"
	"fmt"
	"io"
	"strings"

	"github.com/nanogit/gitcore/pack"
	"github.com/nanogit/gitcore/protocol"
	"github.com/nanogit/gitcore/protocol/hash"
	"github.com/nanogit/gitcore/sideband"
	"github.com/nanogit/gitcore/storage"
	"github.com/nanogit/gitcore/transport"
)

// ObjectStore is the storage port push needs: content-addressed object
// access plus the commit-graph queries the non-fast-forward guard and
// thin-pack object selection depend on.
type ObjectStore interface {
	storage.ObjectStore
	storage.CommitGraph
}

// Options configures a Push call.
type Options struct {
	// LocalRef is the full name of the ref being pushed, e.g.
	// "refs/heads/main". Only used for the pre-push hook payload and to
	// default RemoteRef.
	LocalRef string
	// OID is the object the ref should point to after the push. Ignored
	// (and may be left zero) if Delete is set.
	OID hash.Hash
	// RemoteRef is the full ref name on the remote to update. Defaults to
	// LocalRef.
	RemoteRef string
	// Delete requests the remote ref be removed rather than updated.
	Delete bool
	// Force skips the non-fast-forward and tag-overwrite guards.
	Force bool
	// Remote, if non-empty, causes a successful non-delete push to update
	// refs/remotes/<Remote>/<shortname> in Refs to OID afterwards.
	Remote string
	// Refs is consulted (and updated, if Remote is set) for the local
	// remote-tracking ref. May be nil if no tracking update is wanted.
	Refs storage.RefStore
	// PrePush, if set, is invoked before any bytes are sent to the remote
	// with the same four fields git would put on a pre-push hook's stdin.
	// Returning an error aborts the push with ErrPrePushRejected.
	PrePush func(ctx context.Context, localRef, localOID, remoteRef, remoteOID string) error
	// PostPush, if set, is invoked after the remote's response has been
	// parsed, successful or not. Its error does not change the push's
	// outcome; it is returned only if the push itself succeeded.
	PostPush func(ctx context.Context, result *Result) error
	// HashAlgo selects the oid hash function; defaults to crypto.SHA1.
	HashAlgo crypto.Hash
}

// RefResult is one ref's outcome as reported by the remote.
type RefResult struct {
	RefName string
	OK      bool
	Error   string
}

// Result summarizes a completed push.
type Result struct {
	// OK is true only if the pack unpacked cleanly and every ref reported
	// ok (§4.3.5).
	OK   bool
	Refs []RefResult
}

// ErrPrePushRejected is returned when the configured PrePush hook returns
// an error; the push is aborted before any bytes reach the remote.
var ErrPrePushRejected = fmt.Errorf("push: rejected by pre-push hook")

// RejectedError is returned when the non-fast-forward or tag-overwrite
// guard refuses a push that would otherwise have been sent.
type RejectedError struct {
	RefName string
	Reason  string // "not-fast-forward" or "tag-exists"
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("push: %s rejected: %s", e.RefName, e.Reason)
}

// RemoteError is returned when the remote accepted the connection but
// reported the pack or one or more refs failed.
type RemoteError struct {
	UnpackError string
	Refs        []RefResult
}

func (e *RemoteError) Error() string {
	if e.UnpackError != "" {
		return fmt.Sprintf("push: remote failed to unpack: %s", e.UnpackError)
	}
	var failed []string
	for _, r := range e.Refs {
		if !r.OK {
			failed = append(failed, fmt.Sprintf("%s (%s)", r.RefName, r.Error))
		}
	}
	return fmt.Sprintf("push: remote rejected refs: %s", strings.Join(failed, ", "))
}

// Push performs a complete push of opts.OID to opts.RemoteRef (or its
// deletion) against backend, sourcing objects from objects.
func Push(ctx context.Context, backend transport.Backend, objects ObjectStore, opts Options) (*Result, error) {
	algo := opts.HashAlgo
	if algo == 0 {
		algo = crypto.SHA1
	}
	oidSize := algo.Size()
	zeroOID := strings.Repeat("0", oidSize*2)

	remoteRef := opts.RemoteRef
	if remoteRef == "" {
		remoteRef = opts.LocalRef
	}
	if remoteRef == "" {
		return nil, fmt.Errorf("push: RemoteRef or LocalRef is required")
	}

	caps, remoteRefs, err := discover(ctx, backend)
	if err != nil {
		return nil, err
	}

	oldOIDHex := zeroOID
	for _, r := range remoteRefs {
		if r.RefName == remoteRef {
			oldOIDHex = r.OID
			break
		}
	}
	oldOID, err := hash.FromHex(oldOIDHex)
	if err != nil {
		return nil, fmt.Errorf("push: parsing remote oid for %s: %w", remoteRef, err)
	}
	if oldOIDHex == zeroOID {
		oldOID = hash.Zero
	}

	newOID := opts.OID
	newOIDHex := newOID.String()
	if opts.Delete {
		newOID = hash.Zero
		newOIDHex = zeroOID
	} else if len(newOID) != oidSize {
		return nil, fmt.Errorf("push: OID is required for a non-delete push")
	}

	if opts.PrePush != nil {
		localOIDHex := opts.OID.String()
		if localOIDHex == "" {
			localOIDHex = zeroOID
		}
		if err := opts.PrePush(ctx, opts.LocalRef, localOIDHex, remoteRef, oldOIDHex); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrPrePushRejected, err)
		}
	}

	if !opts.Force && !opts.Delete && oldOIDHex != zeroOID {
		if strings.HasPrefix(remoteRef, "refs/tags/") {
			return nil, &RejectedError{RefName: remoteRef, Reason: "tag-exists"}
		}
		isAncestor, err := objects.IsAncestor(ctx, newOID, oldOID)
		if err != nil {
			return nil, fmt.Errorf("push: checking fast-forward: %w", err)
		}
		if !isAncestor {
			return nil, &RejectedError{RefName: remoteRef, Reason: "not-fast-forward"}
		}
	}

	var packData []byte
	if !opts.Delete {
		packData, err = buildPackfile(ctx, objects, newOID, oldOID, remoteRefs, algo, caps)
		if err != nil {
			return nil, err
		}
	}

	reqCaps := negotiatePushCaps(caps)
	reqBody, err := protocol.BuildReceivePackRequest(
		[]protocol.ReceivePackUpdate{{OldOID: oldOIDHex, NewOID: newOIDHex, RefName: remoteRef}},
		reqCaps, packData, zeroOID,
	)
	if err != nil {
		return nil, fmt.Errorf("push: building receive-pack request: %w", err)
	}

	respStream, err := backend.ReceivePack(ctx, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("push: sending receive-pack request: %w", err)
	}
	defer respStream.Close()

	// report-status itself always travels as plain pkt-lines; side-band-64k
	// only changes how those pkt-lines are wrapped in transit, so a
	// negotiated side-band-64k response is demuxed back down to the same
	// plain report-status stream before ParseReceivePackResponse ever sees
	// it (§4.7 step 7).
	reportStatus := io.Reader(respStream)
	if caps.Has("side-band-64k") {
		var buf bytes.Buffer
		if err := sideband.Demux(ctx, respStream, &buf); err != nil {
			return nil, fmt.Errorf("push: demuxing side-band report-status: %w", err)
		}
		reportStatus = &buf
	}

	resp, err := protocol.ParseReceivePackResponse(reportStatus)
	if err != nil {
		return nil, fmt.Errorf("push: parsing receive-pack response: %w", err)
	}

	result := &Result{OK: resp.OK()}
	for _, rs := range resp.Refs {
		result.Refs = append(result.Refs, RefResult{RefName: rs.RefName, OK: rs.OK, Error: rs.Reason})
	}
	if opts.PostPush != nil {
		if hookErr := opts.PostPush(ctx, result); hookErr != nil && resp.OK() {
			return result, fmt.Errorf("push: post-push hook: %w", hookErr)
		}
	}
	if !resp.OK() {
		return result, &RemoteError{UnpackError: resp.UnpackError, Refs: result.Refs}
	}

	if opts.Remote != "" && opts.Refs != nil {
		shortname := strings.TrimPrefix(remoteRef, "refs/heads/")
		trackingRef := fmt.Sprintf("refs/remotes/%s/%s", opts.Remote, shortname)
		if opts.Delete {
			if old, ok, err := opts.Refs.Resolve(ctx, trackingRef); err == nil && ok {
				if err := opts.Refs.Update(ctx, []storage.RefUpdate{{Name: trackingRef, Old: old, New: hash.Zero}}); err != nil {
					return nil, fmt.Errorf("push: deleting tracking ref %s: %w", trackingRef, err)
				}
			}
		} else {
			update := storage.RefUpdate{Name: trackingRef, New: newOID}
			if old, ok, err := opts.Refs.Resolve(ctx, trackingRef); err == nil && ok {
				update.Old = old
			}
			if err := opts.Refs.Update(ctx, []storage.RefUpdate{update}); err != nil {
				return nil, fmt.Errorf("push: updating tracking ref %s: %w", trackingRef, err)
			}
		}
	}

	return result, nil
}

// discover performs ref discovery against the git-receive-pack service.
// receive-pack never speaks protocol v2: the server's capability and ref
// advertisement arrive together in a single v1 response, with no separate
// ls-refs round trip.
func discover(ctx context.Context, backend transport.Backend) (protocol.Capabilities, []protocol.RefLine, error) {
	info, err := backend.SmartInfo(ctx, "git-receive-pack")
	if err != nil {
		return nil, nil, fmt.Errorf("push: discovering capabilities: %w", err)
	}
	defer info.Close()
	adv, err := protocol.ParseRefAdvertisement(info)
	if err != nil {
		return nil, nil, fmt.Errorf("push: parsing receive-pack advertisement: %w", err)
	}
	return adv.Caps, adv.Refs, nil
}

// negotiatePushCaps filters the request's capabilities down to what the
// server actually advertised and what §4.7 step 7 asks the client to
// request: report-status to interpret the response at all, side-band-64k
// so progress/fatal messages don't get mistaken for report-status lines,
// and agent, which is purely informational and is sent whether or not the
// server advertised it.
func negotiatePushCaps(caps protocol.Capabilities) []string {
	var out []string
	if caps.Has("report-status") {
		out = append(out, "report-status")
	}
	if caps.Has("side-band-64k") {
		out = append(out, "side-band-64k")
	}
	out = append(out, "agent=gitcore/1.0")
	return out
}

// buildPackfile computes the push object set for newOID: the commits (and
// tags) it introduces relative to the refs the remote advertised, bounded
// below by the merge bases with the old tip, plus everything those commits
// reference. When the server hasn't advertised no-thin, objects already
// reachable from a remote ref are subtracted, so the pack can reference
// them instead of resending them (a thin pack).
func buildPackfile(ctx context.Context, objects ObjectStore, newOID, oldOID hash.Hash, remoteRefs []protocol.RefLine, algo crypto.Hash, caps protocol.Capabilities) ([]byte, error) {
	// Remote tips we also hold locally bound the walk and feed the
	// thin-pack subtraction.
	var knownRemoteOIDs []hash.Hash
	for _, r := range remoteRefs {
		oid, err := hash.FromHex(r.OID)
		if err != nil || oid.String() == strings.Repeat("0", len(oid.String())) {
			continue
		}
		if has, err := objects.Has(ctx, oid); err == nil && has {
			knownRemoteOIDs = append(knownRemoteOIDs, oid)
		}
	}

	finish := append([]hash.Hash(nil), knownRemoteOIDs...)
	if !hash.Zero.Is(oldOID) {
		if has, err := objects.Has(ctx, oldOID); err == nil && has {
			bases, err := objects.FindMergeBase(ctx, []hash.Hash{newOID, oldOID})
			if err != nil {
				return nil, fmt.Errorf("push: finding merge base: %w", err)
			}
			finish = append(finish, bases...)
		}
	}

	commits, err := objects.ListCommitsAndTags(ctx, []hash.Hash{newOID}, finish)
	if err != nil {
		return nil, fmt.Errorf("push: listing commits to send: %w", err)
	}
	starts := make([]hash.Hash, 0, len(commits))
	for _, oid := range commits {
		starts = append(starts, oid)
	}
	reachable, err := objects.ListReachableObjects(ctx, starts)
	if err != nil {
		return nil, fmt.Errorf("push: listing reachable objects: %w", err)
	}

	if !caps.Has("no-thin") && len(knownRemoteOIDs) > 0 {
		remoteReachable, err := objects.ListReachableObjects(ctx, knownRemoteOIDs)
		if err != nil {
			return nil, fmt.Errorf("push: listing remote-reachable objects: %w", err)
		}
		for k := range remoteReachable {
			delete(reachable, k)
		}
	}

	objs := make([]pack.Object, 0, len(reachable))
	for _, oid := range reachable {
		obj, err := objects.Get(ctx, oid)
		if err != nil {
			return nil, fmt.Errorf("push: reading object %s: %w", oid, err)
		}
		objs = append(objs, *obj)
	}

	var buf bytes.Buffer
	if err := pack.WriteTo(&buf, algo, objs); err != nil {
		return nil, fmt.Errorf("push: writing packfile: %w", err)
	}
	return buf.Bytes(), nil
}
