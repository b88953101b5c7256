package bucketdb

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/bucketdb/ledger"
)

// MergeKey is the structural identity of a merge: the bucket manager uses
// it to dedup concurrent identical merges. It is not part of the bucket
// file content.
type MergeKey struct {
	KeepDeadEntries bool
	OldHash         ledger.Hash
	NewHash         ledger.Hash
	ShadowHashes    []ledger.Hash
}

// NewMergeKey builds the merge key for the given inputs.
func NewMergeKey(keepDeadEntries bool, oldBucket, newBucket *Bucket, shadows []*Bucket) MergeKey {
	mk := MergeKey{
		KeepDeadEntries: keepDeadEntries,
		OldHash:         oldBucket.Hash(),
		NewHash:         newBucket.Hash(),
	}
	for _, s := range shadows {
		mk.ShadowHashes = append(mk.ShadowHashes, s.Hash())
	}
	return mk
}

// String renders a stable identity string, usable as a dedup key.
func (mk MergeKey) String() string {
	s := fmt.Sprintf("merge keep=%t old=%x new=%x", mk.KeepDeadEntries, mk.OldHash, mk.NewHash)
	for _, h := range mk.ShadowHashes {
		s += fmt.Sprintf(" shadow=%x", h)
	}
	return s
}

// MergeOptions configures a merge.
type MergeOptions struct {
	// KeepDeadEntries controls the oldest-level tombstone filter at the
	// output stage. The bucket-list scheduler sets it; it is independent of
	// shadowing.
	KeepDeadEntries bool

	// CountMergeEvents publishes the merge counters to the manager.
	CountMergeEvents bool

	// DoFsync syncs the output file before publication.
	DoFsync bool

	// Observer receives merge timing; nil for none.
	Observer MetricsObserver
}

// shutdownCheckInterval is how many merge iterations pass between shutdown
// polls. Per-record checks would cost throughput for no benefit.
const shutdownCheckInterval = 1000

// Merge streams two buckets into a new third bucket, collapsing equal-key
// pairs under lifecycle semantics and eliding entries shadowed by the given
// newer buckets, while computing the output's content hash in the same
// pass. Deterministic: identical inputs and shadow order produce a
// byte-identical bucket.
func Merge(ctx context.Context, mgr BucketManager, maxProtocolVersion uint32, oldBucket, newBucket *Bucket, shadows []*Bucket, opts MergeOptions) (_ *Bucket, err error) {
	if oldBucket == nil || newBucket == nil {
		return nil, fmt.Errorf("bucketdb: merge requires both input buckets")
	}

	obs := opts.Observer
	if obs == nil {
		obs = &NoopMetricsObserver{}
	}
	var mc MergeCounters
	start := time.Now()
	defer func() {
		obs.OnMerge(time.Since(start), mc, err)
	}()

	rc := mgr.Controller()
	if err := rc.AcquireMergeSlot(ctx); err != nil {
		return nil, err
	}
	defer rc.ReleaseMergeSlot()

	oi, err := newInputIterator(oldBucket)
	if err != nil {
		return nil, err
	}
	defer func() { _ = oi.close() }()

	ni, err := newInputIterator(newBucket)
	if err != nil {
		return nil, err
	}
	defer func() { _ = ni.close() }()

	shadowIterators := make([]*inputIterator, 0, len(shadows))
	defer func() {
		for _, si := range shadowIterators {
			_ = si.close()
		}
	}()
	for _, s := range shadows {
		si, err := newInputIterator(s)
		if err != nil {
			return nil, err
		}
		shadowIterators = append(shadowIterators, si)
	}

	protocolVersion, keepShadowedLifecycleEntries, err :=
		calculateMergeProtocolVersion(&mc, maxProtocolVersion, oi, ni, shadowIterators)
	if err != nil {
		return nil, err
	}

	meta := ledger.BucketMetadata{LedgerVersion: protocolVersion}
	out, err := newOutputIterator(mgr, opts.KeepDeadEntries, meta, &mc, outputConfig{
		doFsync: opts.DoFsync,
		writeWrap: func(w io.Writer) io.Writer {
			return rc.NewRateLimitedWriter(ctx, w)
		},
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			out.abort()
		}
	}()

	var iter int
	for oi.ok() || ni.ok() {
		// Check if the merge should be stopped every few entries.
		if iter++; iter >= shutdownCheckInterval {
			iter = 0
			if mgr.IsShutdown() || ctx.Err() != nil {
				// Safe to bail: the temp file has not been adopted yet and
				// the deferred abort removes it.
				return nil, ErrMergeShutdown
			}
		}

		accepted, err := mergeCasesWithDefaultAcceptance(&mc, oi, ni, out, shadowIterators, protocolVersion, keepShadowedLifecycleEntries)
		if err != nil {
			return nil, err
		}
		if !accepted {
			if err := mergeCasesWithEqualKeys(&mc, oi, ni, out, shadowIterators, protocolVersion, keepShadowedLifecycleEntries); err != nil {
				return nil, err
			}
		}
	}

	if opts.CountMergeEvents {
		mgr.IncrMergeCounters(mc)
	}

	mk := NewMergeKey(opts.KeepDeadEntries, oldBucket, newBucket, shadows)
	return out.bucket(ctx, mgr, &mk)
}

// The protocol used in a merge is the maximum of any of the protocols used
// in its input buckets, including any shadow below the shadow-removal
// protocol. Once newer levels have cut over to the INIT-supporting merge
// algorithm, INIT+DEAD annihilations can revive older state unless every
// level simultaneously switches to the conservative shadowing mode that
// preserves lifecycle events, so the cut-over is driven by the computed
// maximum rather than per-bucket versions.
func calculateMergeProtocolVersion(mc *MergeCounters, maxProtocolVersion uint32, oi, ni *inputIterator, shadowIterators []*inputIterator) (uint32, bool, error) {
	protocolVersion := max(oi.metadata().LedgerVersion, ni.metadata().LedgerVersion)

	// From FirstProtocolShadowsRemoved on, only shadows below that version
	// participate, so a bucket may still perform an old-style merge despite
	// new-protocol shadows being present.
	for _, si := range shadowIterators {
		version := si.metadata().LedgerVersion
		if ProtocolVersionIsBefore(version, FirstProtocolShadowsRemoved) {
			protocolVersion = max(version, protocolVersion)
		}
	}

	if protocolVersion > maxProtocolVersion {
		return 0, false, fmt.Errorf("%w: %d > %d", ErrProtocolTooNew, protocolVersion, maxProtocolVersion)
	}

	// At-or-after the INIT-supporting protocol, shadowing switches to the
	// conservative mode that keeps INIT and DEAD records.
	keepShadowedLifecycleEntries := true
	if ProtocolVersionIsBefore(protocolVersion, FirstProtocolSupportingInitEntryAndMetaEntry) {
		mc.PreInitEntryProtocolMerges++
		keepShadowedLifecycleEntries = false
	} else {
		mc.PostInitEntryProtocolMerges++
	}

	if ProtocolVersionIsBefore(protocolVersion, FirstProtocolShadowsRemoved) {
		mc.PreShadowRemovalProtocolMerges++
	} else {
		if len(shadowIterators) != 0 {
			return 0, false, ErrShadowsUnsupported
		}
		mc.PostShadowRemovalProtocolMerges++
	}

	return protocolVersion, keepShadowedLifecycleEntries, nil
}

// maybePut emits an entry unless it is shadowed by a newer bucket.
//
// Before the INIT-supporting protocol every shadowed entry is dropped. From
// that protocol on, only LIVE entries may be elided: DEAD records are kept
// so that a newer shadow cannot accidentally revive an old key by eliding
// its tombstone, and INIT records are kept so that a preserved DEAD
// eventually meets and annihilates its own INIT instead of accumulating
// redundant tombstones.
//
// This controls elision due to shadows only; the oldest-level tombstone
// filter lives in the output iterator and applies independent of protocol.
func maybePut(out *outputIterator, e ledger.BucketEntry, shadowIterators []*inputIterator, keepShadowedLifecycleEntries bool, mc *MergeCounters) error {
	if keepShadowedLifecycleEntries &&
		(e.Type == ledger.BucketEntryTypeInit || e.Type == ledger.BucketEntryTypeDead) {
		// Never shadowed in this mode; no point scanning shadows.
		return out.put(e)
	}

	for _, si := range shadowIterators {
		// Advance the shadow iterator while it is less than the candidate.
		for si.ok() && ledger.CompareBucketEntries(si.peek(), e) < 0 {
			mc.ShadowScanSteps++
			if err := si.advance(); err != nil {
				return err
			}
		}
		// Either si is exhausted or *si >= e; equality means shadowed.
		if si.ok() && ledger.CompareBucketEntries(si.peek(), e) == 0 {
			countShadowedEntryType(mc, e)
			return nil
		}
	}
	return out.put(e)
}

func countShadowedEntryType(mc *MergeCounters, e ledger.BucketEntry) {
	switch e.Type {
	case ledger.BucketEntryTypeMeta:
		mc.MetaEntryShadowElisions++
	case ledger.BucketEntryTypeInit:
		mc.InitEntryShadowElisions++
	case ledger.BucketEntryTypeLive:
		mc.LiveEntryShadowElisions++
	case ledger.BucketEntryTypeDead:
		mc.DeadEntryShadowElisions++
	}
}

func countOldEntryType(mc *MergeCounters, e ledger.BucketEntry) {
	switch e.Type {
	case ledger.BucketEntryTypeMeta:
		mc.OldMetaEntries++
	case ledger.BucketEntryTypeInit:
		mc.OldInitEntries++
	case ledger.BucketEntryTypeLive:
		mc.OldLiveEntries++
	case ledger.BucketEntryTypeDead:
		mc.OldDeadEntries++
	}
}

func countNewEntryType(mc *MergeCounters, e ledger.BucketEntry) {
	switch e.Type {
	case ledger.BucketEntryTypeMeta:
		mc.NewMetaEntries++
	case ledger.BucketEntryTypeInit:
		mc.NewInitEntries++
	case ledger.BucketEntryTypeLive:
		mc.NewLiveEntries++
	case ledger.BucketEntryTypeDead:
		mc.NewDeadEntries++
	}
}

// There are four "easy" cases for merging: exhausted iterators on either
// side, or entries that compare non-equal. In all of them the lesser (or
// remaining) entry is taken without scrutinizing its type further.
func mergeCasesWithDefaultAcceptance(mc *MergeCounters, oi, ni *inputIterator, out *outputIterator, shadowIterators []*inputIterator, protocolVersion uint32, keepShadowedLifecycleEntries bool) (bool, error) {
	switch {
	case !ni.ok() || (oi.ok() && ledger.CompareBucketEntries(oi.peek(), ni.peek()) < 0):
		// Out of new entries, or the old entry has the smaller key.
		mc.OldEntriesDefaultAccepted++
		e := oi.peek()
		if err := checkProtocolLegality(e, protocolVersion); err != nil {
			return false, err
		}
		countOldEntryType(mc, e)
		if err := maybePut(out, e, shadowIterators, keepShadowedLifecycleEntries, mc); err != nil {
			return false, err
		}
		return true, oi.advance()

	case !oi.ok() || ledger.CompareBucketEntries(ni.peek(), oi.peek()) < 0:
		// Out of old entries, or the new entry has the smaller key.
		mc.NewEntriesDefaultAccepted++
		e := ni.peek()
		if err := checkProtocolLegality(e, protocolVersion); err != nil {
			return false, err
		}
		countNewEntryType(mc, e)
		if err := maybePut(out, e, shadowIterators, keepShadowedLifecycleEntries, mc); err != nil {
			return false, err
		}
		return true, ni.advance()
	}
	return false, nil
}

// mergeCasesWithEqualKeys resolves an equal-key pair through the lifecycle
// state table:
//
//	  old    |   new   |   result
//	---------+---------+-----------
//	 INIT    |  INIT   |   error
//	 LIVE    |  INIT   |   error
//	 DEAD    |  INIT=x |   LIVE=x
//	 INIT=x  |  LIVE=y |   INIT=y
//	 INIT    |  DEAD   |   empty
//	 other   |  other  |   new
//
// The table preserves two invariants: the reader-observable view (liveness
// and value) of the pair equals that of the merged record, and an INIT
// record's chronological predecessor state stays DEAD-or-absent, which is
// what later allows INIT+DEAD pairs to annihilate without reviving an older
// state of the key.
func mergeCasesWithEqualKeys(mc *MergeCounters, oi, ni *inputIterator, out *outputIterator, shadowIterators []*inputIterator, protocolVersion uint32, keepShadowedLifecycleEntries bool) error {
	oldEntry := oi.peek()
	newEntry := ni.peek()
	if err := checkProtocolLegality(oldEntry, protocolVersion); err != nil {
		return err
	}
	if err := checkProtocolLegality(newEntry, protocolVersion); err != nil {
		return err
	}
	countOldEntryType(mc, oldEntry)
	countNewEntryType(mc, newEntry)

	switch {
	case newEntry.Type == ledger.BucketEntryTypeInit:
		// The only legal new-is-INIT case is merging a delete+create into
		// an update.
		if oldEntry.Type != ledger.BucketEntryTypeDead {
			return fmt.Errorf("%w: old non-DEAD + new INIT", ErrMalformedBucket)
		}
		mc.NewInitEntriesMergedWithOldDead++
		newLive := ledger.LiveBucketEntry(*newEntry.Live)
		if err := maybePut(out, newLive, shadowIterators, keepShadowedLifecycleEntries, mc); err != nil {
			return err
		}

	case oldEntry.Type == ledger.BucketEntryTypeInit:
		// New is not INIT here; it is LIVE or DEAD.
		if newEntry.Type == ledger.BucketEntryTypeLive {
			// Merge a create+update into a fresher create.
			mc.OldInitEntriesMergedWithNewLive++
			newInit := ledger.InitBucketEntry(*newEntry.Live)
			if err := maybePut(out, newInit, shadowIterators, keepShadowedLifecycleEntries, mc); err != nil {
				return err
			}
		} else {
			// Merge a create+delete into nothingness.
			mc.OldInitEntriesMergedWithNewDead++
		}

	default:
		// Neither is in INIT state; take the newer one.
		mc.NewEntriesMergedWithOldNeitherInit++
		if err := maybePut(out, newEntry, shadowIterators, keepShadowedLifecycleEntries, mc); err != nil {
			return err
		}
	}

	if err := oi.advance(); err != nil {
		return err
	}
	return ni.advance()
}
