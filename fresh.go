package bucketdb

import (
	"context"
	"fmt"
	"sort"

	"github.com/hupe1980/bucketdb/ledger"
)

// FreshOptions configures Fresh.
type FreshOptions struct {
	// KeepDeadEntries controls the tombstone filter at the output stage.
	// The bucket-list scheduler passes false only for the oldest level.
	KeepDeadEntries bool

	// CountMergeEvents publishes the build counters to the manager.
	CountMergeEvents bool

	// DoFsync syncs the output file before publication.
	DoFsync bool
}

// convertToBucketEntries tags the input vectors with their lifecycle state
// and sorts them. The caller must not supply conflicting entries for the
// same key; adjacent equal keys after sorting are rejected.
func convertToBucketEntries(useInit bool, initEntries, liveEntries []ledger.LedgerEntry, deadEntries []ledger.LedgerKey) ([]ledger.BucketEntry, error) {
	out := make([]ledger.BucketEntry, 0, len(initEntries)+len(liveEntries)+len(deadEntries))
	for _, e := range initEntries {
		if useInit {
			out = append(out, ledger.InitBucketEntry(e))
		} else {
			out = append(out, ledger.LiveBucketEntry(e))
		}
	}
	for _, e := range liveEntries {
		out = append(out, ledger.LiveBucketEntry(e))
	}
	for _, k := range deadEntries {
		out = append(out, ledger.DeadBucketEntry(k))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return ledger.CompareBucketEntries(out[i], out[j]) < 0
	})
	for i := 1; i < len(out); i++ {
		if ledger.CompareBucketEntries(out[i-1], out[i]) == 0 {
			return nil, fmt.Errorf("%w: duplicate key %v in fresh bucket input", ErrMalformedBucket, out[i].Key())
		}
	}
	return out, nil
}

// Fresh builds a published bucket from unsorted init/live/dead input
// vectors. Before the INIT-supporting protocol, init entries are downgraded
// to LIVE for compatibility.
func Fresh(ctx context.Context, mgr BucketManager, protocolVersion uint32, initEntries, liveEntries []ledger.LedgerEntry, deadEntries []ledger.LedgerKey, opts FreshOptions) (*Bucket, error) {
	useInit := ProtocolVersionStartsFrom(protocolVersion, FirstProtocolSupportingInitEntryAndMetaEntry)

	entries, err := convertToBucketEntries(useInit, initEntries, liveEntries, deadEntries)
	if err != nil {
		return nil, err
	}

	var mc MergeCounters
	meta := ledger.BucketMetadata{LedgerVersion: protocolVersion}
	out, err := newOutputIterator(mgr, opts.KeepDeadEntries, meta, &mc, outputConfig{
		doFsync: opts.DoFsync,
	})
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if err := out.put(e); err != nil {
			out.abort()
			return nil, err
		}
	}

	if opts.CountMergeEvents {
		mgr.IncrMergeCounters(mc)
	}
	return out.bucket(ctx, mgr, nil)
}
