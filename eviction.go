package bucketdb

import (
	"fmt"

	"github.com/hupe1980/bucketdb/ledger"
)

// LedgerTxn is the transactional ledger store consulted during eviction.
// LoadWithoutRecord returns (nil, nil) for an absent key; loads are not
// recorded as reads of the transaction. LoadWithoutRecord followed by Erase
// is atomic within the transaction.
type LedgerTxn interface {
	LoadWithoutRecord(key ledger.LedgerKey) (*ledger.LedgerEntry, error)
	Erase(key ledger.LedgerKey) error
}

// EvictionIterator is the externalized cursor of an eviction scan. Callers
// persist it across calls and reset the offset at bucket boundaries.
type EvictionIterator struct {
	BucketFileOffset int64
}

// EvictionMetrics accumulates eviction statistics across scan passes.
type EvictionMetrics struct {
	NumEntriesEvicted    uint64
	EvictedEntriesAgeSum uint64
}

// ScanForEviction resumes a scan over this bucket at iter's offset,
// expiring TTL-bound temporary entries whose TTL has lapsed at ledgerSeq,
// until bytesToScan bytes have been read or remainingEntriesToEvict
// evictions have happened.
//
// It returns false when the bucket is exhausted or skipped (pre-Soroban or
// empty), telling the caller to move to the next bucket, and true when a
// budget ran out. Budgets are decremented in place.
func (b *Bucket) ScanForEviction(
	ltx LedgerTxn,
	iter *EvictionIterator,
	bytesToScan *uint64,
	remainingEntriesToEvict *uint32,
	ledgerSeq uint32,
	metrics *EvictionMetrics,
	obs MetricsObserver,
) (bool, error) {
	if obs == nil {
		obs = &NoopMetricsObserver{}
	}

	if b.IsEmpty() {
		return false, nil
	}
	version, err := GetBucketVersion(b)
	if err != nil {
		return false, err
	}
	if ProtocolVersionIsBefore(version, SorobanProtocolVersion) {
		// Nothing evictable here; skip to the next bucket.
		return false, nil
	}

	if *remainingEntriesToEvict == 0 || *bytesToScan == 0 {
		// Reached the end of the scan region.
		return true, nil
	}

	stream, err := b.getEvictionStream()
	if err != nil {
		return false, err
	}
	stream.Seek(iter.BucketFileOffset)

	var (
		evicted      int
		bytesScanned int64
	)
	defer func() {
		obs.OnEviction(evicted, bytesScanned)
	}()

	var e ledger.BucketEntry
	for {
		ok, err := stream.ReadOne(&e)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}

		if e.Type == ledger.BucketEntryTypeInit || e.Type == ledger.BucketEntryTypeLive {
			le := *e.Live
			if ledger.IsTemporary(le.Data) {
				shouldEvict, liveUntilLedger, err := checkShouldEvict(ltx, le, ledgerSeq)
				if err != nil {
					return false, err
				}
				if shouldEvict {
					if metrics != nil {
						metrics.NumEntriesEvicted++
						metrics.EvictedEntriesAgeSum += uint64(ledgerSeq - liveUntilLedger)
					}
					ttlKey := ledger.TTLKeyForEntry(le)
					if err := ltx.Erase(ttlKey); err != nil {
						return false, err
					}
					if err := ltx.Erase(ledger.EntryKey(le)); err != nil {
						return false, err
					}
					evicted++
					*remainingEntriesToEvict--
				}
			}
		}

		newPos := stream.Pos()
		bytesRead := uint64(newPos - iter.BucketFileOffset)
		iter.BucketFileOffset = newPos
		bytesScanned += int64(bytesRead)

		if bytesRead >= *bytesToScan {
			// Reached the end of the scan region.
			*bytesToScan = 0
			return true, nil
		}
		if *remainingEntriesToEvict == 0 {
			return true, nil
		}
		*bytesToScan -= bytesRead
	}
}

func checkShouldEvict(ltx LedgerTxn, le ledger.LedgerEntry, ledgerSeq uint32) (bool, uint32, error) {
	ttlKey := ledger.TTLKeyForEntry(le)

	entry, err := ltx.LoadWithoutRecord(ledger.EntryKey(le))
	if err != nil {
		return false, 0, err
	}
	ttl, err := ltx.LoadWithoutRecord(ttlKey)
	if err != nil {
		return false, 0, err
	}
	if entry == nil {
		// Already deleted, manually or by an earlier eviction scan.
		if ttl != nil {
			return false, 0, fmt.Errorf("%w: TTL entry without its data entry", ErrMalformedBucket)
		}
		return false, 0, nil
	}
	if ttl == nil {
		return false, 0, fmt.Errorf("%w: temporary entry without TTL entry", ErrMalformedBucket)
	}

	liveUntil := ttl.Data.TTL.LiveUntilLedgerSeq
	return !ledger.IsLive(*ttl, ledgerSeq), liveUntil, nil
}
