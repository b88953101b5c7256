package index

import (
	"fmt"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/bucketdb/recordio"
	"github.com/hupe1980/bucketdb/ledger"
)

// bloomRate is the target false-positive rate of the key filter.
const bloomRate = 0.002

// defaultPageGranularity sizes the temporary-page bitmap when the index is
// exact (page size zero).
const defaultPageGranularity = 4096

type entry struct {
	Key ledger.LedgerKey
	Off int64
}

// RangeIndex implements Index over a sorted bucket file. With pageSize
// zero it stores one offset per record (exact mode); otherwise one offset
// per page of at least pageSize bytes.
type RangeIndex struct {
	pageSize    int64
	entries     []entry
	bloom       *bloomFilter
	tempPages   *roaring.Bitmap
	trustRanges map[ledger.AccountID]Range
	bloomMisses atomic.Uint64
}

// Build constructs an index by scanning a record stream from the start.
// pageSize zero builds an exact per-record index.
func Build(r *recordio.Reader, pageSize int64) (*RangeIndex, error) {
	idx := &RangeIndex{
		pageSize:    pageSize,
		tempPages:   roaring.New(),
		trustRanges: make(map[ledger.AccountID]Range),
	}

	granularity := pageSize
	if granularity == 0 {
		granularity = defaultPageGranularity
	}

	r.Seek(0)
	var (
		keys      [][]byte
		pageLimit int64 = -1
		e         ledger.BucketEntry
	)
	for {
		recordStart := r.Pos()
		ok, err := r.ReadOne(&e)
		if err != nil {
			return nil, fmt.Errorf("index: build: %w", err)
		}
		if !ok {
			break
		}
		if e.Type == ledger.BucketEntryTypeMeta {
			if recordStart != 0 {
				return nil, fmt.Errorf("index: META record at offset %d", recordStart)
			}
			continue
		}

		key := e.Key()
		keys = append(keys, ledger.EncodeKey(key))

		if pageSize == 0 {
			idx.entries = append(idx.entries, entry{Key: key, Off: recordStart})
		} else if recordStart >= pageLimit {
			idx.entries = append(idx.entries, entry{Key: key, Off: recordStart})
			pageLimit = recordStart + pageSize
		}

		if isTemporaryRecord(e) {
			idx.tempPages.Add(uint32(recordStart / granularity))
		}

		if key.Type == ledger.EntryTypeTrustLine &&
			key.TrustLine.Asset.Type == ledger.AssetTypePoolShare {
			acc := key.TrustLine.AccountID
			rng, seen := idx.trustRanges[acc]
			if !seen {
				rng.Begin = recordStart
			}
			rng.End = r.Pos()
			idx.trustRanges[acc] = rng
		}
	}

	idx.bloom = newBloomFilter(len(keys), bloomRate)
	for _, k := range keys {
		idx.bloom.add(k)
	}
	return idx, nil
}

func isTemporaryRecord(e ledger.BucketEntry) bool {
	switch e.Type {
	case ledger.BucketEntryTypeInit, ledger.BucketEntryTypeLive:
		return ledger.IsTemporary(e.Live.Data)
	case ledger.BucketEntryTypeDead:
		return e.Dead.Type == ledger.EntryTypeContractData &&
			e.Dead.ContractData.Durability == ledger.DurabilityTemporary
	default:
		return false
	}
}

// PageSize implements Index.
func (idx *RangeIndex) PageSize() int64 { return idx.pageSize }

// Lookup implements Index.
func (idx *RangeIndex) Lookup(key ledger.LedgerKey) (int64, bool) {
	if !idx.bloom.mayContain(ledger.EncodeKey(key)) {
		return 0, false
	}

	// Binary search for the last entry with Key <= key.
	lo, hi := 0, len(idx.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if ledger.CompareKeys(idx.entries[mid].Key, key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	pos := lo - 1
	if pos < 0 {
		idx.MarkBloomMiss()
		return 0, false
	}

	if idx.pageSize == 0 {
		if !ledger.KeysEqual(idx.entries[pos].Key, key) {
			idx.MarkBloomMiss()
			return 0, false
		}
	}
	return idx.entries[pos].Off, true
}

// Scan implements Index.
func (idx *RangeIndex) Scan(c Cursor, key ledger.LedgerKey) (int64, bool, Cursor) {
	if idx.pageSize == 0 {
		for int(c) < len(idx.entries) && ledger.CompareKeys(idx.entries[c].Key, key) < 0 {
			c++
		}
		if int(c) < len(idx.entries) && ledger.KeysEqual(idx.entries[c].Key, key) {
			return idx.entries[c].Off, true, c
		}
		return 0, false, c
	}

	for int(c)+1 < len(idx.entries) && ledger.CompareKeys(idx.entries[c+1].Key, key) <= 0 {
		c++
	}
	if int(c) < len(idx.entries) &&
		ledger.CompareKeys(idx.entries[c].Key, key) <= 0 &&
		idx.bloom.mayContain(ledger.EncodeKey(key)) {
		return idx.entries[c].Off, true, c
	}
	return 0, false, c
}

// PoolShareTrustLineRange implements Index.
func (idx *RangeIndex) PoolShareTrustLineRange(account ledger.AccountID) (Range, bool) {
	rng, ok := idx.trustRanges[account]
	return rng, ok
}

// Begin implements Index.
func (idx *RangeIndex) Begin() Cursor { return 0 }

// End implements Index.
func (idx *RangeIndex) End() Cursor { return Cursor(len(idx.entries)) }

// MarkBloomMiss implements Index.
func (idx *RangeIndex) MarkBloomMiss() { idx.bloomMisses.Add(1) }

// BloomMisses implements Index.
func (idx *RangeIndex) BloomMisses() uint64 { return idx.bloomMisses.Load() }

// TemporaryPages implements Index.
func (idx *RangeIndex) TemporaryPages() *roaring.Bitmap { return idx.tempPages }
