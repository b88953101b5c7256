// Package index provides the query index owned by a bucket: point lookups
// through a bloom filter, ordered scan cursors for multi-key reads, the
// poolshare-trustline range per account, and the set of pages holding
// TTL-bound temporary entries.
//
// An index is built once over a sealed bucket file and never mutated; all
// query methods are safe for concurrent use, including the bloom-miss
// counter, which is atomic.
package index

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/bucketdb/ledger"
)

// Cursor is a position in the index's ordered entry list, obtained from
// Begin and advanced by Scan.
type Cursor int

// Range is a half-open byte range [Begin, End) of the bucket file.
type Range struct {
	Begin int64
	End   int64
}

// Index is the query contract a bucket depends on.
type Index interface {
	// Lookup returns the candidate file offset for key. In page mode the
	// returned page may not actually contain the key (a bloom false
	// positive); the caller detects that by the failed page read.
	Lookup(key ledger.LedgerKey) (int64, bool)

	// PageSize returns the page granularity in bytes. Zero means the index
	// is exact: every offset points at the record itself.
	PageSize() int64

	// Scan advances the cursor to the position for key and returns the
	// candidate offset, whether one exists, and the new cursor. Keys must
	// be presented in ascending order for a given cursor.
	Scan(c Cursor, key ledger.LedgerKey) (int64, bool, Cursor)

	// PoolShareTrustLineRange returns the byte range containing the
	// poolshare trustlines held by account.
	PoolShareTrustLineRange(account ledger.AccountID) (Range, bool)

	// Begin and End bound the cursor space.
	Begin() Cursor
	End() Cursor

	// MarkBloomMiss records a false-positive lookup; BloomMisses reads the
	// counter.
	MarkBloomMiss()
	BloomMisses() uint64

	// TemporaryPages returns the set of page numbers containing at least
	// one TTL-bound temporary entry. The bitmap is owned by the index and
	// must not be mutated.
	TemporaryPages() *roaring.Bitmap
}
