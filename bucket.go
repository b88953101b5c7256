package bucketdb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hupe1980/bucketdb/cache"
	"github.com/hupe1980/bucketdb/index"
	"github.com/hupe1980/bucketdb/fs"
	"github.com/hupe1980/bucketdb/recordio"
	"github.com/hupe1980/bucketdb/ledger"
)

// Bucket is an immutable handle on a published bucket file: filename,
// content hash, size, and an optionally attached index.
//
// A handle lazily caches two reader cursors, one for index-driven reads and
// one for eviction scans, so repeated operations avoid reopening the file.
// The cursors are single-threaded; concurrent readers must serialize on the
// handle or open independent streams via OpenStream.
type Bucket struct {
	fsys     fs.FileSystem
	filename string
	hash     ledger.Hash
	size     int64
	logger   *slog.Logger

	idx        index.Index
	blockCache cache.BlockCache

	indexStream    *recordio.Reader
	evictionStream *recordio.Reader
}

// BucketOption configures a Bucket handle.
type BucketOption func(*Bucket)

// WithIndex attaches a prebuilt index.
func WithIndex(idx index.Index) BucketOption {
	return func(b *Bucket) { b.idx = idx }
}

// WithBlockCache routes page reads through a shared block cache.
func WithBlockCache(c cache.BlockCache) BucketOption {
	return func(b *Bucket) { b.blockCache = c }
}

// WithLogger sets the handle's logger.
func WithLogger(logger *slog.Logger) BucketOption {
	return func(b *Bucket) { b.logger = logger }
}

// NewBucket opens a handle on an existing bucket file. The file must exist;
// its size is recorded at construction.
func NewBucket(fsys fs.FileSystem, filename string, hash ledger.Hash, opts ...BucketOption) (*Bucket, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	info, err := fsys.Stat(filename)
	if err != nil {
		return nil, fmt.Errorf("bucketdb: open bucket %s: %w", filename, err)
	}
	b := &Bucket{
		fsys:     fsys,
		filename: filename,
		hash:     hash,
		size:     info.Size(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// NewEmptyBucket returns the canonical empty bucket: empty filename, zero
// hash.
func NewEmptyBucket() *Bucket {
	return &Bucket{logger: slog.Default()}
}

// Hash returns the content hash.
func (b *Bucket) Hash() ledger.Hash { return b.hash }

// Filename returns the bucket file path; empty for the empty bucket.
func (b *Bucket) Filename() string { return b.filename }

// Size returns the file length in bytes.
func (b *Bucket) Size() int64 { return b.size }

// IsEmpty reports whether this is the empty bucket. Filename and hash are
// either both empty or both set; anything else is a corrupted handle.
func (b *Bucket) IsEmpty() bool {
	if b.filename == "" || b.hash.IsZero() {
		if b.filename != "" || !b.hash.IsZero() {
			panic("bucketdb: bucket with filename xor hash")
		}
		return true
	}
	return false
}

// IsIndexed reports whether an index is attached.
func (b *Bucket) IsIndexed() bool { return b.idx != nil }

// Index returns the attached index.
func (b *Bucket) Index() (index.Index, error) {
	if b.idx == nil {
		return nil, ErrIndexNotSet
	}
	return b.idx, nil
}

// SetIndex attaches an index. Single-assignment: a second call fails.
func (b *Bucket) SetIndex(idx index.Index) error {
	if b.idx != nil {
		return ErrIndexAlreadySet
	}
	b.idx = idx
	return nil
}

// FreeIndex releases the index and the cached index-read cursor. In-flight
// index-driven operations are invalidated; synchronizing with them is the
// caller's responsibility.
func (b *Bucket) FreeIndex() {
	b.idx = nil
	if b.indexStream != nil {
		_ = b.indexStream.Close()
		b.indexStream = nil
	}
}

// BuildIndex scans the bucket file and attaches a fresh index with the
// given page size (0 for an exact per-record index). Fails if an index is
// already attached.
func (b *Bucket) BuildIndex(pageSize int64) error {
	if b.idx != nil {
		return ErrIndexAlreadySet
	}
	r, err := b.OpenStream()
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	idx, err := index.Build(r, pageSize)
	if err != nil {
		return err
	}
	b.idx = idx
	if b.logger != nil {
		b.logger.Debug("bucket index built", "bucket", fmt.Sprintf("%x", b.hash), "pageSize", pageSize)
	}
	return nil
}

// OpenStream opens a fresh record stream over the bucket file. The caller
// owns the returned reader.
func (b *Bucket) OpenStream() (*recordio.Reader, error) {
	if b.filename == "" {
		return nil, fmt.Errorf("bucketdb: open stream on empty bucket")
	}
	return recordio.Open(b.fsys, b.filename)
}

func (b *Bucket) getIndexStream() (*recordio.Reader, error) {
	if b.indexStream == nil {
		r, err := b.OpenStream()
		if err != nil {
			return nil, err
		}
		b.indexStream = r
	}
	return b.indexStream, nil
}

func (b *Bucket) getEvictionStream() (*recordio.Reader, error) {
	if b.evictionStream == nil {
		r, err := b.OpenStream()
		if err != nil {
			return nil, err
		}
		r.AdviseSequential()
		b.evictionStream = r
	}
	return b.evictionStream, nil
}

// Close releases the cached cursors. The handle stays usable; cursors
// reopen on demand.
func (b *Bucket) Close() error {
	var firstErr error
	if b.indexStream != nil {
		if err := b.indexStream.Close(); err != nil {
			firstErr = err
		}
		b.indexStream = nil
	}
	if b.evictionStream != nil {
		if err := b.evictionStream.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.evictionStream = nil
	}
	return firstErr
}

// getEntryAtOffset reads the record for key at an index-provided offset.
// With pageSize zero the offset is exact; otherwise the page is searched
// and a failed search counts as a bloom miss.
func (b *Bucket) getEntryAtOffset(key ledger.LedgerKey, pos int64, pageSize int64) (ledger.BucketEntry, bool, error) {
	if pageSize > 0 && b.blockCache != nil {
		return b.getEntryFromCachedPage(key, pos, pageSize)
	}

	stream, err := b.getIndexStream()
	if err != nil {
		return ledger.BucketEntry{}, false, err
	}
	stream.Seek(pos)

	var e ledger.BucketEntry
	var ok bool
	if pageSize == 0 {
		ok, err = stream.ReadOne(&e)
	} else {
		ok, err = stream.ReadPage(&e, key, pageSize)
	}
	if err != nil {
		return ledger.BucketEntry{}, false, err
	}
	if !ok {
		b.idx.MarkBloomMiss()
		return ledger.BucketEntry{}, false, nil
	}
	return e, true, nil
}

func (b *Bucket) getEntryFromCachedPage(key ledger.LedgerKey, pos, pageSize int64) (ledger.BucketEntry, bool, error) {
	ctx := context.Background()
	ck := cache.CacheKey{Bucket: b.hash, Offset: pos}

	page, cached := b.blockCache.Get(ctx, ck)
	if !cached {
		stream, err := b.getIndexStream()
		if err != nil {
			return ledger.BucketEntry{}, false, err
		}
		page, err = stream.ReadPageImage(pos, pageSize)
		if err != nil {
			return ledger.BucketEntry{}, false, err
		}
		b.blockCache.Set(ctx, ck, page)
	}

	e, ok, err := recordio.ParsePage(page, key)
	if err != nil {
		return ledger.BucketEntry{}, false, err
	}
	if !ok {
		b.idx.MarkBloomMiss()
		return ledger.BucketEntry{}, false, nil
	}
	return e, true, nil
}

// GetBucketEntry performs an indexed point lookup for key.
func (b *Bucket) GetBucketEntry(key ledger.LedgerKey) (ledger.BucketEntry, bool, error) {
	if b.idx == nil {
		return ledger.BucketEntry{}, false, ErrIndexNotSet
	}
	pos, ok := b.idx.Lookup(key)
	if !ok {
		return ledger.BucketEntry{}, false, nil
	}
	return b.getEntryAtOffset(key, pos, b.idx.PageSize())
}

// LoadKeys walks the index cursor forward in lockstep with the sorted key
// set. Every hit, live or dead, removes the key from the set so older
// buckets cannot re-surface a shadowed value; live hits additionally append
// their entry to result. Missed keys stay in the set for lower levels.
func (b *Bucket) LoadKeys(keys *ledger.KeySet, result *[]ledger.LedgerEntry) error {
	if b.idx == nil {
		return ErrIndexNotSet
	}

	i := 0
	cursor := b.idx.Begin()
	for i < keys.Len() && cursor != b.idx.End() {
		key := keys.At(i)
		pos, ok, next := b.idx.Scan(cursor, key)
		cursor = next
		if ok {
			e, found, err := b.getEntryAtOffset(key, pos, b.idx.PageSize())
			if err != nil {
				return err
			}
			if found {
				if e.Type != ledger.BucketEntryTypeDead {
					*result = append(*result, *e.Live)
				}
				keys.RemoveAt(i)
				continue
			}
		}
		i++
	}
	return nil
}

// LoadPoolShareTrustLinesByAccount collects the newest poolshare trustlines
// of account from this bucket's indexed range. Dead trustline keys are
// recorded in seenTrustlines so older buckets cannot re-surface them; live
// hits not yet seen are added to the output maps keyed by their liquidity
// pool.
func (b *Bucket) LoadPoolShareTrustLinesByAccount(
	account ledger.AccountID,
	seenTrustlines *ledger.KeySet,
	poolToTrustline map[ledger.PoolID]ledger.LedgerEntry,
	poolKeys *ledger.KeySet,
) error {
	if b.idx == nil {
		return ErrIndexNotSet
	}

	rng, ok := b.idx.PoolShareTrustLineRange(account)
	if !ok {
		return nil
	}

	stream, err := b.getIndexStream()
	if err != nil {
		return err
	}
	stream.Seek(rng.Begin)

	var e ledger.BucketEntry
	for stream.Pos() < rng.End {
		ok, err := stream.ReadOne(&e)
		if err != nil {
			return err
		}
		if !ok {
			break
		}

		switch e.Type {
		case ledger.BucketEntryTypeLive, ledger.BucketEntryTypeInit:
			entry := *e.Live
			if !ledger.IsPoolShareTrustLine(entry.Data, account) {
				continue
			}
			key := ledger.EntryKey(entry)
			if seenTrustlines.Contains(key) {
				continue
			}
			seenTrustlines.Add(key)
			poolID := entry.Data.TrustLine.Asset.PoolID
			poolToTrustline[poolID] = entry
			poolKeys.Add(ledger.LiquidityPoolLedgerKey(poolID))
		case ledger.BucketEntryTypeDead:
			if ledger.IsPoolShareTrustLineKey(*e.Dead, account) {
				seenTrustlines.Add(*e.Dead)
			}
		default:
			return fmt.Errorf("%w: META record in indexed range", ErrMalformedBucket)
		}
	}
	return nil
}

// ContainsBucketIdentity reports whether any record of the bucket has the
// same key identity as e. Linear scan; test aid.
func (b *Bucket) ContainsBucketIdentity(e ledger.BucketEntry) (bool, error) {
	it, err := newInputIterator(b)
	if err != nil {
		return false, err
	}
	defer func() { _ = it.close() }()

	for it.ok() {
		if ledger.CompareBucketEntries(it.peek(), e) == 0 {
			return true, nil
		}
		if err := it.advance(); err != nil {
			return false, err
		}
	}
	return false, nil
}

// HasTemporaryEntries reports whether the index recorded any pages holding
// TTL-bound temporary entries, letting eviction scheduling skip buckets
// with nothing to evict. Requires an index.
func (b *Bucket) HasTemporaryEntries() (bool, error) {
	if b.idx == nil {
		return false, ErrIndexNotSet
	}
	return !b.idx.TemporaryPages().IsEmpty(), nil
}

// GetBucketVersion reads the ledger version from the bucket's metadata via
// a fresh input iterator. Pre-META-protocol buckets and the empty bucket
// report zero.
func GetBucketVersion(b *Bucket) (uint32, error) {
	it, err := newInputIterator(b)
	if err != nil {
		return 0, err
	}
	defer func() { _ = it.close() }()
	return it.metadata().LedgerVersion, nil
}
