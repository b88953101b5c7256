package bucketdb

import (
	"context"
	"fmt"
	"io"

	"github.com/hupe1980/bucketdb/codec"
	"github.com/hupe1980/bucketdb/recordio"
	"github.com/hupe1980/bucketdb/ledger"
)

// inputIterator is a value-semantics cursor over a bucket's records with a
// one-record lookahead. A leading META record is consumed into metadata and
// never surfaced.
type inputIterator struct {
	r       *recordio.Reader
	meta    ledger.BucketMetadata
	hasMeta bool
	entry   ledger.BucketEntry
	valid   bool
}

// newInputIterator opens a cursor on b. An empty bucket yields an exhausted
// iterator with zero metadata.
func newInputIterator(b *Bucket) (*inputIterator, error) {
	it := &inputIterator{}
	if b.IsEmpty() {
		return it, nil
	}
	r, err := b.OpenStream()
	if err != nil {
		return nil, err
	}
	it.r = r
	if err := it.load(); err != nil {
		_ = r.Close()
		return nil, err
	}
	if it.valid && it.entry.Type == ledger.BucketEntryTypeMeta {
		it.meta = *it.entry.Meta
		it.hasMeta = true
		if err := it.load(); err != nil {
			_ = r.Close()
			return nil, err
		}
	}
	return it, nil
}

func (it *inputIterator) load() error {
	ok, err := it.r.ReadOne(&it.entry)
	if err != nil {
		return err
	}
	it.valid = ok
	if ok && it.hasMeta && it.entry.Type == ledger.BucketEntryTypeMeta {
		return fmt.Errorf("%w: duplicate META record", ErrMalformedBucket)
	}
	return nil
}

// ok reports whether the iterator holds a record.
func (it *inputIterator) ok() bool { return it.valid }

// peek returns the current record without advancing.
func (it *inputIterator) peek() ledger.BucketEntry { return it.entry }

// advance moves to the next record.
func (it *inputIterator) advance() error {
	if !it.valid {
		return nil
	}
	return it.load()
}

// metadata returns the bucket metadata; zero for pre-META-protocol buckets
// and for the empty bucket.
func (it *inputIterator) metadata() ledger.BucketMetadata { return it.meta }

func (it *inputIterator) close() error {
	if it.r == nil {
		return nil
	}
	return it.r.Close()
}

// outputIterator writes a sorted record sequence into a temp bucket file,
// enforcing the strict sort invariant, filtering tombstones when the output
// sits at the oldest level, and computing the rolling content hash.
type outputIterator struct {
	w               *recordio.Writer
	keepDeadEntries bool
	last            *ledger.BucketEntry
	mc              *MergeCounters
	scratch         []byte
}

type outputConfig struct {
	doFsync   bool
	writeWrap func(io.Writer) io.Writer
}

// newOutputIterator creates an output stream in the manager's temp dir. The
// META record is written up front when the metadata's ledger version
// supports it.
func newOutputIterator(mgr BucketManager, keepDeadEntries bool, meta ledger.BucketMetadata, mc *MergeCounters, cfg outputConfig) (*outputIterator, error) {
	path, err := randomBucketPath(mgr.FS(), mgr.TmpDir(), bucketDataExt)
	if err != nil {
		return nil, err
	}

	opts := []recordio.WriterOption{recordio.WithFsync(cfg.doFsync)}
	if cfg.writeWrap != nil {
		opts = append(opts, recordio.WithWriteWrapper(cfg.writeWrap))
	}
	w, err := recordio.NewWriter(mgr.FS(), path, opts...)
	if err != nil {
		return nil, err
	}

	out := &outputIterator{
		w:               w,
		keepDeadEntries: keepDeadEntries,
		mc:              mc,
	}

	if ProtocolVersionStartsFrom(meta.LedgerVersion, FirstProtocolSupportingInitEntryAndMetaEntry) {
		if err := out.write(ledger.MetaBucketEntry(meta)); err != nil {
			w.Abort()
			return nil, err
		}
	}
	return out, nil
}

// put appends one data record, maintaining the sort invariant and the
// oldest-level tombstone filter.
func (out *outputIterator) put(e ledger.BucketEntry) error {
	if e.Type == ledger.BucketEntryTypeMeta {
		return fmt.Errorf("%w: META record after header", ErrMalformedBucket)
	}
	if out.last != nil && out.last.Type != ledger.BucketEntryTypeMeta {
		if ledger.CompareBucketEntries(*out.last, e) >= 0 {
			return fmt.Errorf("%w: %v", ErrEntriesOutOfOrder, e.Key())
		}
	}

	if !out.keepDeadEntries && e.Type == ledger.BucketEntryTypeDead {
		out.mc.OutputIteratorTombstoneElisions++
		// Still participates in the sort check above.
		last := e
		out.last = &last
		return nil
	}
	return out.write(e)
}

func (out *outputIterator) write(e ledger.BucketEntry) error {
	var err error
	out.scratch, err = codec.AppendEntry(out.scratch[:0], e)
	if err != nil {
		return err
	}
	if err := out.w.Put(out.scratch); err != nil {
		return err
	}
	out.mc.OutputIteratorActualWrites++
	last := e
	out.last = &last
	return nil
}

// bucket seals the output and hands it to the manager for adoption. A
// zero-byte output collapses to the canonical empty bucket.
func (out *outputIterator) bucket(ctx context.Context, mgr BucketManager, mk *MergeKey) (*Bucket, error) {
	if out.w.Size() == 0 {
		out.w.Abort()
		return NewEmptyBucket(), nil
	}

	hash, err := out.w.Finish()
	if err != nil {
		out.w.Abort()
		return nil, err
	}

	b := &Bucket{
		fsys:     mgr.FS(),
		filename: out.w.Path(),
		hash:     hash,
		size:     out.w.Size(),
	}
	return mgr.Adopt(ctx, b, mk)
}

// abort discards the temp file.
func (out *outputIterator) abort() {
	out.w.Abort()
}
