package bucketdb

import "github.com/hupe1980/bucketdb/ledger"

// Applier receives a bucket's records replayed in key order.
type Applier interface {
	Upsert(e ledger.LedgerEntry) error
	Delete(k ledger.LedgerKey) error
}

// Apply replays every record of the bucket into a: live and init records
// upsert their entry, tombstones delete their key. Used to materialize a
// bucket's view into a store.
func (b *Bucket) Apply(a Applier) error {
	it, err := newInputIterator(b)
	if err != nil {
		return err
	}
	defer func() { _ = it.close() }()

	for it.ok() {
		e := it.peek()
		switch e.Type {
		case ledger.BucketEntryTypeLive, ledger.BucketEntryTypeInit:
			if err := a.Upsert(*e.Live); err != nil {
				return err
			}
		case ledger.BucketEntryTypeDead:
			if err := a.Delete(*e.Dead); err != nil {
				return err
			}
		}
		if err := it.advance(); err != nil {
			return err
		}
	}
	return nil
}
