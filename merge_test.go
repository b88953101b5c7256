package bucketdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bucketdb/ledger"
)

func TestMergeNonOverlapping(t *testing.T) {
	mgr := newTestManager(t)

	old := freshLive(t, mgr, 12, acct(1, 10), acct(3, 30))
	new := freshLive(t, mgr, 12, acct(2, 20), acct(4, 40))

	merged, err := Merge(context.Background(), mgr, 12, old, new, nil, MergeOptions{KeepDeadEntries: true})
	require.NoError(t, err)

	records := readAllRecords(t, merged)
	require.Len(t, records, 5)
	assert.Equal(t, ledger.BucketEntryTypeMeta, records[0].Type)
	assert.Equal(t, uint32(12), records[0].Meta.LedgerVersion)
	for i, want := range []byte{1, 2, 3, 4} {
		rec := records[i+1]
		assert.Equal(t, ledger.BucketEntryTypeLive, rec.Type)
		assert.Equal(t, acctKey(want), rec.Key())
	}
}

func TestMergeEqualKeyInitOverDead(t *testing.T) {
	mgr := newTestManager(t)

	old := freshDead(t, mgr, 12, acctKey(5))
	new := freshInit(t, mgr, 12, acct(5, 55))

	merged, err := Merge(context.Background(), mgr, 12, old, new, nil, MergeOptions{KeepDeadEntries: true})
	require.NoError(t, err)

	records := readAllRecords(t, merged)
	require.Len(t, records, 2)
	assert.Equal(t, ledger.BucketEntryTypeMeta, records[0].Type)
	require.Equal(t, ledger.BucketEntryTypeLive, records[1].Type)
	assert.Equal(t, uint64(55), records[1].Live.Data.Account.Balance)
}

func TestMergeEqualKeyInitThenDeadAnnihilates(t *testing.T) {
	mgr := newTestManager(t)

	old := freshInit(t, mgr, 12, acct(7, 70))
	new := freshDead(t, mgr, 12, acctKey(7))

	merged, err := Merge(context.Background(), mgr, 12, old, new, nil, MergeOptions{KeepDeadEntries: true})
	require.NoError(t, err)

	records := readAllRecords(t, merged)
	require.Len(t, records, 1)
	assert.Equal(t, ledger.BucketEntryTypeMeta, records[0].Type)
}

func TestMergeEqualKeyOldLiveNewInitIsMalformed(t *testing.T) {
	mgr := newTestManager(t)

	old := freshLive(t, mgr, 12, acct(9, 90))
	new := freshInit(t, mgr, 12, acct(9, 99))

	_, err := Merge(context.Background(), mgr, 12, old, new, nil, MergeOptions{KeepDeadEntries: true})
	require.ErrorIs(t, err, ErrMalformedBucket)
}

func TestMergeEqualKeyInitThenLiveYieldsInit(t *testing.T) {
	mgr := newTestManager(t)

	old := freshInit(t, mgr, 12, acct(3, 30))
	new := freshLive(t, mgr, 12, acct(3, 33))

	merged, err := Merge(context.Background(), mgr, 12, old, new, nil, MergeOptions{KeepDeadEntries: true})
	require.NoError(t, err)

	records := readAllRecords(t, merged)
	require.Len(t, records, 2)
	require.Equal(t, ledger.BucketEntryTypeInit, records[1].Type)
	assert.Equal(t, uint64(33), records[1].Live.Data.Account.Balance)
}

func TestMergeEqualKeyNeitherInitTakesNew(t *testing.T) {
	mgr := newTestManager(t)

	old := freshLive(t, mgr, 12, acct(4, 40))
	new := freshLive(t, mgr, 12, acct(4, 44))

	merged, err := Merge(context.Background(), mgr, 12, old, new, nil, MergeOptions{KeepDeadEntries: true})
	require.NoError(t, err)

	records := readAllRecords(t, merged)
	require.Len(t, records, 2)
	require.Equal(t, ledger.BucketEntryTypeLive, records[1].Type)
	assert.Equal(t, uint64(44), records[1].Live.Data.Account.Balance)
}

func TestMergeShadowElisionOldProtocol(t *testing.T) {
	mgr := newTestManager(t)

	old := freshLive(t, mgr, 10, acct(2, 20))
	new := freshLive(t, mgr, 10, acct(4, 40))
	shadow := freshLive(t, mgr, 10, acct(2, 99))

	merged, err := Merge(context.Background(), mgr, 10, old, new, []*Bucket{shadow}, MergeOptions{KeepDeadEntries: false})
	require.NoError(t, err)

	records := readAllRecords(t, merged)
	require.Len(t, records, 1)
	assert.Equal(t, ledger.BucketEntryTypeLive, records[0].Type)
	assert.Equal(t, acctKey(4), records[0].Key())
}

func TestMergeShadowPreservationNewProtocol(t *testing.T) {
	mgr := newTestManager(t)

	shadow := freshLive(t, mgr, 10, acct(2, 99))
	new := freshLive(t, mgr, 12, acct(4, 40))

	t.Run("live entry is elided", func(t *testing.T) {
		old := freshLive(t, mgr, 12, acct(2, 20))
		merged, err := Merge(context.Background(), mgr, 12, old, new, []*Bucket{shadow}, MergeOptions{KeepDeadEntries: true})
		require.NoError(t, err)

		records := readAllRecords(t, merged)
		require.Len(t, records, 2)
		assert.Equal(t, ledger.BucketEntryTypeMeta, records[0].Type)
		assert.Equal(t, acctKey(4), records[1].Key())
	})

	t.Run("init entry survives shadowing", func(t *testing.T) {
		old := freshInit(t, mgr, 12, acct(2, 20))
		merged, err := Merge(context.Background(), mgr, 12, old, new, []*Bucket{shadow}, MergeOptions{KeepDeadEntries: true})
		require.NoError(t, err)

		records := readAllRecords(t, merged)
		require.Len(t, records, 3)
		assert.Equal(t, ledger.BucketEntryTypeInit, records[1].Type)
		assert.Equal(t, acctKey(2), records[1].Key())
		assert.Equal(t, acctKey(4), records[2].Key())
	})

	t.Run("dead entry survives shadowing", func(t *testing.T) {
		old := freshDead(t, mgr, 12, acctKey(2))
		merged, err := Merge(context.Background(), mgr, 12, old, new, []*Bucket{shadow}, MergeOptions{KeepDeadEntries: true})
		require.NoError(t, err)

		records := readAllRecords(t, merged)
		require.Len(t, records, 3)
		assert.Equal(t, ledger.BucketEntryTypeDead, records[1].Type)
	})
}

func TestMergeShadowsRejectedAfterRemovalProtocol(t *testing.T) {
	mgr := newTestManager(t)

	old := freshLive(t, mgr, FirstProtocolShadowsRemoved, acct(1, 10))
	new := freshLive(t, mgr, FirstProtocolShadowsRemoved, acct(2, 20))
	shadow := freshLive(t, mgr, FirstProtocolShadowsRemoved, acct(1, 11))

	_, err := Merge(context.Background(), mgr, FirstProtocolShadowsRemoved, old, new, []*Bucket{shadow}, MergeOptions{KeepDeadEntries: true})
	require.ErrorIs(t, err, ErrShadowsUnsupported)
}

func TestMergeProtocolCeiling(t *testing.T) {
	mgr := newTestManager(t)

	old := freshLive(t, mgr, 12, acct(1, 10))
	new := freshLive(t, mgr, 12, acct(2, 20))

	_, err := Merge(context.Background(), mgr, 11, old, new, nil, MergeOptions{KeepDeadEntries: true})
	require.ErrorIs(t, err, ErrProtocolTooNew)
}

func TestMergeDeterministicHash(t *testing.T) {
	mgr := newTestManager(t)

	old := freshLive(t, mgr, 12, acct(1, 10), acct(3, 30))
	new := freshLive(t, mgr, 12, acct(2, 20))

	first, err := Merge(context.Background(), mgr, 12, old, new, nil, MergeOptions{KeepDeadEntries: true})
	require.NoError(t, err)
	second, err := Merge(context.Background(), mgr, 12, old, new, nil, MergeOptions{KeepDeadEntries: true})
	require.NoError(t, err)

	assert.Equal(t, first.Hash(), second.Hash())
	assert.Equal(t, first.Filename(), second.Filename())
}

func TestMergeAgainstEmptyIsIdentity(t *testing.T) {
	mgr := newTestManager(t)

	old := freshLive(t, mgr, 12, acct(1, 10), acct(2, 20))
	empty := NewEmptyBucket()

	merged, err := Merge(context.Background(), mgr, 12, old, empty, nil, MergeOptions{KeepDeadEntries: true})
	require.NoError(t, err)
	assert.Equal(t, old.Hash(), merged.Hash())

	merged, err = Merge(context.Background(), mgr, 12, empty, old, nil, MergeOptions{KeepDeadEntries: true})
	require.NoError(t, err)
	assert.Equal(t, old.Hash(), merged.Hash())
}

func TestMergeOutputSorted(t *testing.T) {
	mgr := newTestManager(t)

	old := freshLive(t, mgr, 12, acct(9, 1), acct(3, 2), acct(5, 3))
	new := freshLive(t, mgr, 12, acct(2, 4), acct(7, 5), acct(5, 6))

	merged, err := Merge(context.Background(), mgr, 12, old, new, nil, MergeOptions{KeepDeadEntries: true})
	require.NoError(t, err)

	records := readAllRecords(t, merged)
	for i := 2; i < len(records); i++ {
		assert.Negative(t, ledger.CompareBucketEntries(records[i-1], records[i]))
	}
}

func offerEntry(offerID uint64) ledger.LedgerEntry {
	return ledger.LedgerEntry{
		LastModifiedLedgerSeq: 1,
		Data: ledger.LedgerEntryData{
			Type: ledger.EntryTypeOffer,
			Offer: &ledger.OfferEntry{
				SellerID: ledger.AccountID{0xaa},
				OfferID:  offerID,
				Amount:   offerID,
				Price:    1,
			},
		},
	}
}

func TestMergeShutdownAborts(t *testing.T) {
	mgr := newTestManager(t)

	var oldEntries, newEntries []ledger.LedgerEntry
	for i := uint64(0); i < 1500; i++ {
		if i%2 == 0 {
			oldEntries = append(oldEntries, offerEntry(i))
		} else {
			newEntries = append(newEntries, offerEntry(i))
		}
	}
	old := freshLive(t, mgr, 12, oldEntries...)
	new := freshLive(t, mgr, 12, newEntries...)

	mgr.Shutdown()
	_, err := Merge(context.Background(), mgr, 12, old, new, nil, MergeOptions{KeepDeadEntries: true})
	require.ErrorIs(t, err, ErrMergeShutdown)

	// Short merges finish before the first shutdown poll.
	shortOld := freshLive(t, mgr, 12, acct(1, 10))
	shortNew := freshLive(t, mgr, 12, acct(2, 20))
	merged, err := Merge(context.Background(), mgr, 12, shortOld, shortNew, nil, MergeOptions{KeepDeadEntries: true})
	require.NoError(t, err)
	require.False(t, merged.IsEmpty())
}

func TestMergeCountersPublished(t *testing.T) {
	mgr := newTestManager(t)

	old := freshLive(t, mgr, 12, acct(1, 10))
	new := freshDead(t, mgr, 12, acctKey(1))

	_, err := Merge(context.Background(), mgr, 12, old, new, nil, MergeOptions{
		KeepDeadEntries:  true,
		CountMergeEvents: true,
	})
	require.NoError(t, err)

	mc := mgr.MergeCounters()
	assert.Equal(t, uint64(1), mc.PostInitEntryProtocolMerges)
	assert.Equal(t, uint64(1), mc.NewEntriesMergedWithOldNeitherInit)
	assert.Equal(t, uint64(1), mc.OldLiveEntries)
	assert.Equal(t, uint64(1), mc.NewDeadEntries)
}

// Merging any adjacent pair must not change the reader-observable
// latest-wins view over a stack of buckets.
func TestMergeReaderEquivalence(t *testing.T) {
	mgr := newTestManager(t)

	oldest := freshLive(t, mgr, 12, acct(1, 1), acct(2, 2), acct(3, 3))
	middle, err := Fresh(context.Background(), mgr, 12, nil,
		[]ledger.LedgerEntry{acct(2, 22)}, []ledger.LedgerKey{acctKey(3)},
		FreshOptions{KeepDeadEntries: true})
	require.NoError(t, err)
	newest := freshLive(t, mgr, 12, acct(3, 33), acct(4, 44))

	viewOf := func(stack []*Bucket) map[byte]uint64 {
		view := make(map[byte]uint64)
		dead := make(map[byte]bool)
		// Newest first; first hit wins.
		for i := len(stack) - 1; i >= 0; i-- {
			for _, rec := range readAllRecords(t, stack[i]) {
				switch rec.Type {
				case ledger.BucketEntryTypeLive, ledger.BucketEntryTypeInit:
					n := rec.Live.Data.Account.AccountID[0]
					if _, hit := view[n]; !hit && !dead[n] {
						view[n] = rec.Live.Data.Account.Balance
					}
				case ledger.BucketEntryTypeDead:
					n := rec.Dead.Account.AccountID[0]
					if _, hit := view[n]; !hit {
						dead[n] = true
					}
				}
			}
		}
		return view
	}

	before := viewOf([]*Bucket{oldest, middle, newest})

	merged, err := Merge(context.Background(), mgr, 12, oldest, middle, nil, MergeOptions{KeepDeadEntries: true})
	require.NoError(t, err)
	assert.Equal(t, before, viewOf([]*Bucket{merged, newest}))

	merged2, err := Merge(context.Background(), mgr, 12, middle, newest, nil, MergeOptions{KeepDeadEntries: true})
	require.NoError(t, err)
	assert.Equal(t, before, viewOf([]*Bucket{oldest, merged2}))
}

func TestMergeKeyString(t *testing.T) {
	mgr := newTestManager(t)

	old := freshLive(t, mgr, 12, acct(1, 10))
	new := freshLive(t, mgr, 12, acct(2, 20))
	shadow := freshLive(t, mgr, 10, acct(3, 30))

	mk := NewMergeKey(true, old, new, []*Bucket{shadow})
	other := NewMergeKey(true, old, new, []*Bucket{shadow})
	assert.Equal(t, mk.String(), other.String())

	flipped := NewMergeKey(false, old, new, []*Bucket{shadow})
	assert.NotEqual(t, mk.String(), flipped.String())
}
