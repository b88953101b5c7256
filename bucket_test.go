package bucketdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bucketdb/cache"
	"github.com/hupe1980/bucketdb/ledger"
	"github.com/hupe1980/bucketdb/resource"
	"github.com/hupe1980/bucketdb/testutil"
)

func TestBucketEmptyInvariant(t *testing.T) {
	b := NewEmptyBucket()
	assert.True(t, b.IsEmpty())
	assert.Empty(t, b.Filename())
	assert.True(t, b.Hash().IsZero())
}

func TestBucketSetIndexSingleAssignment(t *testing.T) {
	mgr := newTestManager(t)
	b := freshLive(t, mgr, 12, acct(1, 10))

	require.NoError(t, b.BuildIndex(0))
	assert.True(t, b.IsIndexed())
	assert.ErrorIs(t, b.BuildIndex(0), ErrIndexAlreadySet)

	b.FreeIndex()
	assert.False(t, b.IsIndexed())
	require.NoError(t, b.BuildIndex(0))
}

func TestGetBucketEntryExactIndex(t *testing.T) {
	mgr := newTestManager(t)
	b := freshLive(t, mgr, 12, acct(1, 10), acct(3, 30), acct(5, 50))
	require.NoError(t, b.BuildIndex(0))

	e, ok, err := b.GetBucketEntry(acctKey(3))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(30), e.Live.Data.Account.Balance)

	_, ok, err = b.GetBucketEntry(acctKey(4))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetBucketEntryPagedIndex(t *testing.T) {
	mgr := newTestManager(t)

	entries := make([]ledger.LedgerEntry, 0, 64)
	for i := 0; i < 64; i++ {
		entries = append(entries, acct(byte(i*2), uint64(i)))
	}
	b := freshLive(t, mgr, 12, entries...)
	require.NoError(t, b.BuildIndex(128))

	for i := 0; i < 64; i++ {
		e, ok, err := b.GetBucketEntry(acctKey(byte(i * 2)))
		require.NoError(t, err)
		require.True(t, ok, "key %d", i*2)
		assert.Equal(t, uint64(i), e.Live.Data.Account.Balance)
	}

	_, ok, err := b.GetBucketEntry(acctKey(101))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetBucketEntryThroughBlockCache(t *testing.T) {
	mgr := newTestManager(t)

	entries := make([]ledger.LedgerEntry, 0, 32)
	for i := 0; i < 32; i++ {
		entries = append(entries, acct(byte(i), uint64(i)))
	}

	rc := resource.NewController(resource.Config{MemoryLimitBytes: 1 << 20})
	blocks := cache.NewLRUBlockCache(1<<20, rc)

	raw := freshLive(t, mgr, 12, entries...)
	b, err := NewBucket(mgr.FS(), raw.Filename(), raw.Hash(), WithBlockCache(blocks))
	require.NoError(t, err)
	require.NoError(t, b.BuildIndex(256))

	for round := 0; round < 2; round++ {
		for i := 0; i < 32; i++ {
			e, ok, err := b.GetBucketEntry(acctKey(byte(i)))
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, uint64(i), e.Live.Data.Account.Balance)
		}
	}

	hits, _ := blocks.Stats()
	assert.Positive(t, hits)
}

func TestBloomMissAccounting(t *testing.T) {
	mgr := newTestManager(t)
	b := freshLive(t, mgr, 12, acct(1, 10), acct(3, 30))
	require.NoError(t, b.BuildIndex(1024))

	idx, err := b.Index()
	require.NoError(t, err)

	// Force the page-search path with a key the page cannot contain: a
	// false-positive lookup must count exactly one miss.
	before := idx.BloomMisses()
	_, ok, err := b.getEntryAtOffset(acctKey(2), 0, 1024)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before+1, idx.BloomMisses())
}

func TestLoadKeysShadowSuppression(t *testing.T) {
	mgr := newTestManager(t)

	newer := freshDead(t, mgr, 12, acctKey(1))
	older := freshLive(t, mgr, 12, acct(1, 10), acct(2, 20))
	require.NoError(t, newer.BuildIndex(0))
	require.NoError(t, older.BuildIndex(0))

	keys := ledger.NewKeySet(acctKey(1), acctKey(2), acctKey(3))
	var result []ledger.LedgerEntry

	// Newest bucket first: the dead key is consumed without a result.
	require.NoError(t, newer.LoadKeys(keys, &result))
	assert.Empty(t, result)
	assert.Equal(t, 2, keys.Len())
	assert.False(t, keys.Contains(acctKey(1)))

	// Older bucket serves the remaining keys; the shadowed key stays dead.
	require.NoError(t, older.LoadKeys(keys, &result))
	require.Len(t, result, 1)
	assert.Equal(t, uint64(20), result[0].Data.Account.Balance)
	assert.Equal(t, 1, keys.Len())
	assert.True(t, keys.Contains(acctKey(3)))
}

func TestLoadPoolShareTrustLinesByAccount(t *testing.T) {
	mgr := newTestManager(t)

	account := byte(7)
	tl1 := testutil.PoolShareTrustLine(account, 1, 100)
	tl2 := testutil.PoolShareTrustLine(account, 2, 200)
	other := testutil.PoolShareTrustLine(9, 3, 300)

	b := freshLive(t, mgr, 12, tl1, tl2, other, acct(1, 1))
	require.NoError(t, b.BuildIndex(0))

	seen := ledger.NewKeySet()
	pools := make(map[ledger.PoolID]ledger.LedgerEntry)
	poolKeys := ledger.NewKeySet()

	require.NoError(t, b.LoadPoolShareTrustLinesByAccount(testutil.AccountID(account), seen, pools, poolKeys))
	require.Len(t, pools, 2)
	assert.Equal(t, uint64(100), pools[testutil.PoolID(1)].Data.TrustLine.Balance)
	assert.Equal(t, uint64(200), pools[testutil.PoolID(2)].Data.TrustLine.Balance)
	assert.Equal(t, 2, poolKeys.Len())
}

func TestLoadPoolShareTrustLinesDeadShadowing(t *testing.T) {
	mgr := newTestManager(t)

	account := byte(7)
	tl := testutil.PoolShareTrustLine(account, 1, 100)

	newer := freshDead(t, mgr, 12, ledger.EntryKey(tl))
	older := freshLive(t, mgr, 12, tl)
	require.NoError(t, newer.BuildIndex(0))
	require.NoError(t, older.BuildIndex(0))

	seen := ledger.NewKeySet()
	pools := make(map[ledger.PoolID]ledger.LedgerEntry)
	poolKeys := ledger.NewKeySet()

	require.NoError(t, newer.LoadPoolShareTrustLinesByAccount(testutil.AccountID(account), seen, pools, poolKeys))
	require.NoError(t, older.LoadPoolShareTrustLinesByAccount(testutil.AccountID(account), seen, pools, poolKeys))

	assert.Empty(t, pools)
	assert.Equal(t, 0, poolKeys.Len())
	assert.Equal(t, 1, seen.Len())
}

func TestContainsBucketIdentity(t *testing.T) {
	mgr := newTestManager(t)
	b := freshLive(t, mgr, 12, acct(1, 10))

	contains, err := b.ContainsBucketIdentity(ledger.LiveBucketEntry(acct(1, 999)))
	require.NoError(t, err)
	assert.True(t, contains, "identity compares keys, not values")

	contains, err = b.ContainsBucketIdentity(ledger.LiveBucketEntry(acct(2, 1)))
	require.NoError(t, err)
	assert.False(t, contains)
}

func TestHasTemporaryEntries(t *testing.T) {
	mgr := newTestManager(t)

	plain := freshLive(t, mgr, SorobanProtocolVersion, acct(1, 10))
	require.NoError(t, plain.BuildIndex(0))
	ok, err := plain.HasTemporaryEntries()
	require.NoError(t, err)
	assert.False(t, ok)

	temp := freshLive(t, mgr, SorobanProtocolVersion, testutil.TemporaryEntry(1, 1, []byte("v")))
	require.NoError(t, temp.BuildIndex(0))
	ok, err = temp.HasTemporaryEntries()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetBucketVersion(t *testing.T) {
	mgr := newTestManager(t)

	b := freshLive(t, mgr, 12, acct(1, 10))
	version, err := GetBucketVersion(b)
	require.NoError(t, err)
	assert.Equal(t, uint32(12), version)

	version, err = GetBucketVersion(NewEmptyBucket())
	require.NoError(t, err)
	assert.Equal(t, uint32(0), version)
}

func TestApply(t *testing.T) {
	mgr := newTestManager(t)

	b, err := Fresh(t.Context(), mgr, 12,
		[]ledger.LedgerEntry{acct(1, 1)},
		[]ledger.LedgerEntry{acct(2, 2)},
		[]ledger.LedgerKey{acctKey(3)},
		FreshOptions{KeepDeadEntries: true})
	require.NoError(t, err)

	applier := &mapApplier{entries: make(map[string]ledger.LedgerEntry)}
	require.NoError(t, b.Apply(applier))

	assert.Len(t, applier.entries, 2)
	assert.Equal(t, []string{ledger.KeyString(acctKey(3))}, applier.deleted)
}

type mapApplier struct {
	entries map[string]ledger.LedgerEntry
	deleted []string
}

func (a *mapApplier) Upsert(e ledger.LedgerEntry) error {
	a.entries[ledger.KeyString(ledger.EntryKey(e))] = e
	return nil
}

func (a *mapApplier) Delete(k ledger.LedgerKey) error {
	delete(a.entries, ledger.KeyString(k))
	a.deleted = append(a.deleted, ledger.KeyString(k))
	return nil
}
