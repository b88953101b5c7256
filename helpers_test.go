package bucketdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bucketdb/ledger"
	"github.com/hupe1980/bucketdb/testutil"
)

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	mgr, err := NewManager(t.TempDir(), opts...)
	require.NoError(t, err)
	return mgr
}

// readAllRecords returns every record of the bucket file, including META.
func readAllRecords(t *testing.T, b *Bucket) []ledger.BucketEntry {
	t.Helper()
	if b.IsEmpty() {
		return nil
	}
	r, err := b.OpenStream()
	require.NoError(t, err)
	defer func() { require.NoError(t, r.Close()) }()

	var out []ledger.BucketEntry
	var e ledger.BucketEntry
	for {
		ok, err := r.ReadOne(&e)
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, e)
	}
}

func freshLive(t *testing.T, mgr *Manager, proto uint32, entries ...ledger.LedgerEntry) *Bucket {
	t.Helper()
	b, err := Fresh(context.Background(), mgr, proto, nil, entries, nil, FreshOptions{KeepDeadEntries: true})
	require.NoError(t, err)
	return b
}

func freshInit(t *testing.T, mgr *Manager, proto uint32, entries ...ledger.LedgerEntry) *Bucket {
	t.Helper()
	b, err := Fresh(context.Background(), mgr, proto, entries, nil, nil, FreshOptions{KeepDeadEntries: true})
	require.NoError(t, err)
	return b
}

func freshDead(t *testing.T, mgr *Manager, proto uint32, keys ...ledger.LedgerKey) *Bucket {
	t.Helper()
	b, err := Fresh(context.Background(), mgr, proto, nil, nil, keys, FreshOptions{KeepDeadEntries: true})
	require.NoError(t, err)
	return b
}

func acct(n byte, balance uint64) ledger.LedgerEntry {
	return testutil.AccountEntry(n, balance)
}

func acctKey(n byte) ledger.LedgerKey {
	return testutil.AccountKey(n)
}
