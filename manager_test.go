package bucketdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/bucketdb/blobstore"
	"github.com/hupe1980/bucketdb/fs"
	"github.com/hupe1980/bucketdb/ledger"
)

func TestManagerAdoptContentAddressed(t *testing.T) {
	mgr := newTestManager(t)

	b := freshLive(t, mgr, 12, acct(1, 10))
	wantName := fmt.Sprintf("bucket-%x.xdr", b.Hash())
	assert.Equal(t, filepath.Join(mgr.Dir(), wantName), b.Filename())

	// The temp dir holds nothing after adoption.
	entries, err := os.ReadDir(mgr.TmpDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManagerAdoptDedupsIdenticalContent(t *testing.T) {
	mgr := newTestManager(t)

	first := freshLive(t, mgr, 12, acct(1, 10))
	second := freshLive(t, mgr, 12, acct(1, 10))

	assert.Equal(t, first.Hash(), second.Hash())
	assert.Equal(t, first.Filename(), second.Filename())

	entries, err := os.ReadDir(mgr.Dir())
	require.NoError(t, err)
	var bucketFiles int
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "bucket-") {
			bucketFiles++
		}
	}
	assert.Equal(t, 1, bucketFiles)
}

func TestManagerOpenBucket(t *testing.T) {
	mgr := newTestManager(t)

	b := freshLive(t, mgr, 12, acct(1, 10))
	reopened, err := mgr.OpenBucket(b.Hash())
	require.NoError(t, err)
	assert.Equal(t, b.Filename(), reopened.Filename())
	assert.Equal(t, b.Size(), reopened.Size())
}

func TestManagerArchivesAdoptedBuckets(t *testing.T) {
	store := blobstore.NewMemoryStore()
	mgr := newTestManager(t, WithArchive(store))

	b := freshLive(t, mgr, 12, acct(1, 10))

	name := fmt.Sprintf("bucket-%x.xdr", b.Hash())
	blob, err := store.Open(context.Background(), name)
	require.NoError(t, err)
	defer func() { _ = blob.Close() }()

	archived, err := blobstore.ReadAll(context.Background(), blob)
	require.NoError(t, err)
	onDisk, err := os.ReadFile(b.Filename())
	require.NoError(t, err)
	assert.Equal(t, onDisk, archived)
}

func TestManagerArchivesThroughCompressingStore(t *testing.T) {
	inner := blobstore.NewMemoryStore()
	mgr := newTestManager(t, WithArchive(blobstore.NewCompressingStore(inner)))

	b := freshLive(t, mgr, 12, acct(1, 10), acct(2, 20))

	name := fmt.Sprintf("bucket-%x.xdr", b.Hash())
	blob, err := blobstore.NewCompressingStore(inner).Open(context.Background(), name)
	require.NoError(t, err)
	defer func() { _ = blob.Close() }()

	archived, err := blobstore.ReadAll(context.Background(), blob)
	require.NoError(t, err)
	onDisk, err := os.ReadFile(b.Filename())
	require.NoError(t, err)
	assert.Equal(t, onDisk, archived)
}

func TestManagerResolveMergeDedupsConcurrentMerges(t *testing.T) {
	mgr := newTestManager(t)

	old := freshLive(t, mgr, 12, acct(1, 10))
	new := freshLive(t, mgr, 12, acct(2, 20))
	mk := NewMergeKey(true, old, new, nil)

	var executions atomic.Int64
	var wg sync.WaitGroup
	results := make([]*Bucket, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = mgr.ResolveMerge(mk, func() (*Bucket, error) {
				executions.Add(1)
				time.Sleep(100 * time.Millisecond)
				return Merge(context.Background(), mgr, 12, old, new, nil, MergeOptions{KeepDeadEntries: true})
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), executions.Load(), "concurrent identical merges collapse")
	for i, b := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Hash(), b.Hash())
	}
}

func TestFreshWriteFailureLeavesNoAdoptedFile(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)
	faulty.AddRule("tmp-bucket-", fs.Fault{FailAfterBytes: 16})

	mgr, err := NewManager(t.TempDir(), WithFileSystem(faulty))
	require.NoError(t, err)

	_, err = Fresh(context.Background(), mgr, 12, nil,
		[]ledger.LedgerEntry{acct(1, 10), acct(2, 20), acct(3, 30)}, nil,
		FreshOptions{KeepDeadEntries: true})
	require.ErrorIs(t, err, fs.ErrInjected)

	entries, err := os.ReadDir(mgr.Dir())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "bucket-"), "no adopted bucket after failed write")
	}
	tmpEntries, err := os.ReadDir(mgr.TmpDir())
	require.NoError(t, err)
	assert.Empty(t, tmpEntries, "failed temp file is cleaned up")
}

func TestManagerSaveLoadBucketIndex(t *testing.T) {
	mgr := newTestManager(t)

	b := freshLive(t, mgr, 12, acct(1, 10), acct(3, 30))
	require.NoError(t, b.BuildIndex(0))
	require.NoError(t, mgr.SaveBucketIndex(b))

	reopened, err := mgr.OpenBucket(b.Hash())
	require.NoError(t, err)
	require.NoError(t, mgr.LoadBucketIndex(reopened))

	e, ok, err := reopened.GetBucketEntry(acctKey(3))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(30), e.Live.Data.Account.Balance)
}

func TestRandomBucketNames(t *testing.T) {
	dir := t.TempDir()

	seen := make(map[string]bool)
	for i := 0; i < 32; i++ {
		name, err := RandomBucketName(fs.Default, dir)
		require.NoError(t, err)
		assert.True(t, strings.HasSuffix(name, ".xdr"))
		assert.Contains(t, name, "tmp-bucket-")
		assert.False(t, seen[name])
		seen[name] = true
	}

	idxName, err := RandomBucketIndexName(fs.Default, dir)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(idxName, ".index"))
}
