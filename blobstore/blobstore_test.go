package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store BlobStore) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Open(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	data := []byte("bucket bytes")
	require.NoError(t, store.Put(ctx, "bucket-aa.xdr", data))
	require.NoError(t, store.Put(ctx, "bucket-bb.xdr", []byte("other")))
	require.NoError(t, store.Put(ctx, "unrelated", []byte("x")))

	blob, err := store.Open(ctx, "bucket-aa.xdr")
	require.NoError(t, err)
	defer func() { require.NoError(t, blob.Close()) }()

	assert.Equal(t, int64(len(data)), blob.Size())

	got, err := ReadAll(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	// Partial read.
	part := make([]byte, 5)
	n, err := blob.ReadAt(ctx, part, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []byte("bytes"), part)

	names, err := store.List(ctx, "bucket-")
	require.NoError(t, err)
	assert.Equal(t, []string{"bucket-aa.xdr", "bucket-bb.xdr"}, names)

	require.NoError(t, store.Delete(ctx, "bucket-aa.xdr"))
	_, err = store.Open(ctx, "bucket-aa.xdr")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestLocalStore(t *testing.T) {
	store, err := NewLocalStore(nil, t.TempDir())
	require.NoError(t, err)
	testStore(t, store)
}

func TestCompressingStoreRoundtrip(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	store := NewCompressingStore(inner)

	data := []byte("some fairly repetitive data data data data data data")
	require.NoError(t, store.Put(ctx, "bucket-cc.xdr", data))

	// The inner store holds the framed blob under the lz4 suffix.
	names, err := inner.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"bucket-cc.xdr.lz4"}, names)

	blob, err := store.Open(ctx, "bucket-cc.xdr")
	require.NoError(t, err)
	defer func() { _ = blob.Close() }()

	got, err := ReadAll(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	names, err = store.List(ctx, "bucket-")
	require.NoError(t, err)
	assert.Equal(t, []string{"bucket-cc.xdr"}, names)

	require.NoError(t, store.Delete(ctx, "bucket-cc.xdr"))
	_, err = store.Open(ctx, "bucket-cc.xdr")
	assert.ErrorIs(t, err, ErrNotFound)
}
