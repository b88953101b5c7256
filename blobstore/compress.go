package blobstore

import (
	"bytes"
	"context"
	"io"

	"github.com/pierrec/lz4/v4"
)

// compressSuffix marks lz4-framed blobs in the underlying store.
const compressSuffix = ".lz4"

// CompressingStore wraps a BlobStore so that blobs are stored lz4-framed.
// Bucket files are written once and read back rarely (disaster recovery),
// which favors a fast symmetric codec over a dense one.
//
// Open decompresses the whole blob into memory; ReadAt then serves from the
// decompressed image, so the Blob contract is unchanged for callers.
type CompressingStore struct {
	inner BlobStore
}

// NewCompressingStore wraps inner with lz4 compression.
func NewCompressingStore(inner BlobStore) *CompressingStore {
	return &CompressingStore{inner: inner}
}

// Open opens and decompresses a blob.
func (s *CompressingStore) Open(ctx context.Context, name string) (Blob, error) {
	b, err := s.inner.Open(ctx, name+compressSuffix)
	if err != nil {
		return nil, err
	}
	defer func() { _ = b.Close() }()

	compressed, err := ReadAll(ctx, b)
	if err != nil {
		return nil, err
	}

	zr := lz4.NewReader(bytes.NewReader(compressed))
	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, err
	}
	return &memoryBlob{data: data}, nil
}

// Put compresses and writes a blob whole.
func (s *CompressingStore) Put(ctx context.Context, name string, data []byte) error {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return s.inner.Put(ctx, name+compressSuffix, buf.Bytes())
}

// Delete removes a blob.
func (s *CompressingStore) Delete(ctx context.Context, name string) error {
	return s.inner.Delete(ctx, name+compressSuffix)
}

// List returns blob names with the compression suffix stripped.
func (s *CompressingStore) List(ctx context.Context, prefix string) ([]string, error) {
	names, err := s.inner.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if len(n) > len(compressSuffix) && n[len(n)-len(compressSuffix):] == compressSuffix {
			out = append(out, n[:len(n)-len(compressSuffix)])
		}
	}
	return out, nil
}
