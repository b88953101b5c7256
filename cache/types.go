// Package cache provides a byte-oriented block cache for page reads of
// immutable bucket files.
package cache

import (
	"context"

	"github.com/hupe1980/bucketdb/ledger"
)

// CacheKey identifies a page of a bucket file. Bucket contents are
// immutable and content-addressed, so the hash plus offset is stable across
// processes.
type CacheKey struct {
	Bucket ledger.Hash
	// Offset is the byte offset of the page within the bucket file.
	Offset int64
}

// BlockCache is a byte-oriented cache for immutable pages.
// Returned slices must be treated as read-only.
type BlockCache interface {
	// Get returns a cached page. ok=false if missing.
	Get(ctx context.Context, key CacheKey) (b []byte, ok bool)
	// Set caches a page. Implementations may copy or retain; caller must
	// treat b as immutable.
	Set(ctx context.Context, key CacheKey, b []byte)
}
