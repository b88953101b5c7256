// Package bucketdb implements the bucket core of a ledger storage engine
// shaped as a log-structured merge tree.
//
// A bucket is an immutable, sorted, content-hashed on-disk run of ledger
// lifecycle records (INIT / LIVE / DEAD, plus a leading META header). The
// package provides:
//
//   - Merge: a single-pass streaming merge of two buckets under lifecycle
//     semantics, with optional shadow elision by newer buckets.
//   - Fresh: building a bucket from unsorted init/live/dead input vectors.
//   - Indexed reads: point lookups, ordered multi-key loads, and
//     poolshare-trustline range reads over a bucket file.
//   - ScanForEviction: a resumable scan that expires TTL-bound temporary
//     entries against a ledger transaction.
//
// Quick start:
//
//	mgr, _ := bucketdb.NewManager("./data")
//	b, _ := bucketdb.Fresh(ctx, mgr, 12, initEntries, liveEntries, deadEntries,
//		bucketdb.FreshOptions{KeepDeadEntries: true})
//
//	merged, _ := bucketdb.Merge(ctx, mgr, 12, oldBucket, newBucket, nil,
//		bucketdb.MergeOptions{KeepDeadEntries: true})
//
// Buckets are immutable once published and identified by the SHA-256 of
// their byte sequence: merging identical inputs always yields an identical
// hash. A bucket handle caches two reader cursors (index reads, eviction
// scans); those cursors are not safe for concurrent use. Open independent
// streams with OpenStream for parallel readers.
package bucketdb
