package bucketdb

import "errors"

// ErrMalformedBucket indicates a lifecycle-invariant violation in the input
// buckets, such as an equal-key pair where the old record is non-DEAD and
// the new record is INIT. These are data-corruption or programmer errors;
// there is no recovery.
var ErrMalformedBucket = errors.New("malformed bucket")

// ErrProtocolTooNew is returned when the effective merge protocol exceeds
// the caller's maximum supported protocol version.
var ErrProtocolTooNew = errors.New("bucket protocol version exceeds maximum")

// ErrShadowsUnsupported is returned when shadows are supplied to a merge at
// a protocol version that has removed shadowing.
var ErrShadowsUnsupported = errors.New("shadows are not supported")

// ErrMergeShutdown is returned when a merge is aborted because the bucket
// manager is shutting down. The temp file is discarded; callers on the
// shutdown path treat this as a non-event.
var ErrMergeShutdown = errors.New("incomplete bucket merge due to shutdown")

// ErrIndexNotSet is returned by index-driven reads on an unindexed bucket.
var ErrIndexNotSet = errors.New("bucket index not set")

// ErrIndexAlreadySet is returned by SetIndex on an already indexed bucket.
var ErrIndexAlreadySet = errors.New("bucket index already set")

// ErrEntriesOutOfOrder indicates an attempt to write records violating the
// strict sort invariant of bucket files.
var ErrEntriesOutOfOrder = errors.New("bucket entries out of order")
