// Package ledger defines the data model shared by the bucket core: ledger
// keys and entries, the bucket record variants written to bucket files, the
// canonical key ordering, and the TTL rules that drive eviction of temporary
// entries.
//
// All types are plain values. The canonical byte encoding of a key
// (EncodeKey) and the comparison order (CompareKeys) agree on equality, so a
// key's identity can be used interchangeably as a comparison operand, a map
// key (via its encoding), or a hash preimage.
package ledger
