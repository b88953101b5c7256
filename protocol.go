package bucketdb

import (
	"fmt"

	"github.com/hupe1980/bucketdb/ledger"
)

// Protocol version constants. Only their relative order is load-bearing.
const (
	// FirstProtocolSupportingInitEntryAndMetaEntry is the first ledger
	// protocol whose bucket files carry a leading META record and
	// distinguish INIT from LIVE records.
	FirstProtocolSupportingInitEntryAndMetaEntry uint32 = 11

	// FirstProtocolShadowsRemoved is the first ledger protocol at which
	// merges no longer accept shadow buckets.
	FirstProtocolShadowsRemoved uint32 = 14

	// SorobanProtocolVersion is the first ledger protocol with TTL-bound
	// temporary entries subject to eviction.
	SorobanProtocolVersion uint32 = 20
)

// ProtocolVersionIsBefore reports v < c.
func ProtocolVersionIsBefore(v, c uint32) bool { return v < c }

// ProtocolVersionStartsFrom reports v >= c.
func ProtocolVersionStartsFrom(v, c uint32) bool { return v >= c }

// checkProtocolLegality rejects record types that cannot occur in a bucket
// of the given protocol version.
func checkProtocolLegality(e ledger.BucketEntry, protocolVersion uint32) error {
	if ProtocolVersionIsBefore(protocolVersion, FirstProtocolSupportingInitEntryAndMetaEntry) &&
		(e.Type == ledger.BucketEntryTypeInit || e.Type == ledger.BucketEntryTypeMeta) {
		return fmt.Errorf("%w: unsupported entry type %s in protocol %d bucket",
			ErrMalformedBucket, e.Type, protocolVersion)
	}
	return nil
}
