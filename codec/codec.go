// Package codec implements the canonical binary encoding of bucket records.
//
// The encoding is deterministic: little-endian, union tag first, fixed-width
// scalars, length-prefixed variable fields. A bucket file is the plain
// concatenation of framed records, and its content hash is defined over
// exactly these bytes, so encode/decode MUST stay bit-exact across releases.
package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/bucketdb/ledger"
)

// AppendEntry appends the canonical encoding of a bucket record to dst.
func AppendEntry(dst []byte, e ledger.BucketEntry) ([]byte, error) {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(e.Type))
	switch e.Type {
	case ledger.BucketEntryTypeMeta:
		dst = binary.LittleEndian.AppendUint32(dst, e.Meta.LedgerVersion)
		return dst, nil
	case ledger.BucketEntryTypeDead:
		return ledger.AppendKey(dst, *e.Dead), nil
	case ledger.BucketEntryTypeInit, ledger.BucketEntryTypeLive:
		return appendLedgerEntry(dst, *e.Live)
	default:
		return nil, fmt.Errorf("codec: unknown bucket entry type %d", e.Type)
	}
}

// MarshalEntry returns the canonical encoding of a bucket record.
func MarshalEntry(e ledger.BucketEntry) ([]byte, error) {
	return AppendEntry(nil, e)
}

func appendLedgerEntry(dst []byte, e ledger.LedgerEntry) ([]byte, error) {
	dst = binary.LittleEndian.AppendUint32(dst, e.LastModifiedLedgerSeq)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(e.Data.Type))
	switch e.Data.Type {
	case ledger.EntryTypeAccount:
		a := e.Data.Account
		dst = append(dst, a.AccountID[:]...)
		dst = binary.LittleEndian.AppendUint64(dst, a.Balance)
		dst = binary.LittleEndian.AppendUint64(dst, a.SeqNum)
	case ledger.EntryTypeTrustLine:
		tl := e.Data.TrustLine
		dst = append(dst, tl.AccountID[:]...)
		dst = appendAsset(dst, tl.Asset)
		dst = binary.LittleEndian.AppendUint64(dst, tl.Balance)
		dst = binary.LittleEndian.AppendUint64(dst, tl.Limit)
	case ledger.EntryTypeOffer:
		o := e.Data.Offer
		dst = append(dst, o.SellerID[:]...)
		dst = binary.LittleEndian.AppendUint64(dst, o.OfferID)
		dst = binary.LittleEndian.AppendUint64(dst, o.Amount)
		dst = binary.LittleEndian.AppendUint64(dst, o.Price)
	case ledger.EntryTypeData:
		d := e.Data.Data
		dst = append(dst, d.AccountID[:]...)
		dst = appendBytes(dst, []byte(d.DataName))
		dst = appendBytes(dst, d.DataValue)
	case ledger.EntryTypeLiquidityPool:
		lp := e.Data.LiquidityPool
		dst = append(dst, lp.PoolID[:]...)
		dst = appendAsset(dst, lp.AssetA)
		dst = appendAsset(dst, lp.AssetB)
		dst = binary.LittleEndian.AppendUint64(dst, lp.ReserveA)
		dst = binary.LittleEndian.AppendUint64(dst, lp.ReserveB)
	case ledger.EntryTypeContractData:
		cd := e.Data.ContractData
		dst = append(dst, cd.Contract[:]...)
		dst = append(dst, cd.Key[:]...)
		dst = binary.LittleEndian.AppendUint32(dst, uint32(cd.Durability))
		dst = appendBytes(dst, cd.Val)
	case ledger.EntryTypeTTL:
		t := e.Data.TTL
		dst = append(dst, t.KeyHash[:]...)
		dst = binary.LittleEndian.AppendUint32(dst, t.LiveUntilLedgerSeq)
	default:
		return nil, fmt.Errorf("codec: unknown ledger entry type %d", e.Data.Type)
	}
	return dst, nil
}

func appendAsset(dst []byte, a ledger.Asset) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(a.Type))
	switch a.Type {
	case ledger.AssetTypeNative:
	case ledger.AssetTypeAlphanum:
		dst = append(dst, a.Code[:]...)
		dst = append(dst, a.Issuer[:]...)
	case ledger.AssetTypePoolShare:
		dst = append(dst, a.PoolID[:]...)
	}
	return dst
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}
