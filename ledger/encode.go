package ledger

import (
	"encoding/binary"
	"fmt"
)

// Canonical key encoding: little-endian, union tag first, fixed-width
// scalars, length-prefixed strings. AppendKey and DecodeKey are exact
// inverses; the encoding is a pure function of the key's fields, so it can
// serve as a map key and as the TTL hash preimage.

// AppendKey appends the canonical encoding of k to dst.
func AppendKey(dst []byte, k LedgerKey) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(k.Type))
	switch k.Type {
	case EntryTypeAccount:
		dst = append(dst, k.Account.AccountID[:]...)
	case EntryTypeTrustLine:
		dst = append(dst, k.TrustLine.AccountID[:]...)
		dst = appendAsset(dst, k.TrustLine.Asset)
	case EntryTypeOffer:
		dst = append(dst, k.Offer.SellerID[:]...)
		dst = binary.LittleEndian.AppendUint64(dst, k.Offer.OfferID)
	case EntryTypeData:
		dst = append(dst, k.Data.AccountID[:]...)
		dst = appendBytes(dst, []byte(k.Data.DataName))
	case EntryTypeLiquidityPool:
		dst = append(dst, k.LiquidityPool.PoolID[:]...)
	case EntryTypeContractData:
		dst = append(dst, k.ContractData.Contract[:]...)
		dst = append(dst, k.ContractData.Key[:]...)
		dst = binary.LittleEndian.AppendUint32(dst, uint32(k.ContractData.Durability))
	case EntryTypeTTL:
		dst = append(dst, k.TTL.KeyHash[:]...)
	default:
		panic("ledger: unknown key type")
	}
	return dst
}

// EncodeKey returns the canonical encoding of k.
func EncodeKey(k LedgerKey) []byte {
	return AppendKey(nil, k)
}

// KeyString returns the canonical encoding of k as a string, suitable as a
// map key.
func KeyString(k LedgerKey) string {
	return string(AppendKey(nil, k))
}

func appendAsset(dst []byte, a Asset) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(a.Type))
	switch a.Type {
	case AssetTypeNative:
	case AssetTypeAlphanum:
		dst = append(dst, a.Code[:]...)
		dst = append(dst, a.Issuer[:]...)
	case AssetTypePoolShare:
		dst = append(dst, a.PoolID[:]...)
	default:
		panic("ledger: unknown asset type")
	}
	return dst
}

func appendBytes(dst, b []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

// DecodeKey decodes a canonical key encoding produced by AppendKey and
// returns the key together with the number of bytes consumed.
func DecodeKey(b []byte) (LedgerKey, int, error) {
	d := keyDecoder{buf: b}
	k, err := d.key()
	if err != nil {
		return LedgerKey{}, 0, err
	}
	return k, d.off, nil
}

type keyDecoder struct {
	buf []byte
	off int
}

func (d *keyDecoder) u32() (uint32, error) {
	if d.off+4 > len(d.buf) {
		return 0, fmt.Errorf("ledger: truncated key at offset %d", d.off)
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *keyDecoder) u64() (uint64, error) {
	if d.off+8 > len(d.buf) {
		return 0, fmt.Errorf("ledger: truncated key at offset %d", d.off)
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *keyDecoder) arr32() ([32]byte, error) {
	var out [32]byte
	if d.off+32 > len(d.buf) {
		return out, fmt.Errorf("ledger: truncated key at offset %d", d.off)
	}
	copy(out[:], d.buf[d.off:])
	d.off += 32
	return out, nil
}

func (d *keyDecoder) arr12() ([12]byte, error) {
	var out [12]byte
	if d.off+12 > len(d.buf) {
		return out, fmt.Errorf("ledger: truncated key at offset %d", d.off)
	}
	copy(out[:], d.buf[d.off:])
	d.off += 12
	return out, nil
}

func (d *keyDecoder) bytes() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if d.off+int(n) > len(d.buf) {
		return nil, fmt.Errorf("ledger: truncated key at offset %d", d.off)
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:])
	d.off += int(n)
	return out, nil
}

func (d *keyDecoder) asset() (Asset, error) {
	var a Asset
	t, err := d.u32()
	if err != nil {
		return a, err
	}
	a.Type = AssetType(t)
	switch a.Type {
	case AssetTypeNative:
	case AssetTypeAlphanum:
		if a.Code, err = d.arr12(); err != nil {
			return a, err
		}
		if a.Issuer, err = d.arr32(); err != nil {
			return a, err
		}
	case AssetTypePoolShare:
		if a.PoolID, err = d.arr32(); err != nil {
			return a, err
		}
	default:
		return a, fmt.Errorf("ledger: unknown asset type %d", t)
	}
	return a, nil
}

func (d *keyDecoder) key() (LedgerKey, error) {
	t, err := d.u32()
	if err != nil {
		return LedgerKey{}, err
	}
	switch EntryType(t) {
	case EntryTypeAccount:
		id, err := d.arr32()
		if err != nil {
			return LedgerKey{}, err
		}
		return AccountLedgerKey(id), nil
	case EntryTypeTrustLine:
		id, err := d.arr32()
		if err != nil {
			return LedgerKey{}, err
		}
		asset, err := d.asset()
		if err != nil {
			return LedgerKey{}, err
		}
		return TrustLineLedgerKey(id, asset), nil
	case EntryTypeOffer:
		id, err := d.arr32()
		if err != nil {
			return LedgerKey{}, err
		}
		offerID, err := d.u64()
		if err != nil {
			return LedgerKey{}, err
		}
		return OfferLedgerKey(id, offerID), nil
	case EntryTypeData:
		id, err := d.arr32()
		if err != nil {
			return LedgerKey{}, err
		}
		name, err := d.bytes()
		if err != nil {
			return LedgerKey{}, err
		}
		return DataLedgerKey(id, string(name)), nil
	case EntryTypeLiquidityPool:
		poolID, err := d.arr32()
		if err != nil {
			return LedgerKey{}, err
		}
		return LiquidityPoolLedgerKey(PoolID(poolID)), nil
	case EntryTypeContractData:
		contract, err := d.arr32()
		if err != nil {
			return LedgerKey{}, err
		}
		key, err := d.arr32()
		if err != nil {
			return LedgerKey{}, err
		}
		dur, err := d.u32()
		if err != nil {
			return LedgerKey{}, err
		}
		return ContractDataLedgerKey(contract, key, Durability(dur)), nil
	case EntryTypeTTL:
		keyHash, err := d.arr32()
		if err != nil {
			return LedgerKey{}, err
		}
		return TTLLedgerKey(keyHash), nil
	default:
		return LedgerKey{}, fmt.Errorf("ledger: unknown key type %d", t)
	}
}
