package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/hupe1980/bucketdb/ledger"
)

// UnmarshalEntry decodes a canonical bucket record. The whole of b must be
// consumed; trailing bytes are an error because the framing layer delimits
// records exactly.
func UnmarshalEntry(b []byte) (ledger.BucketEntry, error) {
	d := decoder{buf: b}
	e, err := d.entry()
	if err != nil {
		return ledger.BucketEntry{}, err
	}
	if d.off != len(b) {
		return ledger.BucketEntry{}, fmt.Errorf("codec: %d trailing bytes after record", len(b)-d.off)
	}
	return e, nil
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) u32() (uint32, error) {
	if d.off+4 > len(d.buf) {
		return 0, fmt.Errorf("codec: truncated record at offset %d", d.off)
	}
	v := binary.LittleEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v, nil
}

func (d *decoder) u64() (uint64, error) {
	if d.off+8 > len(d.buf) {
		return 0, fmt.Errorf("codec: truncated record at offset %d", d.off)
	}
	v := binary.LittleEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v, nil
}

func (d *decoder) arr32() ([32]byte, error) {
	var out [32]byte
	if d.off+32 > len(d.buf) {
		return out, fmt.Errorf("codec: truncated record at offset %d", d.off)
	}
	copy(out[:], d.buf[d.off:])
	d.off += 32
	return out, nil
}

func (d *decoder) arr12() ([12]byte, error) {
	var out [12]byte
	if d.off+12 > len(d.buf) {
		return out, fmt.Errorf("codec: truncated record at offset %d", d.off)
	}
	copy(out[:], d.buf[d.off:])
	d.off += 12
	return out, nil
}

func (d *decoder) bytes() ([]byte, error) {
	n, err := d.u32()
	if err != nil {
		return nil, err
	}
	if d.off+int(n) > len(d.buf) {
		return nil, fmt.Errorf("codec: truncated record at offset %d", d.off)
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:])
	d.off += int(n)
	return out, nil
}

func (d *decoder) asset() (ledger.Asset, error) {
	var a ledger.Asset
	t, err := d.u32()
	if err != nil {
		return a, err
	}
	a.Type = ledger.AssetType(t)
	switch a.Type {
	case ledger.AssetTypeNative:
	case ledger.AssetTypeAlphanum:
		if a.Code, err = d.arr12(); err != nil {
			return a, err
		}
		var issuer [32]byte
		if issuer, err = d.arr32(); err != nil {
			return a, err
		}
		a.Issuer = ledger.AccountID(issuer)
	case ledger.AssetTypePoolShare:
		var poolID [32]byte
		if poolID, err = d.arr32(); err != nil {
			return a, err
		}
		a.PoolID = ledger.PoolID(poolID)
	default:
		return a, fmt.Errorf("codec: unknown asset type %d", t)
	}
	return a, nil
}

func (d *decoder) entry() (ledger.BucketEntry, error) {
	t, err := d.u32()
	if err != nil {
		return ledger.BucketEntry{}, err
	}
	switch ledger.BucketEntryType(t) {
	case ledger.BucketEntryTypeMeta:
		version, err := d.u32()
		if err != nil {
			return ledger.BucketEntry{}, err
		}
		return ledger.MetaBucketEntry(ledger.BucketMetadata{LedgerVersion: version}), nil
	case ledger.BucketEntryTypeDead:
		k, n, err := ledger.DecodeKey(d.buf[d.off:])
		if err != nil {
			return ledger.BucketEntry{}, err
		}
		d.off += n
		return ledger.DeadBucketEntry(k), nil
	case ledger.BucketEntryTypeInit, ledger.BucketEntryTypeLive:
		le, err := d.ledgerEntry()
		if err != nil {
			return ledger.BucketEntry{}, err
		}
		if ledger.BucketEntryType(t) == ledger.BucketEntryTypeInit {
			return ledger.InitBucketEntry(le), nil
		}
		return ledger.LiveBucketEntry(le), nil
	default:
		return ledger.BucketEntry{}, fmt.Errorf("codec: unknown bucket entry type %d", t)
	}
}

func (d *decoder) ledgerEntry() (ledger.LedgerEntry, error) {
	var e ledger.LedgerEntry
	lastModified, err := d.u32()
	if err != nil {
		return e, err
	}
	e.LastModifiedLedgerSeq = lastModified

	t, err := d.u32()
	if err != nil {
		return e, err
	}
	e.Data.Type = ledger.EntryType(t)

	switch e.Data.Type {
	case ledger.EntryTypeAccount:
		a := &ledger.AccountEntry{}
		var id [32]byte
		if id, err = d.arr32(); err != nil {
			return e, err
		}
		a.AccountID = ledger.AccountID(id)
		if a.Balance, err = d.u64(); err != nil {
			return e, err
		}
		if a.SeqNum, err = d.u64(); err != nil {
			return e, err
		}
		e.Data.Account = a
	case ledger.EntryTypeTrustLine:
		tl := &ledger.TrustLineEntry{}
		var id [32]byte
		if id, err = d.arr32(); err != nil {
			return e, err
		}
		tl.AccountID = ledger.AccountID(id)
		if tl.Asset, err = d.asset(); err != nil {
			return e, err
		}
		if tl.Balance, err = d.u64(); err != nil {
			return e, err
		}
		if tl.Limit, err = d.u64(); err != nil {
			return e, err
		}
		e.Data.TrustLine = tl
	case ledger.EntryTypeOffer:
		o := &ledger.OfferEntry{}
		var id [32]byte
		if id, err = d.arr32(); err != nil {
			return e, err
		}
		o.SellerID = ledger.AccountID(id)
		if o.OfferID, err = d.u64(); err != nil {
			return e, err
		}
		if o.Amount, err = d.u64(); err != nil {
			return e, err
		}
		if o.Price, err = d.u64(); err != nil {
			return e, err
		}
		e.Data.Offer = o
	case ledger.EntryTypeData:
		de := &ledger.DataEntry{}
		var id [32]byte
		if id, err = d.arr32(); err != nil {
			return e, err
		}
		de.AccountID = ledger.AccountID(id)
		name, err := d.bytes()
		if err != nil {
			return e, err
		}
		de.DataName = string(name)
		if de.DataValue, err = d.bytes(); err != nil {
			return e, err
		}
		e.Data.Data = de
	case ledger.EntryTypeLiquidityPool:
		lp := &ledger.LiquidityPoolEntry{}
		var poolID [32]byte
		if poolID, err = d.arr32(); err != nil {
			return e, err
		}
		lp.PoolID = ledger.PoolID(poolID)
		if lp.AssetA, err = d.asset(); err != nil {
			return e, err
		}
		if lp.AssetB, err = d.asset(); err != nil {
			return e, err
		}
		if lp.ReserveA, err = d.u64(); err != nil {
			return e, err
		}
		if lp.ReserveB, err = d.u64(); err != nil {
			return e, err
		}
		e.Data.LiquidityPool = lp
	case ledger.EntryTypeContractData:
		cd := &ledger.ContractDataEntry{}
		var contract, key [32]byte
		if contract, err = d.arr32(); err != nil {
			return e, err
		}
		cd.Contract = ledger.Hash(contract)
		if key, err = d.arr32(); err != nil {
			return e, err
		}
		cd.Key = ledger.Hash(key)
		dur, err := d.u32()
		if err != nil {
			return e, err
		}
		cd.Durability = ledger.Durability(dur)
		if cd.Val, err = d.bytes(); err != nil {
			return e, err
		}
		e.Data.ContractData = cd
	case ledger.EntryTypeTTL:
		t := &ledger.TTLEntry{}
		var keyHash [32]byte
		if keyHash, err = d.arr32(); err != nil {
			return e, err
		}
		t.KeyHash = ledger.Hash(keyHash)
		if t.LiveUntilLedgerSeq, err = d.u32(); err != nil {
			return e, err
		}
		e.Data.TTL = t
	default:
		return e, fmt.Errorf("codec: unknown ledger entry type %d", t)
	}
	return e, nil
}
