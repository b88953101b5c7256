package ledger

import (
	"bytes"
	"cmp"
	"sort"
	"strings"
)

// CompareKeys imposes the canonical total order over ledger keys:
// type-major, then field-wise in encoding order. It returns -1, 0 or +1.
func CompareKeys(a, b LedgerKey) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	switch a.Type {
	case EntryTypeAccount:
		return bytes.Compare(a.Account.AccountID[:], b.Account.AccountID[:])
	case EntryTypeTrustLine:
		if c := bytes.Compare(a.TrustLine.AccountID[:], b.TrustLine.AccountID[:]); c != 0 {
			return c
		}
		return compareAssets(a.TrustLine.Asset, b.TrustLine.Asset)
	case EntryTypeOffer:
		if c := bytes.Compare(a.Offer.SellerID[:], b.Offer.SellerID[:]); c != 0 {
			return c
		}
		return cmp.Compare(a.Offer.OfferID, b.Offer.OfferID)
	case EntryTypeData:
		if c := bytes.Compare(a.Data.AccountID[:], b.Data.AccountID[:]); c != 0 {
			return c
		}
		return strings.Compare(a.Data.DataName, b.Data.DataName)
	case EntryTypeLiquidityPool:
		return bytes.Compare(a.LiquidityPool.PoolID[:], b.LiquidityPool.PoolID[:])
	case EntryTypeContractData:
		if c := bytes.Compare(a.ContractData.Contract[:], b.ContractData.Contract[:]); c != 0 {
			return c
		}
		if c := bytes.Compare(a.ContractData.Key[:], b.ContractData.Key[:]); c != 0 {
			return c
		}
		return cmp.Compare(a.ContractData.Durability, b.ContractData.Durability)
	case EntryTypeTTL:
		return bytes.Compare(a.TTL.KeyHash[:], b.TTL.KeyHash[:])
	default:
		panic("ledger: unknown key type")
	}
}

func compareAssets(a, b Asset) int {
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	switch a.Type {
	case AssetTypeNative:
		return 0
	case AssetTypeAlphanum:
		if c := bytes.Compare(a.Code[:], b.Code[:]); c != 0 {
			return c
		}
		return bytes.Compare(a.Issuer[:], b.Issuer[:])
	case AssetTypePoolShare:
		return bytes.Compare(a.PoolID[:], b.PoolID[:])
	default:
		panic("ledger: unknown asset type")
	}
}

// KeysEqual reports key identity.
func KeysEqual(a, b LedgerKey) bool {
	return CompareKeys(a, b) == 0
}

// CompareBucketEntries orders bucket records for merging: META sorts before
// every data record (and two METAs compare equal); data records compare by
// their ledger key identity only, so the record variant never participates
// in the order.
func CompareBucketEntries(a, b BucketEntry) int {
	aMeta := a.Type == BucketEntryTypeMeta
	bMeta := b.Type == BucketEntryTypeMeta
	switch {
	case aMeta && bMeta:
		return 0
	case aMeta:
		return -1
	case bMeta:
		return 1
	}
	return CompareKeys(a.Key(), b.Key())
}

// KeySet is an ordered set of ledger keys with logarithmic membership
// operations. The zero value is an empty set.
type KeySet struct {
	keys []LedgerKey
}

// NewKeySet builds a set from the given keys, deduplicating them.
func NewKeySet(keys ...LedgerKey) *KeySet {
	s := &KeySet{}
	for _, k := range keys {
		s.Add(k)
	}
	return s
}

// Len returns the number of keys in the set.
func (s *KeySet) Len() int { return len(s.keys) }

// At returns the i-th key in order.
func (s *KeySet) At(i int) LedgerKey { return s.keys[i] }

func (s *KeySet) search(k LedgerKey) int {
	return sort.Search(len(s.keys), func(i int) bool {
		return CompareKeys(s.keys[i], k) >= 0
	})
}

// Add inserts k, keeping the set ordered. Returns false if already present.
func (s *KeySet) Add(k LedgerKey) bool {
	i := s.search(k)
	if i < len(s.keys) && KeysEqual(s.keys[i], k) {
		return false
	}
	s.keys = append(s.keys, LedgerKey{})
	copy(s.keys[i+1:], s.keys[i:])
	s.keys[i] = k
	return true
}

// Contains reports membership.
func (s *KeySet) Contains(k LedgerKey) bool {
	i := s.search(k)
	return i < len(s.keys) && KeysEqual(s.keys[i], k)
}

// Remove deletes k from the set. Returns false if absent.
func (s *KeySet) Remove(k LedgerKey) bool {
	i := s.search(k)
	if i >= len(s.keys) || !KeysEqual(s.keys[i], k) {
		return false
	}
	s.keys = append(s.keys[:i], s.keys[i+1:]...)
	return true
}

// RemoveAt deletes the i-th key.
func (s *KeySet) RemoveAt(i int) {
	s.keys = append(s.keys[:i], s.keys[i+1:]...)
}

// Keys returns the ordered keys. The slice is owned by the set.
func (s *KeySet) Keys() []LedgerKey { return s.keys }
