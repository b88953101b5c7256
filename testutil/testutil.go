// Package testutil provides deterministic generators of ledger keys and
// entries for tests and benchmarks.
package testutil

import (
	"math/rand"

	"github.com/hupe1980/bucketdb/ledger"
)

// RNG is a deterministic random source.
type RNG struct {
	*rand.Rand
}

// NewRNG creates a seeded generator.
func NewRNG(seed int64) *RNG {
	return &RNG{Rand: rand.New(rand.NewSource(seed))}
}

// AccountID derives a deterministic account id from n.
func AccountID(n byte) ledger.AccountID {
	var id ledger.AccountID
	for i := range id {
		id[i] = n
	}
	return id
}

// PoolID derives a deterministic pool id from n.
func PoolID(n byte) ledger.PoolID {
	var id ledger.PoolID
	for i := range id {
		id[i] = n
	}
	return id
}

// Hash derives a deterministic hash from n.
func Hash(n byte) ledger.Hash {
	var h ledger.Hash
	for i := range h {
		h[i] = n
	}
	return h
}

// AccountEntry builds an account entry with the given id byte and balance.
func AccountEntry(n byte, balance uint64) ledger.LedgerEntry {
	return ledger.LedgerEntry{
		LastModifiedLedgerSeq: 1,
		Data: ledger.LedgerEntryData{
			Type: ledger.EntryTypeAccount,
			Account: &ledger.AccountEntry{
				AccountID: AccountID(n),
				Balance:   balance,
				SeqNum:    1,
			},
		},
	}
}

// AccountKey builds the key matching AccountEntry(n, ...).
func AccountKey(n byte) ledger.LedgerKey {
	return ledger.AccountLedgerKey(AccountID(n))
}

// PoolShareTrustLine builds a poolshare trustline entry held by account n
// on pool p.
func PoolShareTrustLine(n, p byte, balance uint64) ledger.LedgerEntry {
	return ledger.LedgerEntry{
		LastModifiedLedgerSeq: 1,
		Data: ledger.LedgerEntryData{
			Type: ledger.EntryTypeTrustLine,
			TrustLine: &ledger.TrustLineEntry{
				AccountID: AccountID(n),
				Asset: ledger.Asset{
					Type:   ledger.AssetTypePoolShare,
					PoolID: PoolID(p),
				},
				Balance: balance,
				Limit:   1 << 40,
			},
		},
	}
}

// TemporaryEntry builds a TTL-bound temporary contract data entry.
func TemporaryEntry(contract, key byte, val []byte) ledger.LedgerEntry {
	return ledger.LedgerEntry{
		LastModifiedLedgerSeq: 1,
		Data: ledger.LedgerEntryData{
			Type: ledger.EntryTypeContractData,
			ContractData: &ledger.ContractDataEntry{
				Contract:   Hash(contract),
				Key:        Hash(key),
				Durability: ledger.DurabilityTemporary,
				Val:        val,
			},
		},
	}
}

// PersistentEntry builds a persistent contract data entry.
func PersistentEntry(contract, key byte, val []byte) ledger.LedgerEntry {
	e := TemporaryEntry(contract, key, val)
	e.Data.ContractData.Durability = ledger.DurabilityPersistent
	return e
}

// TTLEntry builds the TTL entry for target, live until liveUntil.
func TTLEntry(target ledger.LedgerEntry, liveUntil uint32) ledger.LedgerEntry {
	ttlKey := ledger.TTLKeyForEntry(target)
	return ledger.LedgerEntry{
		LastModifiedLedgerSeq: 1,
		Data: ledger.LedgerEntryData{
			Type: ledger.EntryTypeTTL,
			TTL: &ledger.TTLEntry{
				KeyHash:            ttlKey.TTL.KeyHash,
				LiveUntilLedgerSeq: liveUntil,
			},
		},
	}
}

// RandomAccountEntries generates n account entries with distinct ids.
func (r *RNG) RandomAccountEntries(n int) []ledger.LedgerEntry {
	perm := r.Perm(256)
	if n > len(perm) {
		n = len(perm)
	}
	out := make([]ledger.LedgerEntry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, AccountEntry(byte(perm[i]), uint64(r.Int63n(1<<40))))
	}
	return out
}
