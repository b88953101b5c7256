package ledger

import "crypto/sha256"

// IsTemporary reports whether an entry value is TTL-bound temporary state.
// Only temporary entries are candidates for eviction.
func IsTemporary(d LedgerEntryData) bool {
	return d.Type == EntryTypeContractData &&
		d.ContractData.Durability == DurabilityTemporary
}

// TTLKeyForEntry derives the TTL key associated with a Soroban state entry.
func TTLKeyForEntry(e LedgerEntry) LedgerKey {
	return TTLKeyFor(EntryKey(e))
}

// TTLKeyFor derives the TTL key associated with a Soroban state key: the
// digest of the key's canonical encoding.
func TTLKeyFor(k LedgerKey) LedgerKey {
	return TTLLedgerKey(Hash(sha256.Sum256(EncodeKey(k))))
}

// IsLive reports whether a TTL entry keeps its associated state alive at
// ledgerSeq.
func IsLive(ttl LedgerEntry, ledgerSeq uint32) bool {
	return ttl.Data.TTL.LiveUntilLedgerSeq >= ledgerSeq
}

// IsPoolShareTrustLineKey reports whether k is a poolshare trustline key
// held by account.
func IsPoolShareTrustLineKey(k LedgerKey, account AccountID) bool {
	return k.Type == EntryTypeTrustLine &&
		k.TrustLine.Asset.Type == AssetTypePoolShare &&
		k.TrustLine.AccountID == account
}

// IsPoolShareTrustLine reports whether d is a poolshare trustline held by
// account.
func IsPoolShareTrustLine(d LedgerEntryData, account AccountID) bool {
	return d.Type == EntryTypeTrustLine &&
		d.TrustLine.Asset.Type == AssetTypePoolShare &&
		d.TrustLine.AccountID == account
}
