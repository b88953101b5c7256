package ledger

// AccountEntry is the value of an account.
type AccountEntry struct {
	AccountID AccountID
	Balance   uint64
	SeqNum    uint64
}

// TrustLineEntry is the value of a trustline.
type TrustLineEntry struct {
	AccountID AccountID
	Asset     Asset
	Balance   uint64
	Limit     uint64
}

// OfferEntry is the value of an offer.
type OfferEntry struct {
	SellerID AccountID
	OfferID  uint64
	Amount   uint64
	Price    uint64
}

// DataEntry is the value of a managed-data entry.
type DataEntry struct {
	AccountID AccountID
	DataName  string
	DataValue []byte
}

// LiquidityPoolEntry is the value of a liquidity pool.
type LiquidityPoolEntry struct {
	PoolID   PoolID
	AssetA   Asset
	AssetB   Asset
	ReserveA uint64
	ReserveB uint64
}

// ContractDataEntry is the value of a contract storage entry.
type ContractDataEntry struct {
	Contract   Hash
	Key        Hash
	Durability Durability
	Val        []byte
}

// TTLEntry records until which ledger a Soroban state entry stays live.
type TTLEntry struct {
	KeyHash            Hash
	LiveUntilLedgerSeq uint32
}

// LedgerEntryData is a tagged union over the per-type value arms. Exactly
// the arm selected by Type is non-nil.
type LedgerEntryData struct {
	Type          EntryType
	Account       *AccountEntry
	TrustLine     *TrustLineEntry
	Offer         *OfferEntry
	Data          *DataEntry
	LiquidityPool *LiquidityPoolEntry
	ContractData  *ContractDataEntry
	TTL           *TTLEntry
}

// LedgerEntry is a versioned ledger entry value.
type LedgerEntry struct {
	LastModifiedLedgerSeq uint32
	Data                  LedgerEntryData
}

// EntryKey derives the identifying key of an entry.
func EntryKey(e LedgerEntry) LedgerKey {
	switch e.Data.Type {
	case EntryTypeAccount:
		return AccountLedgerKey(e.Data.Account.AccountID)
	case EntryTypeTrustLine:
		return TrustLineLedgerKey(e.Data.TrustLine.AccountID, e.Data.TrustLine.Asset)
	case EntryTypeOffer:
		return OfferLedgerKey(e.Data.Offer.SellerID, e.Data.Offer.OfferID)
	case EntryTypeData:
		return DataLedgerKey(e.Data.Data.AccountID, e.Data.Data.DataName)
	case EntryTypeLiquidityPool:
		return LiquidityPoolLedgerKey(e.Data.LiquidityPool.PoolID)
	case EntryTypeContractData:
		cd := e.Data.ContractData
		return ContractDataLedgerKey(cd.Contract, cd.Key, cd.Durability)
	case EntryTypeTTL:
		return TTLLedgerKey(e.Data.TTL.KeyHash)
	default:
		panic("ledger: unknown entry type")
	}
}
