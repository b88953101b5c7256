package ledger

// EntryType discriminates the kinds of ledger entries.
type EntryType uint32

const (
	EntryTypeAccount EntryType = iota
	EntryTypeTrustLine
	EntryTypeOffer
	EntryTypeData
	EntryTypeLiquidityPool
	EntryTypeContractData
	EntryTypeTTL
)

// String implements fmt.Stringer.
func (t EntryType) String() string {
	switch t {
	case EntryTypeAccount:
		return "ACCOUNT"
	case EntryTypeTrustLine:
		return "TRUSTLINE"
	case EntryTypeOffer:
		return "OFFER"
	case EntryTypeData:
		return "DATA"
	case EntryTypeLiquidityPool:
		return "LIQUIDITY_POOL"
	case EntryTypeContractData:
		return "CONTRACT_DATA"
	case EntryTypeTTL:
		return "TTL"
	default:
		return "UNKNOWN"
	}
}

// AccountID identifies an account.
type AccountID [32]byte

// PoolID identifies a liquidity pool.
type PoolID [32]byte

// Hash is a 32-byte digest.
type Hash [32]byte

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// AssetType discriminates trustline assets.
type AssetType uint32

const (
	AssetTypeNative AssetType = iota
	AssetTypeAlphanum
	AssetTypePoolShare
)

// Asset identifies what a trustline holds: the native asset, an issued
// alphanumeric asset, or a pool share.
type Asset struct {
	Type   AssetType
	Code   [12]byte  // Alphanum only
	Issuer AccountID // Alphanum only
	PoolID PoolID    // PoolShare only
}

// Durability classifies contract data lifetime.
type Durability uint32

const (
	DurabilityPersistent Durability = iota
	DurabilityTemporary
)

// AccountKey identifies an account entry.
type AccountKey struct {
	AccountID AccountID
}

// TrustLineKey identifies a trustline entry.
type TrustLineKey struct {
	AccountID AccountID
	Asset     Asset
}

// OfferKey identifies an offer entry.
type OfferKey struct {
	SellerID AccountID
	OfferID  uint64
}

// DataKey identifies a managed-data entry.
type DataKey struct {
	AccountID AccountID
	DataName  string
}

// LiquidityPoolKey identifies a liquidity pool entry.
type LiquidityPoolKey struct {
	PoolID PoolID
}

// ContractDataKey identifies a contract storage entry.
type ContractDataKey struct {
	Contract   Hash
	Key        Hash
	Durability Durability
}

// TTLKey identifies the TTL entry of a Soroban state entry. KeyHash is the
// digest of the canonical encoding of the associated entry's key.
type TTLKey struct {
	KeyHash Hash
}

// LedgerKey is a tagged union over the per-type key arms. Exactly the arm
// selected by Type is non-nil.
type LedgerKey struct {
	Type          EntryType
	Account       *AccountKey
	TrustLine     *TrustLineKey
	Offer         *OfferKey
	Data          *DataKey
	LiquidityPool *LiquidityPoolKey
	ContractData  *ContractDataKey
	TTL           *TTLKey
}

// AccountLedgerKey builds an account key.
func AccountLedgerKey(id AccountID) LedgerKey {
	return LedgerKey{Type: EntryTypeAccount, Account: &AccountKey{AccountID: id}}
}

// TrustLineLedgerKey builds a trustline key.
func TrustLineLedgerKey(id AccountID, asset Asset) LedgerKey {
	return LedgerKey{Type: EntryTypeTrustLine, TrustLine: &TrustLineKey{AccountID: id, Asset: asset}}
}

// OfferLedgerKey builds an offer key.
func OfferLedgerKey(seller AccountID, offerID uint64) LedgerKey {
	return LedgerKey{Type: EntryTypeOffer, Offer: &OfferKey{SellerID: seller, OfferID: offerID}}
}

// DataLedgerKey builds a managed-data key.
func DataLedgerKey(id AccountID, name string) LedgerKey {
	return LedgerKey{Type: EntryTypeData, Data: &DataKey{AccountID: id, DataName: name}}
}

// LiquidityPoolLedgerKey builds a liquidity pool key.
func LiquidityPoolLedgerKey(poolID PoolID) LedgerKey {
	return LedgerKey{Type: EntryTypeLiquidityPool, LiquidityPool: &LiquidityPoolKey{PoolID: poolID}}
}

// ContractDataLedgerKey builds a contract data key.
func ContractDataLedgerKey(contract, key Hash, durability Durability) LedgerKey {
	return LedgerKey{Type: EntryTypeContractData, ContractData: &ContractDataKey{
		Contract:   contract,
		Key:        key,
		Durability: durability,
	}}
}

// TTLLedgerKey builds a TTL key from a key-hash.
func TTLLedgerKey(keyHash Hash) LedgerKey {
	return LedgerKey{Type: EntryTypeTTL, TTL: &TTLKey{KeyHash: keyHash}}
}
