package index

import (
	"hash/fnv"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// bloomFilter is a classic double-hashing bloom filter over canonical key
// encodings. FNV-1a keeps the filter deterministic so it can be persisted
// alongside the index.
type bloomFilter struct {
	bits *bitset.BitSet
	k    uint32
}

// newBloomFilter sizes a filter for n items at false-positive rate p.
func newBloomFilter(n int, p float64) *bloomFilter {
	if n < 1 {
		n = 1
	}
	ln2 := math.Ln2
	m := uint(math.Ceil(-float64(n) * math.Log(p) / (ln2 * ln2)))
	if m < 64 {
		m = 64
	}
	k := uint32(math.Round(float64(m) / float64(n) * ln2))
	if k < 1 {
		k = 1
	}
	return &bloomFilter{bits: bitset.New(m), k: k}
}

func bloomHash(key []byte) (uint32, uint32) {
	h := fnv.New64a()
	_, _ = h.Write(key)
	sum := h.Sum64()
	h1 := uint32(sum)
	h2 := uint32(sum >> 32)
	if h2 == 0 {
		h2 = 0x9e3779b9
	}
	return h1, h2
}

func (b *bloomFilter) add(key []byte) {
	h1, h2 := bloomHash(key)
	m := uint32(b.bits.Len())
	for i := uint32(0); i < b.k; i++ {
		b.bits.Set(uint((h1 + i*h2) % m))
	}
}

func (b *bloomFilter) mayContain(key []byte) bool {
	h1, h2 := bloomHash(key)
	m := uint32(b.bits.Len())
	for i := uint32(0); i < b.k; i++ {
		if !b.bits.Test(uint((h1 + i*h2) % m)) {
			return false
		}
	}
	return true
}
