package structure

import (
	"hash/fnv"
	"math"

	"plaindex/pkg/common"
)

// BloomFilter is a probabilistic key set with double hashing. All Adds must
// happen before the filter is shared with concurrent readers.
type BloomFilter struct {
	bits  []uint64
	k     uint32
	m     uint32
	count uint
}

// NewBloomFilter sizes the filter for n keys at false-positive rate p.
func NewBloomFilter(n uint, p float64) *BloomFilter {
	if n == 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	// m = -(n * ln(p)) / (ln 2)^2
	// k = (m / n) * ln 2
	m := math.Ceil(float64(n) * math.Log(p) / math.Log(1.0/math.Pow(2.0, math.Log(2.0))))
	if m > math.MaxUint32 {
		m = math.MaxUint32
	}
	k := math.Ceil(m / float64(n) * math.Log(2.0))
	if k < 1 {
		k = 1
	}

	return &BloomFilter{
		bits: make([]uint64, (uint64(m)+63)/64),
		k:    uint32(k),
		m:    uint32(m),
	}
}

func (bf *BloomFilter) Add(key common.KeyType) {
	h1, h2 := hashes(key)
	for i := uint32(0); i < bf.k; i++ {
		pos := (h1 + i*h2) % bf.m
		bf.bits[pos/64] |= 1 << (pos % 64)
	}
	bf.count++
}

func (bf *BloomFilter) Contains(key common.KeyType) bool {
	h1, h2 := hashes(key)
	for i := uint32(0); i < bf.k; i++ {
		pos := (h1 + i*h2) % bf.m
		if bf.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

func hashes(key common.KeyType) (uint32, uint32) {
	h := fnv.New32a()
	_, _ = h.Write([]byte{byte(key), byte(key >> 8), byte(key >> 16), byte(key >> 24)})
	h1 := h.Sum32()
	// odd, so the hash sequence never collapses onto one slot
	h2 := uint32(key)*0x9e3779b1 | 1
	return h1, h2
}

func (bf *BloomFilter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"filter":          "bloom",
		"bloom_bits_size": bf.m,
		"bloom_hashes":    bf.k,
		"bloom_count":     bf.count,
	}
}
