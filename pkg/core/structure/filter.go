// Package structure holds the membership filters an index can consult before
// touching the dataset.
package structure

import (
	"fmt"
	"strings"

	"plaindex/pkg/common"
)

// Filter answers "definitely absent" for keys. Contains must never return
// false for a key that was added.
type Filter interface {
	Add(key common.KeyType)
	Contains(key common.KeyType) bool
	Stats() map[string]interface{}
}

// Kinds accepted by NewFilter.
const (
	KindNone    = "none"
	KindBloom   = "bloom"
	KindRoaring = "roaring"
)

// NewFilter builds a filter of the given kind over keys. KindNone (or "")
// returns a nil Filter.
func NewFilter(kind string, keys []common.KeyType, falseProb float64) (Filter, error) {
	switch strings.ToLower(kind) {
	case "", KindNone:
		return nil, nil
	case KindBloom:
		bf := NewBloomFilter(uint(countDistinct(keys)), falseProb)
		addAll(bf, keys)
		return bf, nil
	case KindRoaring:
		rf := NewRoaringFilter()
		addAll(rf, keys)
		rf.Optimize()
		return rf, nil
	}
	return nil, fmt.Errorf("%w: unknown filter kind %q", common.ErrInvalidInput, kind)
}

func addAll(f Filter, keys []common.KeyType) {
	for i, k := range keys {
		if i > 0 && keys[i-1] == k {
			continue
		}
		f.Add(k)
	}
}

func countDistinct(keys []common.KeyType) int {
	n := 0
	for i, k := range keys {
		if i == 0 || keys[i-1] != k {
			n++
		}
	}
	return n
}
