// Package baseline is the exact ordered index the learned index is compared
// against.
package baseline

import (
	"github.com/google/btree"

	"plaindex/pkg/common"
)

const DefaultDegree = 32

type item struct {
	key  common.KeyType
	rank uint64
}

func less(a, b item) bool { return a.key < b.key }

// BTree maps each distinct key to the rank of its first occurrence.
// Immutable after NewBTree.
type BTree struct {
	tree *btree.BTreeG[item]
	n    uint64
}

// NewBTree indexes a sorted key slice.
func NewBTree(keys []common.KeyType, degree int) *BTree {
	if degree < 2 {
		degree = DefaultDegree
	}
	t := btree.NewG[item](degree, less)
	for i, k := range keys {
		if i > 0 && keys[i-1] == k {
			continue
		}
		t.ReplaceOrInsert(item{key: k, rank: uint64(i)})
	}
	return &BTree{tree: t, n: uint64(len(keys))}
}

// RankOf returns the first-occurrence rank of key.
func (b *BTree) RankOf(key common.KeyType) (uint64, bool) {
	it, ok := b.tree.Get(item{key: key})
	return it.rank, ok
}

// LowerBound returns the number of keys strictly less than key.
func (b *BTree) LowerBound(key common.KeyType) uint64 {
	rank := b.n
	b.tree.AscendGreaterOrEqual(item{key: key}, func(it item) bool {
		rank = it.rank
		return false
	})
	return rank
}

// Distinct is the number of distinct keys.
func (b *BTree) Distinct() int { return b.tree.Len() }

func (b *BTree) Len() uint64 { return b.n }
