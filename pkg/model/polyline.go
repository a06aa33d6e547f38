package model

import (
	"sort"

	"plaindex/pkg/common"
)

// Polyline evaluates a breakpoint sequence: the segment covering a key is the
// rightmost breakpoint whose key does not exceed it.
type Polyline []common.Breakpoint

// Segment returns the index of the segment covering key. Keys below the
// first breakpoint map to segment 0.
func (p Polyline) Segment(key common.KeyType) int {
	i := sort.Search(len(p), func(i int) bool { return p[i].Key > key })
	if i == 0 {
		return 0
	}
	return i - 1
}

func (p Polyline) Predict(key common.KeyType) float64 {
	return p[p.Segment(key)].Predict(key)
}

func (p Polyline) SizeInBytes() int { return len(p) * 20 }
