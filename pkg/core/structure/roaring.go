package structure

import (
	"github.com/RoaringBitmap/roaring/v2"

	"plaindex/pkg/common"
)

// RoaringFilter is an exact key set backed by a compressed bitmap.
type RoaringFilter struct {
	bm *roaring.Bitmap
}

func NewRoaringFilter() *RoaringFilter {
	return &RoaringFilter{bm: roaring.New()}
}

func (rf *RoaringFilter) Add(key common.KeyType) { rf.bm.Add(uint32(key)) }

func (rf *RoaringFilter) Contains(key common.KeyType) bool { return rf.bm.Contains(uint32(key)) }

// Optimize converts containers to run encoding where smaller. Call once
// after the last Add.
func (rf *RoaringFilter) Optimize() { rf.bm.RunOptimize() }

func (rf *RoaringFilter) Stats() map[string]interface{} {
	return map[string]interface{}{
		"filter":              "roaring",
		"roaring_cardinality": rf.bm.GetCardinality(),
		"roaring_bytes":       rf.bm.GetSizeInBytes(),
	}
}
