package model

import (
	"plaindex/pkg/common"
)

// LinearModel is a least-squares line pinned to an anchor point, so that
// Predict(anchor) is exactly the anchor rank. Points are added one at a time.
type LinearModel struct {
	Slope float64

	anchorKey  float64
	anchorRank float64
	n          float64
	sumXY      float64
	sumXX      float64
}

func NewLinearModel(anchor common.KeyType, rank uint64) *LinearModel {
	lm := &LinearModel{}
	lm.Reset(anchor, rank)
	return lm
}

// Reset drops all points and moves the anchor.
func (lm *LinearModel) Reset(anchor common.KeyType, rank uint64) {
	lm.anchorKey = float64(anchor)
	lm.anchorRank = float64(rank)
	lm.n, lm.sumXY, lm.sumXX, lm.Slope = 0, 0, 0, 0
}

func (lm *LinearModel) Update(key common.KeyType, rank uint64) {
	x := float64(key) - lm.anchorKey
	y := float64(rank) - lm.anchorRank

	lm.n += 1
	lm.sumXY += x * y
	lm.sumXX += x * x

	lm.solve()
}

func (lm *LinearModel) solve() {
	if lm.sumXX == 0 {
		lm.Slope = 0
		return
	}
	lm.Slope = lm.sumXY / lm.sumXX
}

// Count returns the number of points added since the last Reset.
func (lm *LinearModel) Count() int { return int(lm.n) }

func (lm *LinearModel) Predict(key common.KeyType) float64 {
	return lm.anchorRank + lm.Slope*(float64(key)-lm.anchorKey)
}

func (lm *LinearModel) SizeInBytes() int { return 8 * 6 }
