package model

import "plaindex/pkg/common"

// Model maps a key to a fractional rank estimate.
type Model interface {
	Predict(key common.KeyType) float64
	SizeInBytes() int
}
