package model

import (
	"fmt"
	"math"
	"sort"

	"plaindex/pkg/common"
)

// DefaultFanout is the number of second-stage models.
const DefaultFanout = 1000

// RMI is a two-stage recursive model.
// Stage 1: a radix over [min, max] picks the bucket.
// Stage 2: the bucket's line predicts the rank.
//
// It is trained on distinct keys and their first-occurrence ranks. The worst
// under- and over-prediction seen in training bound the search window, so a
// present key is always found.
type RMI struct {
	globalMin common.KeyType
	globalMax common.KeyType
	buckets   []*LinearModel
	minErr    int64
	maxErr    int64
}

// NewRMI trains a model over sorted keys.
func NewRMI(keys []common.KeyType, fanout int) (*RMI, error) {
	if fanout <= 0 {
		return nil, fmt.Errorf("%w: fanout must be positive, got %d", common.ErrInvalidInput, fanout)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: no keys", common.ErrInvalidInput)
	}
	m := &RMI{
		globalMin: keys[0],
		globalMax: keys[len(keys)-1],
		buckets:   make([]*LinearModel, fanout),
	}

	for i, k := range keys {
		if i > 0 {
			if k < keys[i-1] {
				return nil, fmt.Errorf("%w: key %d at position %d follows %d", common.ErrInvalidInput, k, i, keys[i-1])
			}
			if k == keys[i-1] {
				continue
			}
		}
		b := m.bucket(k)
		if m.buckets[b] == nil {
			m.buckets[b] = NewLinearModel(k, uint64(i))
		} else {
			m.buckets[b].Update(k, uint64(i))
		}
	}
	// bucket 0 always holds the minimum; empty buckets borrow the line below
	for b := 1; b < fanout; b++ {
		if m.buckets[b] == nil {
			m.buckets[b] = m.buckets[b-1]
		}
	}

	for i, k := range keys {
		if i > 0 && k == keys[i-1] {
			continue
		}
		e := int64(i) - int64(math.Round(m.Predict(k)))
		m.minErr = min(m.minErr, e)
		m.maxErr = max(m.maxErr, e)
	}
	return m, nil
}

func (m *RMI) bucket(key common.KeyType) int {
	switch {
	case key <= m.globalMin:
		return 0
	case key >= m.globalMax:
		return len(m.buckets) - 1
	}
	span := uint64(m.globalMax-m.globalMin) + 1
	return int(uint64(key-m.globalMin) * uint64(len(m.buckets)) / span)
}

func (m *RMI) Predict(key common.KeyType) float64 {
	return m.buckets[m.bucket(key)].Predict(key)
}

// ErrorBounds returns the smallest and largest (rank - prediction) seen in
// training.
func (m *RMI) ErrorBounds() (int64, int64) { return m.minErr, m.maxErr }

func (m *RMI) Fanout() int { return len(m.buckets) }

func (m *RMI) SizeInBytes() int { return 24 + len(m.buckets)*(&LinearModel{}).SizeInBytes() }

// Search finds the first occurrence of key in keys, which must be the slice
// the model was trained on. Small windows are scanned, larger ones bisected.
func (m *RMI) Search(keys []common.KeyType, key common.KeyType) (int, bool) {
	if len(keys) == 0 || key < m.globalMin || key > m.globalMax {
		return 0, false
	}
	p := int64(math.Round(m.Predict(key)))
	n := int64(len(keys))
	lo := max(0, min(n, p+m.minErr))
	hi := max(0, min(n, p+m.maxErr+1))
	if lo >= hi {
		return 0, false
	}

	window := keys[lo:hi]
	var i int
	if len(window) < 16 {
		for i < len(window) && window[i] < key {
			i++
		}
	} else {
		i = sort.Search(len(window), func(j int) bool { return window[j] >= key })
	}
	if i < len(window) && window[i] == key {
		return int(lo) + i, true
	}
	return 0, false
}
