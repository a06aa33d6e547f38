// Package pla is a piecewise-linear approximate index over a sorted dataset
// of 32-bit keys. An Index predicts the rank of a key to within epsilon
// positions and resolves it exactly with a bounded binary search.
package pla

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"plaindex/pkg/common"
	"plaindex/pkg/core/segment"
	"plaindex/pkg/core/structure"
	"plaindex/pkg/dataset"
	"plaindex/pkg/model"
)

// Index is immutable once built and safe for concurrent queries.
type Index struct {
	ds     *dataset.Dataset
	bps    model.Polyline
	eps    uint32
	filter structure.Filter
}

// Build segments ds with error bound epsilon.
func Build(ds *dataset.Dataset, epsilon uint32, opts ...Option) (*Index, error) {
	return BuildContext(context.Background(), ds, epsilon, opts...)
}

// BuildContext is Build with cancellation of partitioned builds.
func BuildContext(ctx context.Context, ds *dataset.Dataset, epsilon uint32, opts ...Option) (*Index, error) {
	s := newSettings(opts)
	if ds == nil {
		return nil, fmt.Errorf("%w: nil dataset", common.ErrInvalidInput)
	}
	if ds.Closed() {
		return nil, fmt.Errorf("%w: dataset is closed", common.ErrInvalidInput)
	}

	start := time.Now()
	bps, err := segment.BuildParallel(ctx, ds.Keys(), epsilon, s.segment...)
	s.logger.LogBuild(ctx, ds.Len(), epsilon, len(bps), time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return &Index{ds: ds, bps: bps, eps: epsilon, filter: s.filter}, nil
}

// FromBreakpoints rebuilds an index from a persisted breakpoint sequence.
// Every breakpoint must name a dataset key at its first-occurrence rank and
// the first one must be the dataset minimum. The error bound itself is not
// rechecked here; see Verify.
func FromBreakpoints(bps []common.Breakpoint, ds *dataset.Dataset, epsilon uint32, opts ...Option) (*Index, error) {
	s := newSettings(opts)
	if ds == nil {
		return nil, fmt.Errorf("%w: nil dataset", common.ErrInvalidInput)
	}
	if err := validateBreakpoints(bps, ds); err != nil {
		return nil, err
	}
	own := make([]common.Breakpoint, len(bps))
	copy(own, bps)
	return &Index{ds: ds, bps: own, eps: epsilon, filter: s.filter}, nil
}

func validateBreakpoints(bps []common.Breakpoint, ds *dataset.Dataset) error {
	if len(bps) == 0 {
		return fmt.Errorf("%w: no breakpoints", common.ErrInvalidInput)
	}
	if bps[0].Key != ds.Min() {
		return fmt.Errorf("%w: first breakpoint key %d is not the dataset minimum %d",
			common.ErrInvalidInput, bps[0].Key, ds.Min())
	}
	n := uint64(ds.Len())
	for i, bp := range bps {
		if i > 0 && bp.Key <= bps[i-1].Key {
			return fmt.Errorf("%w: breakpoint %d key %d not above %d",
				common.ErrInvalidInput, i, bp.Key, bps[i-1].Key)
		}
		if bp.Rank >= n || ds.At(int(bp.Rank)) != bp.Key || (bp.Rank > 0 && ds.At(int(bp.Rank)-1) == bp.Key) {
			return fmt.Errorf("%w: breakpoint %d (key %d, rank %d) is not a first occurrence in the dataset",
				common.ErrInvalidInput, i, bp.Key, bp.Rank)
		}
		if math.IsNaN(bp.Slope) || math.IsInf(bp.Slope, 0) {
			return fmt.Errorf("%w: breakpoint %d has slope %v", common.ErrInvalidInput, i, bp.Slope)
		}
	}
	return nil
}

// Locate returns the predicted rank of key and the index of the segment
// covering it. The prediction is clamped to [0, Len()-1].
func (ix *Index) Locate(key common.KeyType) (uint64, int) {
	seg := ix.bps.Segment(key)
	p := math.Round(ix.bps[seg].Predict(key))
	last := float64(ix.ds.Len() - 1)
	switch {
	case p < 0:
		p = 0
	case p > last:
		p = last
	}
	return uint64(p), seg
}

// Outcome classifies how a rank lookup ended.
type Outcome uint8

const (
	Hit        Outcome = iota
	Miss               // window searched, key absent
	OutOfRange         // outside [Min, Max]
	Filtered           // rejected by the membership filter
)

func (o Outcome) String() string {
	switch o {
	case Hit:
		return "hit"
	case Miss:
		return "miss"
	case OutOfRange:
		return "out_of_range"
	case Filtered:
		return "filtered"
	}
	return "unknown"
}

// RankOf returns the position of the first occurrence of key. found is false
// when the key is not in the dataset.
func (ix *Index) RankOf(key common.KeyType) (rank uint64, found bool, err error) {
	rank, outcome, err := ix.Lookup(key)
	return rank, outcome == Hit, err
}

// Lookup is RankOf that also says which step settled the answer. The filter
// is consulted at most once.
func (ix *Index) Lookup(key common.KeyType) (uint64, Outcome, error) {
	if ix.ds.Closed() {
		return 0, Miss, fmt.Errorf("%w: dataset closed", common.ErrStaleIndex)
	}
	if key < ix.ds.Min() || key > ix.ds.Max() {
		return 0, OutOfRange, nil
	}
	if ix.filter != nil && !ix.filter.Contains(key) {
		return 0, Filtered, nil
	}
	pred, seg := ix.Locate(key)
	if err := ix.checkSegment(seg); err != nil {
		return 0, Miss, err
	}
	i := ix.lowerBound(key, pred)
	if i < ix.ds.Len() && ix.ds.At(i) == key {
		return uint64(i), Hit, nil
	}
	return 0, Miss, nil
}

// Range returns the half-open position range [from, to) of keys in
// [lo, hi].
func (ix *Index) Range(lo, hi common.KeyType) (from, to uint64, err error) {
	if ix.ds.Closed() {
		return 0, 0, fmt.Errorf("%w: dataset closed", common.ErrStaleIndex)
	}
	if lo > hi {
		return 0, 0, nil
	}
	pred, seg := ix.Locate(lo)
	if err := ix.checkSegment(seg); err != nil {
		return 0, 0, err
	}
	f := ix.lowerBound(lo, pred)
	t := ix.ds.Len()
	if hi < math.MaxUint32 {
		pred, _ = ix.Locate(hi + 1)
		t = ix.lowerBound(hi+1, pred)
	}
	return uint64(f), uint64(t), nil
}

// checkSegment detects a dataset that no longer matches the breakpoints.
func (ix *Index) checkSegment(seg int) error {
	bp := ix.bps[seg]
	if bp.Rank >= uint64(ix.ds.Len()) || ix.ds.At(int(bp.Rank)) != bp.Key {
		return fmt.Errorf("%w: segment %d expects key %d at rank %d", common.ErrStaleIndex, seg, bp.Key, bp.Rank)
	}
	return nil
}

// lowerBound finds the first position holding a key >= key, searching the
// epsilon window around pred. Keys absent from the dataset can fall outside
// that window; the search then continues on the side it escaped to.
func (ix *Index) lowerBound(key common.KeyType, pred uint64) int {
	keys := ix.ds.Keys()
	n := len(keys)
	lo := int(pred) - int(ix.eps)
	if lo < 0 {
		lo = 0
	}
	hi := int(pred) + int(ix.eps)
	if hi > n-1 {
		hi = n - 1
	}

	if lo > 0 && keys[lo-1] >= key {
		return sort.Search(lo, func(i int) bool { return keys[i] >= key })
	}
	if hi < n-1 && keys[hi] < key {
		return hi + 1 + sort.Search(n-hi-1, func(i int) bool { return keys[hi+1+i] >= key })
	}
	return lo + sort.Search(hi-lo+1, func(i int) bool { return keys[lo+i] >= key })
}

// Breakpoints returns a copy of the segment starts.
func (ix *Index) Breakpoints() []common.Breakpoint {
	out := make([]common.Breakpoint, len(ix.bps))
	copy(out, ix.bps)
	return out
}

func (ix *Index) Segments() int { return len(ix.bps) }

func (ix *Index) Epsilon() uint32 { return ix.eps }

func (ix *Index) Len() int { return ix.ds.Len() }

func (ix *Index) Dataset() *dataset.Dataset { return ix.ds }

// Connected reports whether the breakpoints can be stored without slopes.
func (ix *Index) Connected() bool { return common.IsConnected(ix.bps) }

// Filter returns the attached membership filter, or nil.
func (ix *Index) Filter() structure.Filter { return ix.filter }

// SizeInBytes is the in-memory footprint of the model, excluding the
// dataset and any filter.
func (ix *Index) SizeInBytes() int { return ix.bps.SizeInBytes() }
