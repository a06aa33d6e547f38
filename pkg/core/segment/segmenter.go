// Package segment builds the breakpoint sequence of a piecewise-linear
// approximate index: a greedy single pass that keeps every key's predicted
// rank within epsilon of its true rank.
package segment

import (
	"context"
	"fmt"

	"plaindex/pkg/common"
	"plaindex/pkg/dataset"
	"plaindex/pkg/model"
)

type point struct {
	key  common.KeyType
	rank uint64
}

// Segmenter consumes distinct keys in ascending order, each with the rank of
// its first occurrence, and emits breakpoints. A segment is extended as long
// as its feasible cone admits a slope; it is split only when no slope does.
type Segmenter struct {
	eps    float64
	policy SlopePolicy
	out    []common.Breakpoint

	started  bool
	prev     common.KeyType
	anchor   point
	cone     cone
	absorbed int

	// connected policy: the furthest point whose secant from the anchor was
	// inside the cone when it arrived.
	last point

	fit *model.LinearModel
}

func NewSegmenter(epsilon uint32, policy SlopePolicy) *Segmenter {
	return &Segmenter{
		eps:    float64(epsilon),
		policy: policy,
		fit:    model.NewLinearModel(0, 0),
	}
}

// Add absorbs the next distinct key. Keys must be strictly increasing.
func (s *Segmenter) Add(key common.KeyType, rank uint64) error {
	if s.started && key <= s.prev {
		return fmt.Errorf("%w: key %d after %d", common.ErrInvalidInput, key, s.prev)
	}
	s.prev = key
	p := point{key: key, rank: rank}
	if !s.started {
		s.start(p)
		return nil
	}
	if s.policy == PolicyConnected {
		s.addConnected(p)
	} else {
		s.addCone(p)
	}
	return nil
}

func (s *Segmenter) start(p point) {
	s.started = true
	s.anchor = p
	s.cone = openCone()
	s.absorbed = 0
	s.fit.Reset(p.key, p.rank)
}

func (s *Segmenter) delta(p point) (dx, dy float64) {
	return float64(p.key - s.anchor.key), float64(p.rank) - float64(s.anchor.rank)
}

func (s *Segmenter) addConnected(p point) {
	dx, dy := s.delta(p)
	if !s.cone.contains(dy / dx) {
		// p cannot end this segment; close it at the last valid endpoint
		// and restart from there, where p trivially fits.
		s.emit(s.anchor, secant(s.anchor, s.last))
		s.start(s.last)
		dx, dy = s.delta(p)
	}
	s.cone = s.cone.narrow(dx, dy, s.eps)
	s.last = p
	s.absorbed++
}

func (s *Segmenter) addCone(p point) {
	dx, dy := s.delta(p)
	next := s.cone.narrow(dx, dy, s.eps)
	if next.empty() {
		s.emit(s.anchor, s.slope())
		s.start(p)
		return
	}
	s.cone = next
	s.fit.Update(p.key, p.rank)
	s.absorbed++
}

func (s *Segmenter) slope() float64 {
	if s.absorbed == 0 {
		return 0
	}
	if s.policy == PolicyLeastSquares {
		return s.cone.clamp(s.fit.Slope)
	}
	return s.cone.mid()
}

func (s *Segmenter) emit(p point, slope float64) {
	s.out = append(s.out, common.Breakpoint{Key: p.key, Rank: p.rank, Slope: slope})
}

// Finish closes the open segment and returns all breakpoints. The
// Segmenter must not be used afterwards.
func (s *Segmenter) Finish() []common.Breakpoint {
	if !s.started {
		return s.out
	}
	switch {
	case s.absorbed == 0:
		s.emit(s.anchor, 0)
	case s.policy == PolicyConnected:
		s.emit(s.anchor, secant(s.anchor, s.last))
		s.emit(s.last, 0)
	default:
		s.emit(s.anchor, s.slope())
	}
	s.started = false
	return s.out
}

func secant(a, b point) float64 {
	return common.Secant(common.Breakpoint{Key: a.key, Rank: a.rank}, common.Breakpoint{Key: b.key, Rank: b.rank})
}

// Build segments a sorted key sequence with error bound epsilon.
// Partitioning options are ignored; see BuildParallel.
func Build(keys []common.KeyType, epsilon uint32, opts ...Option) ([]common.Breakpoint, error) {
	o, err := ResolveOptions(opts...)
	if err != nil {
		return nil, err
	}
	if err := dataset.Validate(keys); err != nil {
		return nil, err
	}
	return segmentRange(context.Background(), keys, 0, epsilon, o.Policy)
}

// cancelCheck is how many keys are consumed between context checks.
const cancelCheck = 1 << 16

// segmentRange segments keys whose first element sits at global position
// base. keys must start at the first occurrence of its first key.
func segmentRange(ctx context.Context, keys []common.KeyType, base uint64, epsilon uint32, policy SlopePolicy) ([]common.Breakpoint, error) {
	s := NewSegmenter(epsilon, policy)
	for i, k := range keys {
		if i%cancelCheck == cancelCheck-1 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if i > 0 && k == keys[i-1] {
			continue
		}
		if err := s.Add(k, base+uint64(i)); err != nil {
			return nil, err
		}
	}
	return s.Finish(), nil
}
