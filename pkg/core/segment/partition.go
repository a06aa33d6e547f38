package segment

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"plaindex/pkg/common"
	"plaindex/pkg/dataset"
)

// span is a half-open range of dataset positions. lo is always the first
// occurrence of keys[lo].
type span struct {
	lo, hi int
}

// BuildParallel segments disjoint key ranges concurrently and concatenates
// the results with ranks rebased to global positions. Without PrefixBits or
// Partitions it is equivalent to Build.
//
// Every partition boundary starts a new segment, so the output can hold a
// few more breakpoints than a sequential build; the error bound is the same.
func BuildParallel(ctx context.Context, keys []common.KeyType, epsilon uint32, opts ...Option) ([]common.Breakpoint, error) {
	o, err := ResolveOptions(opts...)
	if err != nil {
		return nil, err
	}
	if err := dataset.Validate(keys); err != nil {
		return nil, err
	}

	spans := split(keys, o)
	if len(spans) == 1 {
		return segmentRange(ctx, keys, 0, epsilon, o.Policy)
	}

	parts := make([][]common.Breakpoint, len(spans))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Workers)
	for i, sp := range spans {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			bps, err := segmentRange(gctx, keys[sp.lo:sp.hi], uint64(sp.lo), epsilon, o.Policy)
			if err != nil {
				return err
			}
			parts[i] = bps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return join(parts, o.Policy), nil
}

// join concatenates partition outputs. Under the connected policy each
// partition's closing vertex is re-sloped towards the next partition's first
// breakpoint; no dataset key lies strictly between the two, so the bound
// holds for any slope there.
func join(parts [][]common.Breakpoint, policy SlopePolicy) []common.Breakpoint {
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	out := make([]common.Breakpoint, 0, total)
	for _, p := range parts {
		if policy == PolicyConnected && len(out) > 0 && len(p) > 0 {
			last := &out[len(out)-1]
			last.Slope = common.Secant(*last, p[0])
		}
		out = append(out, p...)
	}
	return out
}

func split(keys []common.KeyType, o Options) []span {
	switch {
	case o.PrefixBits > 0:
		return splitByPrefix(keys, o.PrefixBits)
	case o.Partitions > 1:
		return splitByCount(keys, o.Partitions)
	}
	return []span{{0, len(keys)}}
}

// splitByPrefix groups keys by their top bits. Empty prefixes produce no span.
func splitByPrefix(keys []common.KeyType, bits uint) []span {
	shift := 32 - bits
	var spans []span
	lo := 0
	for lo < len(keys) {
		prefix := uint32(keys[lo]) >> shift
		hi := lo + sort.Search(len(keys)-lo, func(i int) bool {
			return uint32(keys[lo+i])>>shift > prefix
		})
		spans = append(spans, span{lo, hi})
		lo = hi
	}
	return spans
}

// splitByCount cuts keys into about n equal chunks, moving each cut back to
// the first occurrence of the key it lands on so no run of duplicates is
// split.
func splitByCount(keys []common.KeyType, n int) []span {
	if n > len(keys) {
		n = len(keys)
	}
	size := len(keys) / n
	var spans []span
	lo := 0
	for c := 1; c < n; c++ {
		cut := c * size
		k := keys[cut]
		cut = sort.Search(cut, func(i int) bool { return keys[i] >= k })
		if cut <= lo {
			continue
		}
		spans = append(spans, span{lo, cut})
		lo = cut
	}
	return append(spans, span{lo, len(keys)})
}
