// Package datagen produces sorted random key sets for experiments and tests.
package datagen

import (
	"fmt"
	"math/rand"
	"slices"

	"plaindex/pkg/common"
)

// Defaults of the small demo dataset.
const (
	DefaultCount  = 30
	DefaultMaxKey = 50
)

// Generate draws n keys uniformly from [0, maxKey] and sorts them.
// Duplicates are kept. The same seed always yields the same keys.
func Generate(n int, maxKey uint32, seed int64) ([]common.KeyType, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: key count must be positive, got %d", common.ErrInvalidInput, n)
	}
	rng := rand.New(rand.NewSource(seed))
	keys := make([]common.KeyType, n)
	for i := range keys {
		keys[i] = common.KeyType(rng.Int63n(int64(maxKey) + 1))
	}
	slices.Sort(keys)
	return keys, nil
}

// Clustered draws n keys around `clusters` random centres with the given
// spread, which gives the segmenter kinks to find. Keys are sorted and
// clipped to the u32 domain.
func Clustered(n, clusters int, spread float64, seed int64) ([]common.KeyType, error) {
	if n <= 0 || clusters <= 0 {
		return nil, fmt.Errorf("%w: need positive key and cluster counts", common.ErrInvalidInput)
	}
	rng := rand.New(rand.NewSource(seed))
	centres := make([]float64, clusters)
	for i := range centres {
		centres[i] = float64(rng.Uint32())
	}
	keys := make([]common.KeyType, n)
	for i := range keys {
		v := centres[rng.Intn(clusters)] + rng.NormFloat64()*spread
		switch {
		case v < 0:
			v = 0
		case v > float64(^uint32(0)):
			v = float64(^uint32(0))
		}
		keys[i] = common.KeyType(v)
	}
	slices.Sort(keys)
	return keys, nil
}
