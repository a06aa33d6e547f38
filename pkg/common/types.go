package common

import "fmt"

// KeyType is the key domain of an index: unsigned 32-bit.
type KeyType uint32

// Breakpoint starts a linear segment. Rank is the position of the first
// occurrence of Key in the dataset; Slope is rank per key unit up to the
// next breakpoint.
type Breakpoint struct {
	Key   KeyType
	Rank  uint64
	Slope float64
}

// Predict evaluates the segment line at key without rounding.
func (b Breakpoint) Predict(key KeyType) float64 {
	return float64(b.Rank) + b.Slope*(float64(key)-float64(b.Key))
}

func (b Breakpoint) String() string {
	return fmt.Sprintf("Breakpoint{Key: %d, Rank: %d, Slope: %g}", b.Key, b.Rank, b.Slope)
}

// Secant returns the slope of the line through two breakpoints.
// Callers guarantee b.Key > a.Key.
func Secant(a, b Breakpoint) float64 {
	return float64(b.Rank-a.Rank) / float64(b.Key-a.Key)
}

// Connect recomputes every slope as the secant to the following breakpoint.
// The last breakpoint gets slope 0.
func Connect(bps []Breakpoint) {
	for i := range bps {
		if i+1 < len(bps) {
			bps[i].Slope = Secant(bps[i], bps[i+1])
		} else {
			bps[i].Slope = 0
		}
	}
}

// IsConnected reports whether every slope equals the secant to its successor,
// i.e. the sequence survives a key/rank-only encoding unchanged.
func IsConnected(bps []Breakpoint) bool {
	for i := range bps {
		want := 0.0
		if i+1 < len(bps) {
			want = Secant(bps[i], bps[i+1])
		}
		if bps[i].Slope != want {
			return false
		}
	}
	return true
}
