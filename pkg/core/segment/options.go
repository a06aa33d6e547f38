package segment

import (
	"fmt"
	"runtime"
	"strings"

	"plaindex/pkg/common"
)

// SlopePolicy decides how a closed segment's slope is picked from the
// feasible cone.
type SlopePolicy int

const (
	// PolicyConnected chains segments vertex to vertex; slopes are secants
	// between consecutive breakpoints.
	PolicyConnected SlopePolicy = iota
	// PolicyMidpoint takes the middle of the last feasible cone.
	PolicyMidpoint
	// PolicyLeastSquares takes the anchored least-squares slope clamped into
	// the last feasible cone.
	PolicyLeastSquares
)

func (p SlopePolicy) String() string {
	switch p {
	case PolicyConnected:
		return "connected"
	case PolicyMidpoint:
		return "midpoint"
	case PolicyLeastSquares:
		return "least_squares"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy accepts the names produced by String.
func ParsePolicy(s string) (SlopePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "connected":
		return PolicyConnected, nil
	case "midpoint":
		return PolicyMidpoint, nil
	case "least_squares", "leastsquares", "lsq":
		return PolicyLeastSquares, nil
	}
	return 0, fmt.Errorf("%w: unknown slope policy %q", common.ErrInvalidInput, s)
}

// Options configures a build.
type Options struct {
	Policy SlopePolicy

	// PrefixBits splits the key space by the top bits of each key, one
	// partition per prefix value. Takes precedence over Partitions.
	PrefixBits uint
	// Partitions splits the dataset into roughly equal-count chunks.
	Partitions int
	// Workers bounds concurrent partitions. Defaults to GOMAXPROCS.
	Workers int
}

type Option func(*Options)

func WithPolicy(p SlopePolicy) Option { return func(o *Options) { o.Policy = p } }

// MaxPrefixBits bounds prefix partitioning at 65536 partitions.
const MaxPrefixBits = 16

func WithPrefixBits(bits uint) Option { return func(o *Options) { o.PrefixBits = bits } }

func WithPartitions(n int) Option { return func(o *Options) { o.Partitions = n } }

func WithWorkers(n int) Option { return func(o *Options) { o.Workers = n } }

// ResolveOptions applies opts over the defaults and validates the result.
func ResolveOptions(opts ...Option) (Options, error) {
	o := Options{Workers: runtime.GOMAXPROCS(0)}
	for _, fn := range opts {
		fn(&o)
	}
	if o.Policy < PolicyConnected || o.Policy > PolicyLeastSquares {
		return o, fmt.Errorf("%w: unknown slope policy %d", common.ErrInvalidInput, int(o.Policy))
	}
	if o.PrefixBits > MaxPrefixBits {
		return o, fmt.Errorf("%w: prefix bits %d out of range [0, %d]", common.ErrInvalidInput, o.PrefixBits, MaxPrefixBits)
	}
	if o.Partitions < 0 {
		return o, fmt.Errorf("%w: negative partition count %d", common.ErrInvalidInput, o.Partitions)
	}
	if o.Workers <= 0 {
		o.Workers = 1
	}
	return o, nil
}
