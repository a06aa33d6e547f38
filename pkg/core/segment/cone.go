package segment

import "math"

// cone is the closed interval of slopes through the segment anchor that keep
// every absorbed point within epsilon of its rank.
type cone struct {
	lo, hi float64
}

func openCone() cone { return cone{lo: math.Inf(-1), hi: math.Inf(1)} }

func (c cone) empty() bool { return c.lo > c.hi }

func (c cone) contains(s float64) bool { return s >= c.lo && s <= c.hi }

// narrow intersects c with the slopes that place the point (dx, dy), taken
// relative to the anchor, within eps. dx must be positive.
func (c cone) narrow(dx, dy, eps float64) cone {
	return cone{
		lo: math.Max(c.lo, (dy-eps)/dx),
		hi: math.Min(c.hi, (dy+eps)/dx),
	}
}

func (c cone) mid() float64 {
	switch {
	case math.IsInf(c.lo, -1) && math.IsInf(c.hi, 1):
		return 0
	case math.IsInf(c.lo, -1):
		return c.hi
	case math.IsInf(c.hi, 1):
		return c.lo
	}
	return c.lo + (c.hi-c.lo)/2
}

func (c cone) clamp(s float64) float64 {
	return math.Min(math.Max(s, c.lo), c.hi)
}
