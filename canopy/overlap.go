package canopy

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// OverlapRatio returns the area of a ∩ b divided by the area of the smaller
// ring. Disjoint rings give 0, a ring fully inside the other gives 1.
func OverlapRatio(a, b Ring) float64 {
	smaller := math.Min(a.Area(), b.Area())
	if smaller == 0 {
		return 0
	}
	if !a.Bound().Intersects(b.Bound()) {
		return 0
	}
	ratio := IntersectionArea(a, b) / smaller
	if ratio > 1 {
		return 1
	}
	return ratio
}

// IntersectionArea returns the exact area shared by two simple rings.
//
// The boundary of a ∩ b is made of the pieces of a's boundary lying inside
// b plus the pieces of b's boundary lying inside a, so the area follows
// from the shoelace sum over those pieces. Boundary pieces shared by both
// rings with the same direction are counted once.
func IntersectionArea(a, b Ring) float64 {
	if len(a) < 3 || len(b) < 3 {
		return 0
	}
	if !a.Bound().Intersects(b.Bound()) {
		return 0
	}

	// Work relative to a local origin to keep precision with projected
	// coordinates in the hundreds of thousands.
	origin := a[0]
	la := shiftRing(a, origin)
	lb := shiftRing(b, origin)
	eps := boundaryEpsilon(la, lb)

	sum := boundaryInside(la, lb, eps, true) + boundaryInside(lb, la, eps, false)
	area := sum / 2
	if area < 0 {
		return 0
	}
	return math.Min(area, math.Min(a.Area(), b.Area()))
}

func shiftRing(r Ring, o Point) []Point {
	out := make([]Point, len(r))
	for i, p := range r {
		out[i] = Point{X: p.X - o.X, Y: p.Y - o.Y}
	}
	return out
}

func boundaryEpsilon(a, b []Point) float64 {
	var span float64
	for _, r := range [][]Point{a, b} {
		for _, p := range r {
			span = math.Max(span, math.Max(math.Abs(p.X), math.Abs(p.Y)))
		}
	}
	return math.Max(span, 1) * 1e-9
}

// boundaryInside sums the shoelace terms of the sub-segments of subject's
// edges that lie inside clip. Sub-segments on clip's boundary are included
// only when includeShared is set and both edges run the same way.
func boundaryInside(subject, clip []Point, eps float64, includeShared bool) float64 {
	clipRing := make(orb.Ring, 0, len(clip)+1)
	for _, p := range clip {
		clipRing = append(clipRing, orb.Point{p.X, p.Y})
	}
	clipRing = append(clipRing, clipRing[0])

	var sum float64
	n := len(subject)
	m := len(clip)
	for i := 0; i < n; i++ {
		p, q := subject[i], subject[(i+1)%n]
		ts := []float64{0, 1}
		for j := 0; j < m; j++ {
			r, s := clip[j], clip[(j+1)%m]
			ts = append(ts, segmentParams(p, q, r, s)...)
		}
		sort.Float64s(ts)

		for k := 0; k+1 < len(ts); k++ {
			t0, t1 := ts[k], ts[k+1]
			if t1-t0 <= 1e-12 {
				continue
			}
			p0 := lerp(p, q, t0)
			p1 := lerp(p, q, t1)
			mid := lerp(p, q, (t0+t1)/2)

			if edge, ok := onBoundary(mid, clip, eps); ok {
				if !includeShared {
					continue
				}
				r, s := clip[edge], clip[(edge+1)%m]
				if (q.X-p.X)*(s.X-r.X)+(q.Y-p.Y)*(s.Y-r.Y) <= 0 {
					continue
				}
			} else if !planar.RingContains(clipRing, orb.Point{mid.X, mid.Y}) {
				continue
			}
			sum += p0.X*p1.Y - p1.X*p0.Y
		}
	}
	return sum
}

// segmentParams returns the parameters along pq where segment rs touches
// it, including the endpoints of a collinear overlap.
func segmentParams(p, q, r, s Point) []float64 {
	dx, dy := q.X-p.X, q.Y-p.Y
	ex, ey := s.X-r.X, s.Y-r.Y
	denom := dx*ey - dy*ex
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return nil
	}

	if denom == 0 {
		// Parallel: only collinear overlaps contribute split points.
		if cross(p, q, r) != 0 {
			return nil
		}
		var out []float64
		for _, v := range []Point{r, s} {
			t := ((v.X-p.X)*dx + (v.Y-p.Y)*dy) / lenSq
			if t > 0 && t < 1 {
				out = append(out, t)
			}
		}
		return out
	}

	t := ((r.X-p.X)*ey - (r.Y-p.Y)*ex) / denom
	u := ((r.X-p.X)*dy - (r.Y-p.Y)*dx) / denom
	if t <= 0 || t >= 1 || u < 0 || u > 1 {
		return nil
	}
	return []float64{t}
}

func lerp(p, q Point, t float64) Point {
	return Point{X: p.X + (q.X-p.X)*t, Y: p.Y + (q.Y-p.Y)*t}
}

// onBoundary returns the index of the ring edge within eps of p.
func onBoundary(p Point, ring []Point, eps float64) (int, bool) {
	n := len(ring)
	for i := 0; i < n; i++ {
		if pointSegmentDistance(p, ring[i], ring[(i+1)%n]) <= eps {
			return i, true
		}
	}
	return 0, false
}

func pointSegmentDistance(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}
