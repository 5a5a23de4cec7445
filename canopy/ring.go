package canopy

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// Ring is a simple polygon ring: at least 3 distinct vertices, non-zero
// area, no crossing edges, counter-clockwise, stored open (the closing
// vertex is implied). Build one with NewRing to get these guarantees.
type Ring []Point

// NewRing validates points as a simple polygon ring. A repeated closing
// vertex and consecutive duplicates are dropped and clockwise input is
// reversed, keeping the first vertex in place.
func NewRing(points []Point) (Ring, error) {
	pts := make([]Point, 0, len(points))
	for _, p := range points {
		if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
			return nil, fmt.Errorf("%w: non-finite vertex", ErrDegenerateGeometry)
		}
		if len(pts) > 0 && pts[len(pts)-1] == p {
			continue
		}
		pts = append(pts, p)
	}
	for len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		pts = pts[:len(pts)-1]
	}

	if distinctCount(pts) < 3 {
		return nil, fmt.Errorf("%w: %d distinct vertices", ErrDegenerateGeometry, distinctCount(pts))
	}

	area := signedArea(pts)
	if area == 0 || math.Abs(area) <= areaEpsilon(pts) {
		return nil, fmt.Errorf("%w: zero area", ErrDegenerateGeometry)
	}

	if !isSimple(pts) {
		return nil, ErrSelfIntersecting
	}

	if area < 0 {
		for i, j := 1, len(pts)-1; i < j; i, j = i+1, j-1 {
			pts[i], pts[j] = pts[j], pts[i]
		}
	}

	return Ring(pts), nil
}

// MustRing is NewRing for literals known to be valid; it panics otherwise.
func MustRing(points ...Point) Ring {
	r, err := NewRing(points)
	if err != nil {
		panic(err)
	}
	return r
}

// Area returns the (positive) planar area of the ring.
func (r Ring) Area() float64 {
	return math.Abs(signedArea(r))
}

// Bound returns the axis-aligned bounding box of the ring.
func (r Ring) Bound() orb.Bound {
	return r.Orb().Bound()
}

// Orb returns the ring as a closed orb.Ring.
func (r Ring) Orb() orb.Ring {
	out := make(orb.Ring, 0, len(r)+1)
	for _, p := range r {
		out = append(out, orb.Point{p.X, p.Y})
	}
	if len(r) > 0 {
		out = append(out, orb.Point{r[0].X, r[0].Y})
	}
	return out
}

// Polygon returns the ring as a single-ring orb.Polygon.
func (r Ring) Polygon() orb.Polygon {
	return orb.Polygon{r.Orb()}
}

// Centroid returns the area-weighted centroid of the ring.
func (r Ring) Centroid() Point {
	c, _ := planar.CentroidArea(r.Polygon())
	return Point{X: c[0], Y: c[1]}
}

// Equal reports whether two rings have identical vertices in the same order.
func (r Ring) Equal(o Ring) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if r[i] != o[i] {
			return false
		}
	}
	return true
}

// RingFromOrb converts a (closed or open) orb.Ring into a validated Ring.
func RingFromOrb(or orb.Ring) (Ring, error) {
	pts := make([]Point, len(or))
	for i, p := range or {
		pts[i] = Point{X: p[0], Y: p[1]}
	}
	return NewRing(pts)
}

func signedArea(pts []Point) float64 {
	if len(pts) < 3 {
		return 0
	}
	// Shift to the first vertex to keep precision with large map coordinates.
	o := pts[0]
	var sum float64
	for i := range pts {
		a := pts[i]
		b := pts[(i+1)%len(pts)]
		sum += (a.X-o.X)*(b.Y-o.Y) - (b.X-o.X)*(a.Y-o.Y)
	}
	return sum / 2
}

func distinctCount(pts []Point) int {
	seen := make(map[Point]struct{}, len(pts))
	for _, p := range pts {
		seen[p] = struct{}{}
	}
	return len(seen)
}

// areaEpsilon is the area below which a ring is considered collapsed,
// scaled to the ring's extent.
func areaEpsilon(pts []Point) float64 {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range pts {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	span := math.Max(maxX-minX, maxY-minY)
	return span * span * 1e-12
}

// isSimple reports whether no two edges of the closed ring touch other than
// adjacent edges at their shared vertex.
func isSimple(pts []Point) bool {
	n := len(pts)
	for i := 0; i < n; i++ {
		a1, a2 := pts[i], pts[(i+1)%n]
		for j := i + 1; j < n; j++ {
			b1, b2 := pts[j], pts[(j+1)%n]
			adjacent := j == i+1 || (i == 0 && j == n-1)
			if adjacent {
				// Adjacent edges may only share their common vertex; a
				// collinear fold back over the previous edge is a spike.
				var shared, otherA, otherB Point
				if j == i+1 {
					shared, otherA, otherB = a2, a1, b2
				} else {
					shared, otherA, otherB = a1, a2, b1
				}
				if cross(shared, otherA, otherB) == 0 && dot(shared, otherA, otherB) > 0 {
					return false
				}
				continue
			}
			if segmentsTouch(a1, a2, b1, b2) {
				return false
			}
		}
	}
	return true
}

// cross returns the z component of (a-o) x (b-o).
func cross(o, a, b Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

func dot(o, a, b Point) float64 {
	return (a.X-o.X)*(b.X-o.X) + (a.Y-o.Y)*(b.Y-o.Y)
}

func onSegment(p, a, b Point) bool {
	return math.Min(a.X, b.X) <= p.X && p.X <= math.Max(a.X, b.X) &&
		math.Min(a.Y, b.Y) <= p.Y && p.Y <= math.Max(a.Y, b.Y)
}

// segmentsTouch reports whether closed segments p1p2 and q1q2 share a point.
func segmentsTouch(p1, p2, q1, q2 Point) bool {
	d1 := cross(q1, q2, p1)
	d2 := cross(q1, q2, p2)
	d3 := cross(p1, p2, q1)
	d4 := cross(p1, p2, q2)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	if d1 == 0 && onSegment(p1, q1, q2) {
		return true
	}
	if d2 == 0 && onSegment(p2, q1, q2) {
		return true
	}
	if d3 == 0 && onSegment(q1, p1, p2) {
		return true
	}
	if d4 == 0 && onSegment(q2, p1, p2) {
		return true
	}
	return false
}
