package canopy

import (
	"math"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
)

// bruteForceLimit is the input size up to which overlap candidates are found
// by testing all pairs instead of building a quadtree.
const bruteForceLimit = 64

// boxEntry is a bounding box stored in the quadtree by its center.
type boxEntry struct {
	idx    int
	center orb.Point
}

func (e boxEntry) Point() orb.Point {
	return e.center
}

// boxBucket holds boxes of one size class. A query against the bucket is
// grown by the bucket's largest half-extent so every intersecting box has
// its center inside the grown query.
type boxBucket struct {
	class    int
	tree     *quadtree.Quadtree
	size     int
	maxHalfW float64
	maxHalfH float64
}

// boxIndex answers "which boxes intersect box i" queries. Boxes are keyed
// by their centers in one quadtree per power-of-two size class, so a few
// oversized boxes only widen queries against their own class.
type boxIndex struct {
	bounds  []orb.Bound
	buckets []*boxBucket
}

// sizeClass returns the binary exponent of a box's larger half-extent.
func sizeClass(b orb.Bound) int {
	half := max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1]) / 2
	_, exp := math.Frexp(half)
	return exp
}

func newBoxIndex(bounds []orb.Bound) *boxIndex {
	idx := &boxIndex{bounds: bounds}
	if len(bounds) <= bruteForceLimit {
		return idx
	}

	extent := bounds[0]
	for _, b := range bounds[1:] {
		extent = extent.Union(b)
	}

	byClass := make(map[int]*boxBucket)
	for i, b := range bounds {
		class := sizeClass(b)
		bucket, ok := byClass[class]
		if !ok {
			bucket = &boxBucket{class: class, tree: quadtree.New(extent)}
			byClass[class] = bucket
			idx.buckets = append(idx.buckets, bucket)
		}
		bucket.size++
		bucket.maxHalfW = max(bucket.maxHalfW, (b.Max[0]-b.Min[0])/2)
		bucket.maxHalfH = max(bucket.maxHalfH, (b.Max[1]-b.Min[1])/2)
		// Centers lie inside the union extent, so Add cannot fail.
		_ = bucket.tree.Add(boxEntry{idx: i, center: b.Center()})
	}
	sort.Slice(idx.buckets, func(a, b int) bool { return idx.buckets[a].class < idx.buckets[b].class })
	return idx
}

// query returns the bound searched in bucket for box b.
func (bucket *boxBucket) query(b orb.Bound) orb.Bound {
	return orb.Bound{
		Min: orb.Point{b.Min[0] - bucket.maxHalfW, b.Min[1] - bucket.maxHalfH},
		Max: orb.Point{b.Max[0] + bucket.maxHalfW, b.Max[1] + bucket.maxHalfH},
	}
}

// candidates returns, in ascending order, the indices j != i whose boxes
// intersect box i.
func (x *boxIndex) candidates(i int) []int {
	b := x.bounds[i]
	var out []int

	if len(x.buckets) == 0 {
		for j, o := range x.bounds {
			if j != i && b.Intersects(o) {
				out = append(out, j)
			}
		}
		return out
	}

	for _, bucket := range x.buckets {
		for _, p := range bucket.tree.InBound(nil, bucket.query(b)) {
			j := p.(boxEntry).idx
			if j != i && b.Intersects(x.bounds[j]) {
				out = append(out, j)
			}
		}
	}
	sort.Ints(out)
	return out
}
