package canopy

import (
	"sort"

	"github.com/paulmach/orb"
)

// DefaultStitchThreshold is the overlap ratio above which two detections
// from different tiles are treated as the same crown.
const DefaultStitchThreshold = 0.5

// StitchCrowns merges per-tile crowns into one global set. Crowns whose
// overlap ratio (intersection over the smaller area) exceeds threshold are
// grouped transitively; each group keeps its best member (highest
// confidence, then largest area, then lowest source tile). Survivors get
// sequential ids starting at 1. No input yields an empty, non-nil set.
func StitchCrowns(geo []GeoCrown, threshold float64) []Crown {
	if len(geo) == 0 {
		return []Crown{}
	}

	items := make([]rankedCrown, len(geo))
	bounds := make([]orb.Bound, len(geo))
	for i, g := range geo {
		items[i] = rankedCrown{
			polygon:    g.Polygon,
			confidence: g.Confidence,
			area:       g.Polygon.Area(),
			tile:       g.SourceTileID,
		}
		bounds[i] = g.Polygon.Bound()
	}

	index := newBoxIndex(bounds)
	uf := newUnionFind(len(items))
	for i := range items {
		for _, j := range index.candidates(i) {
			if j <= i || uf.find(i) == uf.find(j) {
				continue
			}
			if OverlapRatio(items[i].polygon, items[j].polygon) > threshold {
				uf.union(i, j)
			}
		}
	}

	best := make(map[int]int)
	for i := range items {
		root := uf.find(i)
		cur, ok := best[root]
		if !ok || items[i].before(items[cur]) {
			best[root] = i
		}
	}

	winners := make([]rankedCrown, 0, len(best))
	for _, i := range best {
		winners = append(winners, items[i])
	}
	sort.Slice(winners, func(i, j int) bool {
		return winners[i].before(winners[j])
	})

	crowns := make([]Crown, len(winners))
	for i, w := range winners {
		crowns[i] = Crown{
			ID:           i + 1,
			Polygon:      w.polygon,
			Confidence:   w.confidence,
			SourceTileID: w.tile,
		}
	}
	return crowns
}

// rankedCrown carries the keys used to pick a group's surviving crown.
type rankedCrown struct {
	polygon    Ring
	confidence float64
	area       float64
	tile       int
	id         int
}

// before orders crowns best-first: confidence, area, source tile, then
// vertex coordinates so equal-ranked inputs resolve independent of order.
func (a rankedCrown) before(b rankedCrown) bool {
	if a.confidence != b.confidence {
		return a.confidence > b.confidence
	}
	if a.area != b.area {
		return a.area > b.area
	}
	if a.tile != b.tile {
		return a.tile < b.tile
	}
	if a.id != b.id {
		return a.id < b.id
	}
	return lessRing(a.polygon, b.polygon)
}

func lessRing(a, b Ring) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i].X != b[i].X {
			return a[i].X < b[i].X
		}
		if a[i].Y != b[i].Y {
			return a[i].Y < b[i].Y
		}
	}
	return len(a) < len(b)
}

// unionFind implements a disjoint-set data structure with path compression.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[ra] = rb
	}
}
