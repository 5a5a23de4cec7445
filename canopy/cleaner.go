package canopy

import (
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/simplify"
)

// DefaultDedupThreshold is the overlap ratio above which two final crowns
// are considered duplicates.
const DefaultDedupThreshold = 0.6

// DefaultSimplifyTolerance is the Douglas-Peucker tolerance, in map units.
const DefaultSimplifyTolerance = 0.3

// CleanOptions configures CleanCrowns.
type CleanOptions struct {
	// DedupThreshold is the overlap ratio above which the lower-confidence
	// crown of a pair is discarded.
	DedupThreshold float64
	// ConfidenceThreshold is the inclusive lower bound on confidence; 0
	// disables filtering.
	ConfidenceThreshold float64
	// SimplifyTolerance is the maximum boundary deviation allowed when
	// dropping vertices; 0 disables simplification.
	SimplifyTolerance float64
}

// Validate checks that ratios and confidences lie in [0, 1] and the
// tolerance is not negative.
func (o CleanOptions) Validate() error {
	if err := checkRatio("dedup threshold", o.DedupThreshold); err != nil {
		return err
	}
	if err := checkRatio("confidence threshold", o.ConfidenceThreshold); err != nil {
		return err
	}
	if o.SimplifyTolerance < 0 {
		return &ConfigError{Field: "simplify tolerance", Reason: "must be >= 0"}
	}
	return nil
}

// CleanCrowns resolves residual overlaps, filters by confidence and
// simplifies geometry, in that order. The steps repeat until nothing
// changes, so the result is a fixed point: cleaning it again with the
// same options returns it unchanged. Crown ids are preserved and the
// output is ordered by id.
func CleanCrowns(crowns []Crown, opts CleanOptions) []Crown {
	current := make([]Crown, len(crowns))
	copy(current, crowns)

	for {
		kept := resolveOverlaps(current, opts.DedupThreshold)
		kept = FilterConfidence(kept, opts.ConfidenceThreshold)
		simplified, changed := simplifyCrowns(kept, opts.SimplifyTolerance)

		stable := len(simplified) == len(current) && !changed
		current = simplified
		if stable {
			break
		}
	}

	sort.Slice(current, func(i, j int) bool {
		return current[i].ID < current[j].ID
	})
	return current
}

// resolveOverlaps keeps crowns best-first and drops any crown overlapping
// an already kept one above threshold.
func resolveOverlaps(crowns []Crown, threshold float64) []Crown {
	if len(crowns) < 2 {
		return crowns
	}

	items := make([]rankedCrown, len(crowns))
	for i, c := range crowns {
		items[i] = rankedCrown{
			polygon:    c.Polygon,
			confidence: c.Confidence,
			area:       c.Polygon.Area(),
			tile:       c.SourceTileID,
			id:         c.ID,
		}
	}
	order := make([]int, len(crowns))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return items[order[a]].before(items[order[b]])
	})

	bounds := make([]orb.Bound, len(crowns))
	for i, c := range crowns {
		bounds[i] = c.Polygon.Bound()
	}
	index := newBoxIndex(bounds)

	kept := make([]bool, len(crowns))
	var out []Crown
	for _, i := range order {
		duplicate := false
		for _, j := range index.candidates(i) {
			if kept[j] && OverlapRatio(crowns[i].Polygon, crowns[j].Polygon) > threshold {
				duplicate = true
				break
			}
		}
		if !duplicate {
			kept[i] = true
			out = append(out, crowns[i])
		}
	}
	return out
}

// FilterConfidence drops crowns below threshold; a crown exactly at the
// threshold is kept.
func FilterConfidence(crowns []Crown, threshold float64) []Crown {
	if threshold <= 0 {
		return crowns
	}
	out := crowns[:0:0]
	for _, c := range crowns {
		if c.Confidence >= threshold {
			out = append(out, c)
		}
	}
	return out
}

// simplifyCrowns replaces each polygon with its Douglas-Peucker reduction.
// A reduction that collapses or self-intersects is rejected and the
// original ring is kept.
func simplifyCrowns(crowns []Crown, tolerance float64) ([]Crown, bool) {
	if tolerance <= 0 {
		return crowns, false
	}

	changed := false
	out := make([]Crown, len(crowns))
	for i, c := range crowns {
		out[i] = c
		ring, ok := SimplifyRing(c.Polygon, tolerance)
		if ok && !ring.Equal(c.Polygon) {
			out[i].Polygon = ring
			changed = true
		}
	}
	return out, changed
}

// SimplifyRing reduces the vertices of r with Douglas-Peucker at the given
// tolerance. The bool is false when the reduced ring is not a valid simple
// ring, in which case r should be kept.
func SimplifyRing(r Ring, tolerance float64) (Ring, bool) {
	if tolerance <= 0 || len(r) <= 3 {
		return r, true
	}
	reduced := simplify.DouglasPeucker(tolerance).Ring(r.Orb())
	pts := make([]Point, len(reduced))
	for i, p := range reduced {
		pts[i] = Point{X: p[0], Y: p[1]}
	}
	// An orientation flip means the reduction folded the outline.
	if signedArea(pts) <= 0 {
		return r, false
	}
	ring, err := NewRing(pts)
	if err != nil {
		return r, false
	}
	return ring, true
}
