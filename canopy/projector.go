package canopy

import (
	"errors"
	"fmt"
	"math"
)

// Rejection counts detections dropped while projecting a tile.
type Rejection struct {
	Degenerate        int `json:"degenerate"`
	SelfIntersecting  int `json:"selfIntersecting"`
	InvalidConfidence int `json:"invalidConfidence"`
}

// Total returns the number of rejected detections.
func (r Rejection) Total() int {
	return r.Degenerate + r.SelfIntersecting + r.InvalidConfidence
}

// Add accumulates another tile's counts.
func (r *Rejection) Add(o Rejection) {
	r.Degenerate += o.Degenerate
	r.SelfIntersecting += o.SelfIntersecting
	r.InvalidConfidence += o.InvalidConfidence
}

// ProjectDetections maps a tile's pixel-space detections into geographic
// crowns using the tile's transform. Vertex order is kept (clockwise rings
// are reversed in place, keeping the first vertex). Malformed detections
// are dropped and counted, never returned as an error.
func ProjectDetections(tile TileWindow, detections []Detection) ([]GeoCrown, Rejection) {
	var rej Rejection
	crowns := make([]GeoCrown, 0, len(detections))

	for _, d := range detections {
		if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
			rej.InvalidConfidence++
			continue
		}

		ring, err := NewRing(TransformPoints(d.Polygon, tile.Transform))
		if err != nil {
			if errors.Is(err, ErrSelfIntersecting) {
				rej.SelfIntersecting++
			} else {
				rej.Degenerate++
			}
			continue
		}

		crowns = append(crowns, GeoCrown{
			Polygon:      ring,
			Confidence:   d.Confidence,
			SourceTileID: tile.ID,
		})
	}

	return crowns, rej
}

// ProjectPoint maps a tile-local pixel to geographic coordinates.
func ProjectPoint(tile TileWindow, p Point) Point {
	return TransformPoint(p, tile.Transform)
}

// UnprojectPoint maps a geographic point back to tile-local pixels.
func UnprojectPoint(tile TileWindow, p Point) (Point, error) {
	px, err := tile.Transform.ToPixel(p)
	if err != nil {
		return Point{}, fmt.Errorf("tile %d: %w", tile.ID, err)
	}
	return px, nil
}
