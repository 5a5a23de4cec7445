package canopy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// TileImage is the input handed to a detector: the tile's pixels plus its
// window metadata. Path is set when the tile was also written to disk.
type TileImage struct {
	Window TileWindow
	Image  image.Image
	Path   string
	EPSG   int
}

// Name returns the base name used for the tile's artefacts.
func (t TileImage) Name() string {
	return TileName(t.Window)
}

// EncodePNG returns the tile pixels as PNG bytes.
func (t TileImage) EncodePNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, t.Image, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encoding tile %d: %w", t.Window.ID, err)
	}
	return buf.Bytes(), nil
}

// Detector finds crown polygons in a tile. Implementations must be safe for
// concurrent use and must not modify the tile. A failure to process the
// tile is reported as an error; a tile with no crowns returns an empty
// slice and a nil error.
type Detector interface {
	Detect(ctx context.Context, tile TileImage) ([]Detection, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, tile TileImage) ([]Detection, error)

// Detect calls f.
func (f DetectorFunc) Detect(ctx context.Context, tile TileImage) ([]Detection, error) {
	return f(ctx, tile)
}

// detectionDocument is the JSON exchanged with external detectors:
//
//	{"detections": [{"polygon": [[x, y], ...], "confidence": 0.9}]}
type detectionDocument struct {
	Detections []wireDetection `json:"detections"`
}

type wireDetection struct {
	Polygon    [][]float64 `json:"polygon"`
	Confidence float64     `json:"confidence"`
}

// DecodeDetections parses a detection document. A document without a
// detections array is an error; an empty array is a valid empty result.
func DecodeDetections(r io.Reader) ([]Detection, error) {
	var raw struct {
		Detections *[]wireDetection `json:"detections"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding detections: %w", err)
	}
	if raw.Detections == nil {
		return nil, fmt.Errorf("decoding detections: missing \"detections\" field")
	}

	out := make([]Detection, 0, len(*raw.Detections))
	for i, d := range *raw.Detections {
		poly := make([]Point, len(d.Polygon))
		for j, v := range d.Polygon {
			if len(v) != 2 {
				return nil, fmt.Errorf("decoding detections: detection %d vertex %d has %d coordinates", i, j, len(v))
			}
			poly[j] = Point{X: v[0], Y: v[1]}
		}
		out = append(out, Detection{Polygon: poly, Confidence: d.Confidence})
	}
	return out, nil
}

// EncodeDetections writes detections as a detection document.
func EncodeDetections(w io.Writer, detections []Detection) error {
	doc := detectionDocument{Detections: make([]wireDetection, len(detections))}
	for i, d := range detections {
		poly := make([][]float64, len(d.Polygon))
		for j, p := range d.Polygon {
			poly[j] = []float64{p.X, p.Y}
		}
		doc.Detections[i] = wireDetection{Polygon: poly, Confidence: d.Confidence}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
