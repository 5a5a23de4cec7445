package canopy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// PredictionDirDetector reads detections produced offline for previously
// written tiles. Each tile's document is expected at <dir>/<tile name>.json,
// in the same format an HTTP detector returns. A missing document is a
// detection failure, never an empty result.
type PredictionDirDetector struct {
	dir string
}

// NewPredictionDirDetector returns a detector reading from dir.
func NewPredictionDirDetector(dir string) (*PredictionDirDetector, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, &ConfigError{Field: "predictions dir", Reason: err.Error()}
	}
	if !info.IsDir() {
		return nil, &ConfigError{Field: "predictions dir", Reason: "is not a directory"}
	}
	return &PredictionDirDetector{dir: dir}, nil
}

// PredictionPath returns where the document for tile is looked up.
func (d *PredictionDirDetector) PredictionPath(tile TileWindow) string {
	return filepath.Join(d.dir, TileName(tile)+".json")
}

// Detect implements Detector.
func (d *PredictionDirDetector) Detect(ctx context.Context, tile TileImage) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := d.PredictionPath(tile.Window)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: tile %d: %v", ErrDetection, tile.Window.ID, err)
	}
	defer f.Close()

	detections, err := DecodeDetections(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDetection, path, err)
	}
	return detections, nil
}
