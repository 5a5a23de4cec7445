package canopy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPredictionDirDetector(t *testing.T) {
	dir := t.TempDir()
	det, err := NewPredictionDirDetector(dir)
	if err != nil {
		t.Fatal(err)
	}

	tile := TileImage{Window: TileWindow{ID: 4, GridCol: 1, GridRow: 1}}
	path := det.PredictionPath(tile.Window)
	if filepath.Base(path) != "tile_4_1_1.json" {
		t.Errorf("PredictionPath() = %s", path)
	}

	if _, err := det.Detect(context.Background(), tile); !errors.Is(err, ErrDetection) {
		t.Errorf("missing document: expected ErrDetection, got %v", err)
	}

	if err := os.WriteFile(path, []byte(detectionJSON), 0644); err != nil {
		t.Fatal(err)
	}
	dets, err := det.Detect(context.Background(), tile)
	if err != nil {
		t.Fatalf("Detect() error: %v", err)
	}
	if len(dets) != 1 || dets[0].Confidence != 0.85 {
		t.Errorf("Detect() = %+v", dets)
	}

	if err := os.WriteFile(path, []byte(`{}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := det.Detect(context.Background(), tile); !errors.Is(err, ErrDetection) {
		t.Errorf("document without detections: expected ErrDetection, got %v", err)
	}
}

func TestNewPredictionDirDetector_Invalid(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.json")
	if err := os.WriteFile(file, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{file, filepath.Join(t.TempDir(), "missing")} {
		if _, err := NewPredictionDirDetector(dir); !errors.Is(err, ErrConfiguration) {
			t.Errorf("NewPredictionDirDetector(%s): expected ErrConfiguration, got %v", dir, err)
		}
	}
}
