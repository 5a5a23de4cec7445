package canopy

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func TestTileWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "tiles")
	w, err := NewTileWriter(dir)
	if err != nil {
		t.Fatalf("NewTileWriter failed: %v", err)
	}
	if w.Dir() != dir {
		t.Errorf("Dir() = %s", w.Dir())
	}

	part, err := NewPartitioner(100, 100, TileSpec{Width: 40, Height: 40, Buffer: 10}, utmTransform())
	if err != nil {
		t.Fatal(err)
	}
	tile, _ := part.Tile(4)
	img, err := testRaster().ReadWindow(tile.Bounds)
	if err != nil {
		t.Fatal(err)
	}

	path, err := w.Write(TileImage{Window: tile, Image: img, EPSG: 32633})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if filepath.Base(path) != "tile_4_1_1.png" {
		t.Errorf("image path = %s", path)
	}
	written, err := imaging.Open(path)
	if err != nil {
		t.Fatalf("written tile does not decode: %v", err)
	}
	if written.Bounds().Dx() != 60 || written.Bounds().Dy() != 60 {
		t.Errorf("tile image is %v, want 60x60", written.Bounds())
	}

	meta, err := ReadTileMetadata(filepath.Join(dir, "tile_4_1_1.json"))
	if err != nil {
		t.Fatalf("ReadTileMetadata failed: %v", err)
	}
	if meta.TileID != 4 || meta.GridCol != 1 || meta.GridRow != 1 || meta.EPSG != 32633 {
		t.Errorf("metadata = %+v", meta)
	}
	if meta.Bounds != tile.Bounds || meta.Core != tile.Core || meta.Buffer != 10 {
		t.Errorf("windows = %+v / %+v", meta.Bounds, meta.Core)
	}
	if meta.GeoTransform != tile.Transform.GDAL() {
		t.Errorf("geotransform = %v, want %v", meta.GeoTransform, tile.Transform.GDAL())
	}
	if len(meta.Neighbors) != 8 {
		t.Errorf("interior tile has %d neighbours, want 8", len(meta.Neighbors))
	}
}

func TestReadTileMetadata_Missing(t *testing.T) {
	if _, err := ReadTileMetadata(filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Error("expected error for a missing sidecar")
	}
}

func TestWriteTiles(t *testing.T) {
	cfg := testConfig()
	cfg.TilesDir = t.TempDir()

	n, err := WriteTiles(context.Background(), testRaster(), cfg)
	if err != nil {
		t.Fatalf("WriteTiles failed: %v", err)
	}
	if n != 9 {
		t.Errorf("wrote %d tiles, want 9", n)
	}
	pngs, _ := filepath.Glob(filepath.Join(cfg.TilesDir, "tile_*.png"))
	if len(pngs) != 9 {
		t.Errorf("found %d tile images", len(pngs))
	}

	cfg.TilesDir = ""
	if _, err := WriteTiles(context.Background(), testRaster(), cfg); !errors.Is(err, ErrConfiguration) {
		t.Errorf("missing tiles dir: expected ErrConfiguration, got %v", err)
	}
}
