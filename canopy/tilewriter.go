package canopy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"
)

// TileName returns the base name of a tile's artefacts:
// tile_<id>_<col>_<row>.
func TileName(w TileWindow) string {
	return fmt.Sprintf("tile_%d_%d_%d", w.ID, w.GridCol, w.GridRow)
}

// TileMetadata is the JSON sidecar written next to each tile image.
type TileMetadata struct {
	TileID       int        `json:"tileId"`
	GridCol      int        `json:"gridCol"`
	GridRow      int        `json:"gridRow"`
	Bounds       Window     `json:"bounds"`
	Core         Window     `json:"core"`
	Buffer       int        `json:"buffer"`
	GeoTransform [6]float64 `json:"geoTransform"`
	EPSG         int        `json:"epsg,omitempty"`
	Neighbors    []int      `json:"neighbors"`
}

// NewTileMetadata describes a tile window.
func NewTileMetadata(w TileWindow, epsg int) TileMetadata {
	neighbors := w.Neighbors
	if neighbors == nil {
		neighbors = []int{}
	}
	return TileMetadata{
		TileID:       w.ID,
		GridCol:      w.GridCol,
		GridRow:      w.GridRow,
		Bounds:       w.Bounds,
		Core:         w.Core,
		Buffer:       w.Buffer,
		GeoTransform: w.Transform.GDAL(),
		EPSG:         epsg,
		Neighbors:    neighbors,
	}
}

// TileWriter materialises tiles as PNG images with JSON metadata.
type TileWriter struct {
	dir string
}

// NewTileWriter creates dir if needed and returns a writer into it.
func NewTileWriter(dir string) (*TileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating tiles dir: %w", err)
	}
	return &TileWriter{dir: dir}, nil
}

// Dir returns the output directory.
func (w *TileWriter) Dir() string { return w.dir }

// Write stores the tile image and its metadata and returns the image path.
func (w *TileWriter) Write(tile TileImage) (string, error) {
	name := tile.Name()
	imgPath := filepath.Join(w.dir, name+".png")
	if err := imaging.Save(tile.Image, imgPath); err != nil {
		return "", fmt.Errorf("writing %s: %w", imgPath, err)
	}

	data, err := json.MarshalIndent(NewTileMetadata(tile.Window, tile.EPSG), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding metadata of tile %d: %w", tile.Window.ID, err)
	}
	metaPath := filepath.Join(w.dir, name+".json")
	if err := os.WriteFile(metaPath, data, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", metaPath, err)
	}
	return imgPath, nil
}

// ReadTileMetadata loads a tile sidecar.
func ReadTileMetadata(path string) (TileMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TileMetadata{}, err
	}
	var meta TileMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return TileMetadata{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return meta, nil
}

// WriteTiles cuts raster into tiles per cfg and writes them all to
// cfg.TilesDir without running detection. It returns the number of tiles
// written.
func WriteTiles(ctx context.Context, raster *Raster, cfg Config) (int, error) {
	if cfg.TilesDir == "" {
		return 0, &ConfigError{Field: "tiles dir", Reason: "is required"}
	}
	if err := cfg.Validate(); err != nil {
		return 0, err
	}
	spec, err := cfg.pixelSpec(raster.Transform())
	if err != nil {
		return 0, err
	}
	part, err := NewPartitioner(raster.Width(), raster.Height(), spec, raster.Transform())
	if err != nil {
		return 0, err
	}
	writer, err := NewTileWriter(cfg.TilesDir)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers())
	for tile := range part.Tiles() {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			img, err := raster.ReadWindow(tile.Bounds)
			if err != nil {
				return &TileError{TileID: tile.ID, Stage: StageRead, Err: err}
			}
			if _, err := writer.Write(TileImage{Window: tile, Image: img, EPSG: raster.EPSG()}); err != nil {
				return &TileError{TileID: tile.ID, Stage: StageWrite, Err: err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return part.Len(), nil
}
