package canopy

import (
	"math"
	"runtime"
)

// Config is the explicit configuration of one pipeline run. Nothing in the
// package keeps process-wide detector or model state; everything a run needs
// is passed here.
type Config struct {
	TileWidth  int
	TileHeight int
	Buffer     int
	// MapUnits interprets TileWidth, TileHeight and Buffer in map units of
	// the raster's CRS instead of pixels.
	MapUnits bool

	StitchThreshold     float64
	DedupThreshold      float64
	ConfidenceThreshold float64
	SimplifyTolerance   float64

	// Workers bounds the number of tiles processed concurrently.
	Workers int
	// Permissive logs and skips failed tiles instead of aborting the run.
	Permissive bool
	// TilesDir, when set, receives every tile as PNG plus JSON metadata.
	TilesDir string
	// RunID names the run; a random id is generated when empty.
	RunID string
	// OnTile is called after each tile finishes, successfully or not.
	OnTile func(TileProgress)
}

// TileProgress reports the outcome of one tile.
type TileProgress struct {
	TileID     int    `json:"tileId"`
	Done       int    `json:"done"`
	Total      int    `json:"total"`
	Detections int    `json:"detections"`
	Rejected   int    `json:"rejected"`
	Err        string `json:"error,omitempty"`
}

// DefaultConfig returns a configuration with the package defaults and
// 512x512 pixel tiles with a 64 pixel buffer.
func DefaultConfig() Config {
	return Config{
		TileWidth:           512,
		TileHeight:          512,
		Buffer:              64,
		StitchThreshold:     DefaultStitchThreshold,
		DedupThreshold:      DefaultDedupThreshold,
		ConfidenceThreshold: 0,
		SimplifyTolerance:   DefaultSimplifyTolerance,
		Workers:             runtime.NumCPU(),
	}
}

// TileSpec returns the tiling parameters.
func (c Config) TileSpec() TileSpec {
	return TileSpec{Width: c.TileWidth, Height: c.TileHeight, Buffer: c.Buffer}
}

// CleanOptions returns the CrownCleaner parameters.
func (c Config) CleanOptions() CleanOptions {
	return CleanOptions{
		DedupThreshold:      c.DedupThreshold,
		ConfidenceThreshold: c.ConfidenceThreshold,
		SimplifyTolerance:   c.SimplifyTolerance,
	}
}

// Validate checks every parameter. In map-unit mode the tile sizes are
// validated after conversion to pixels, so only their sign is checked here.
func (c Config) Validate() error {
	if c.MapUnits {
		if c.TileWidth <= 0 || c.TileHeight <= 0 {
			return &ConfigError{Field: "tile size", Reason: "must be > 0"}
		}
		if c.Buffer < 0 {
			return &ConfigError{Field: "buffer", Reason: "must be >= 0"}
		}
	} else if err := c.TileSpec().Validate(); err != nil {
		return err
	}
	if err := checkRatio("stitch threshold", c.StitchThreshold); err != nil {
		return err
	}
	if err := c.CleanOptions().Validate(); err != nil {
		return err
	}
	if c.Workers < 0 {
		return &ConfigError{Field: "workers", Reason: "must be >= 0"}
	}
	return nil
}

// workers returns the effective pool size.
func (c Config) workers() int {
	if c.Workers <= 0 {
		return runtime.NumCPU()
	}
	return c.Workers
}

// pixelSpec converts the tiling parameters to pixels for a raster with the
// given transform. Tile sizes round up and the buffer rounds to nearest.
func (c Config) pixelSpec(m AffineMatrix) (TileSpec, error) {
	spec := c.TileSpec()
	if !c.MapUnits {
		return spec, spec.Validate()
	}
	sx, sy := m.PixelSize()
	if sx == 0 || sy == 0 {
		return TileSpec{}, &ConfigError{Field: "tile units", Reason: "map units need a geo-referenced raster"}
	}
	spec = TileSpec{
		Width:  int(math.Ceil(float64(c.TileWidth) / sx)),
		Height: int(math.Ceil(float64(c.TileHeight) / sy)),
		Buffer: int(math.Round(float64(c.Buffer) / math.Min(sx, sy))),
	}
	return spec, spec.Validate()
}

// checkRatio reports a ConfigError when v is not a number in [0, 1].
func checkRatio(field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return &ConfigError{Field: field, Reason: "must be within [0, 1]"}
	}
	return nil
}
