package canopy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrConfiguration marks invalid tiling parameters or thresholds.
	ErrConfiguration = errors.New("configuration error")

	// ErrSourceRead marks a raster that cannot be opened or a tile window
	// that cannot be read.
	ErrSourceRead = errors.New("source read error")

	// ErrDetection marks a detector failure on a tile. An empty detection
	// set is never reported through this error.
	ErrDetection = errors.New("detection error")

	// ErrDegenerateGeometry marks a polygon with fewer than 3 distinct
	// vertices or zero area.
	ErrDegenerateGeometry = errors.New("degenerate geometry")

	// ErrSelfIntersecting marks a ring whose edges cross.
	ErrSelfIntersecting = errors.New("self-intersecting ring")
)

// ConfigError describes one invalid configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrConfiguration, e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// Tile processing stages reported in TileError.
const (
	StageRead    = "read"
	StageWrite   = "write"
	StageDetect  = "detect"
	StageProject = "project"
)

// TileError records the failure of a single tile.
type TileError struct {
	TileID int
	Stage  string
	Err    error
}

func (e *TileError) Error() string {
	return fmt.Sprintf("tile %d: %s: %v", e.TileID, e.Stage, e.Err)
}

func (e *TileError) Unwrap() error {
	return e.Err
}

// PipelineError is the single terminal error of an aborted run. It lists
// every failed tile, ordered by tile id.
type PipelineError struct {
	Failures []*TileError
}

func newPipelineError(failures []*TileError) *PipelineError {
	sorted := make([]*TileError, len(failures))
	copy(sorted, failures)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].TileID < sorted[j].TileID
	})
	return &PipelineError{Failures: sorted}
}

func (e *PipelineError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%d tile(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap exposes the tile failures to errors.Is and errors.As.
func (e *PipelineError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// TileIDs returns the ids of the failed tiles.
func (e *PipelineError) TileIDs() []int {
	ids := make([]int, len(e.Failures))
	for i, f := range e.Failures {
		ids[i] = f.TileID
	}
	return ids
}
