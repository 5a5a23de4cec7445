package canopy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Result is the committed output of a successful run.
type Result struct {
	RunID     string       `json:"runId"`
	Raster    string       `json:"raster"`
	Width     int          `json:"width"`
	Height    int          `json:"height"`
	Transform AffineMatrix `json:"transform"`
	EPSG      int          `json:"epsg,omitempty"`
	Crowns    []Crown      `json:"crowns"`
	Summary   Summary      `json:"summary"`
}

// tileResult is what one worker hands back for its tile.
type tileResult struct {
	crowns     []GeoCrown
	detections int
	rejected   Rejection
	err        *TileError
}

// RunPipeline opens the raster at rasterPath, detects crowns tile by tile
// and returns the stitched and cleaned crown layer. Tile failures are
// collected until every tile has been tried; unless cfg.Permissive is set
// any failure aborts the run with a *PipelineError. A cancelled run returns
// the context error and no result.
func RunPipeline(ctx context.Context, rasterPath string, detector Detector, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if detector == nil {
		return nil, &ConfigError{Field: "detector", Reason: "is required"}
	}

	raster, err := OpenRaster(rasterPath)
	if err != nil {
		return nil, err
	}
	defer raster.Close()

	return RunOnRaster(ctx, raster, detector, cfg)
}

// RunOnRaster runs the pipeline on an already opened raster.
func RunOnRaster(ctx context.Context, raster *Raster, detector Detector, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if detector == nil {
		return nil, &ConfigError{Field: "detector", Reason: "is required"}
	}

	spec, err := cfg.pixelSpec(raster.Transform())
	if err != nil {
		return nil, err
	}
	part, err := NewPartitioner(raster.Width(), raster.Height(), spec, raster.Transform())
	if err != nil {
		return nil, err
	}

	var writer *TileWriter
	if cfg.TilesDir != "" {
		if writer, err = NewTileWriter(cfg.TilesDir); err != nil {
			return nil, err
		}
	}

	started := time.Now()
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	log.Printf("Run %s: %s (%dx%d) in %d tiles of %dx%d+%d, %d workers",
		runID, raster.Path(), raster.Width(), raster.Height(), part.Len(),
		spec.Width, spec.Height, spec.Buffer, cfg.workers())

	results := make([]tileResult, part.Len())
	progress := newProgressReporter(part.Len(), cfg.OnTile)

	var g errgroup.Group
	g.SetLimit(cfg.workers())
	for tile := range part.Tiles() {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := processTile(ctx, raster, tile, detector, writer)
			results[tile.ID] = res
			progress.report(tile.ID, res)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		log.Printf("Run %s cancelled; discarding results", runID)
		return nil, fmt.Errorf("run %s cancelled: %w", runID, err)
	}

	summary := Summary{Tiles: part.Len()}
	var failures []*TileError
	var geo []GeoCrown
	for _, res := range results {
		summary.Detections += res.detections
		summary.Rejected.Add(res.rejected)
		if res.err != nil {
			failures = append(failures, res.err)
			continue
		}
		geo = append(geo, res.crowns...)
	}

	if len(failures) > 0 {
		perr := newPipelineError(failures)
		if !cfg.Permissive {
			return nil, perr
		}
		for _, f := range perr.Failures {
			log.Printf("Warning: skipping %v", f)
		}
		summary.FailedTiles = perr.TileIDs()
	}
	if n := summary.Rejected.Total(); n > 0 {
		log.Printf("Warning: dropped %d malformed detections (%d degenerate, %d self-intersecting, %d invalid confidence)",
			n, summary.Rejected.Degenerate, summary.Rejected.SelfIntersecting, summary.Rejected.InvalidConfidence)
	}

	stitched := StitchCrowns(geo, cfg.StitchThreshold)
	crowns := CleanCrowns(stitched, cfg.CleanOptions())

	summary.Projected = len(geo)
	summary.Stitched = len(stitched)
	summary.fillCrownStats(crowns)
	summary.Duration = time.Since(started)

	log.Printf("Run %s: %d detections -> %d stitched -> %d crowns in %v",
		runID, summary.Detections, summary.Stitched, summary.Final, summary.Duration.Round(time.Millisecond))

	return &Result{
		RunID:     runID,
		Raster:    raster.Path(),
		Width:     raster.Width(),
		Height:    raster.Height(),
		Transform: raster.Transform(),
		EPSG:      raster.EPSG(),
		Crowns:    crowns,
		Summary:   summary,
	}, nil
}

// processTile reads, optionally writes, detects and projects one tile.
func processTile(ctx context.Context, raster *Raster, tile TileWindow, detector Detector, writer *TileWriter) tileResult {
	fail := func(stage string, err error) tileResult {
		return tileResult{err: &TileError{TileID: tile.ID, Stage: stage, Err: err}}
	}

	img, err := raster.ReadWindow(tile.Bounds)
	if err != nil {
		return fail(StageRead, err)
	}
	ti := TileImage{Window: tile, Image: img, EPSG: raster.EPSG()}

	if writer != nil {
		path, err := writer.Write(ti)
		if err != nil {
			return fail(StageWrite, err)
		}
		ti.Path = path
	}

	detections, err := detector.Detect(ctx, ti)
	if err != nil {
		if !errors.Is(err, ErrDetection) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", ErrDetection, err)
		}
		return fail(StageDetect, err)
	}

	crowns, rejected := ProjectDetections(tile, detections)
	return tileResult{crowns: crowns, detections: len(detections), rejected: rejected}
}

// progressReporter serialises OnTile callbacks so Done increases by one
// per call.
type progressReporter struct {
	mu    sync.Mutex
	total int
	done  int
	fn    func(TileProgress)
}

func newProgressReporter(total int, fn func(TileProgress)) *progressReporter {
	return &progressReporter{total: total, fn: fn}
}

func (p *progressReporter) report(tileID int, res tileResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	if p.fn == nil {
		return
	}
	tp := TileProgress{
		TileID:     tileID,
		Done:       p.done,
		Total:      p.total,
		Detections: res.detections,
		Rejected:   res.rejected.Total(),
	}
	if res.err != nil {
		tp.Err = res.err.Error()
	}
	p.fn(tp)
}
