package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/kwv/canopymesh/canopy"
)

// App encapsulates the application state and dependencies
type App struct {
	Options      AppOptions
	StateTracker *canopy.StateTracker
	Publisher    *canopy.Publisher
	Out          io.Writer

	// Detector overrides the detector built from configuration.
	Detector canopy.Detector

	mu         sync.RWMutex
	background image.Image // raster of the latest result, for previews
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		StateTracker: canopy.NewStateTracker(),
		Out:          os.Stdout,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.Options = opts
	if opts.Set == nil {
		a.Options.Set = make(map[string]bool)
	}
}

// loadConfig merges the config file, the environment and explicitly set
// flags, in increasing order of precedence.
func (a *App) loadConfig() (*canopy.FileConfig, error) {
	fc := &canopy.FileConfig{}
	if a.Options.ConfigFile != "" {
		loaded, err := canopy.LoadConfig(a.Options.ConfigFile)
		if err != nil {
			return nil, err
		}
		fc = loaded
	}
	fc.ApplyEnv()

	o, set := a.Options, a.Options.Set
	noTiling := fc.Tiling == (canopy.TilingConfig{})
	if set["raster"] || fc.Raster == "" {
		fc.Raster = o.Raster
	}
	if set["output"] || fc.Output.Path == "" {
		fc.Output.Path = o.Output
	}
	if set["format"] {
		fc.Output.Format = o.Format
	}
	if set["preview"] {
		fc.Output.Preview = o.Preview
	}
	if set["histogram"] {
		fc.Output.Histogram = o.Histogram
	}
	if set["tile-width"] || fc.Tiling.Width == 0 {
		fc.Tiling.Width = o.TileWidth
	}
	if set["tile-height"] || fc.Tiling.Height == 0 {
		fc.Tiling.Height = o.TileHeight
	}
	if set["buffer"] || noTiling {
		fc.Tiling.Buffer = o.Buffer
	}
	if set["map-units"] {
		fc.Tiling.Units = "pixel"
		if o.MapUnits {
			fc.Tiling.Units = "map"
		}
	}
	if set["tiles-dir"] {
		fc.Tiling.TilesDir = o.TilesDir
	}
	if set["detector-url"] {
		fc.Detector.URL = o.DetectorURL
		fc.Detector.PredictionsDir = ""
	}
	if set["predictions-dir"] {
		fc.Detector.PredictionsDir = o.PredictionsDir
		fc.Detector.URL = ""
	}
	if set["stitch-threshold"] || fc.Thresholds.Stitch == nil {
		fc.Thresholds.Stitch = &o.StitchThreshold
	}
	if set["dedup-threshold"] || fc.Thresholds.Dedup == nil {
		fc.Thresholds.Dedup = &o.DedupThreshold
	}
	if set["confidence"] || fc.Thresholds.Confidence == nil {
		fc.Thresholds.Confidence = &o.ConfidenceThreshold
	}
	if set["simplify"] || fc.Thresholds.Simplify == nil {
		fc.Thresholds.Simplify = &o.SimplifyTolerance
	}
	if set["workers"] || fc.Workers == 0 {
		fc.Workers = o.Workers
	}
	if set["permissive"] {
		fc.Permissive = o.Permissive
	}
	return fc, nil
}

// newDetector builds the configured detector.
func (a *App) newDetector(fc *canopy.FileConfig) (canopy.Detector, error) {
	if a.Detector != nil {
		return a.Detector, nil
	}
	switch {
	case fc.Detector.URL != "":
		var opts []canopy.DetectorOption
		if fc.Detector.Timeout > 0 {
			opts = append(opts, canopy.WithTimeout(fc.Detector.Timeout))
		}
		if fc.Detector.Retries > 0 {
			opts = append(opts, canopy.WithMaxRetries(fc.Detector.Retries))
		}
		return canopy.NewHTTPDetector(fc.Detector.URL, opts...)
	case fc.Detector.PredictionsDir != "":
		return canopy.NewPredictionDirDetector(fc.Detector.PredictionsDir)
	default:
		return nil, &canopy.ConfigError{Field: "detector", Reason: "needs --detector-url or --predictions-dir"}
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// execute runs the pipeline once. confidence, when non-nil, overrides the
// configured confidence threshold.
func (a *App) execute(ctx context.Context, fc *canopy.FileConfig, confidence *float64) (*canopy.Result, error) {
	cfg, err := fc.PipelineConfig()
	if err != nil {
		return nil, err
	}
	if confidence != nil {
		cfg.ConfidenceThreshold = *confidence
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if fc.Raster == "" {
		return nil, &canopy.ConfigError{Field: "raster", Reason: "is required"}
	}
	detector, err := a.newDetector(fc)
	if err != nil {
		return nil, err
	}

	raster, err := canopy.OpenRaster(fc.Raster)
	if err != nil {
		return nil, err
	}
	defer raster.Close()

	runID := uuid.NewString()
	cfg.RunID = runID
	cfg.OnTile = func(tp canopy.TileProgress) {
		a.StateTracker.Progress(tp)
		if tp.Err != "" {
			log.Printf("Tile %d/%d (id %d) failed: %s", tp.Done, tp.Total, tp.TileID, tp.Err)
		}
		if a.Publisher != nil {
			if err := a.Publisher.PublishProgress(runID, tp); err != nil {
				log.Printf("Warning: publishing progress: %v", err)
			}
		}
	}

	res, err := canopy.RunOnRaster(ctx, raster, detector, cfg)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.background = raster.Image()
	a.mu.Unlock()

	if a.Publisher != nil {
		if err := a.Publisher.PublishResult(res); err != nil {
			log.Printf("Warning: publishing result: %v", err)
		}
	}
	return res, nil
}

// RunPipeline runs one detection pass and writes the configured outputs.
func (a *App) RunPipeline() error {
	fc, err := a.loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signalContext()
	defer stop()

	res, err := a.execute(ctx, fc, nil)
	if err != nil {
		var perr *canopy.PipelineError
		if errors.As(err, &perr) {
			fmt.Fprintf(a.Out, "Run aborted; failed tiles: %v\n", perr.TileIDs())
			fmt.Fprintln(a.Out, "Use --permissive to skip failed tiles")
		}
		return err
	}

	if err := a.writeOutputs(fc.Output, res); err != nil {
		return err
	}
	res.Summary.Print(a.Out)
	return nil
}

// writeOutputs writes the vector layer, preview and histogram of res.
func (a *App) writeOutputs(out canopy.OutputConfig, res *canopy.Result) error {
	if err := canopy.WriteVectorLayer(out.Path, out.Format, res.Crowns, res.EPSG); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Wrote %d crowns to %s\n", len(res.Crowns), out.Path)

	if out.Preview != "" {
		if err := a.writePreview(out.Preview, res); err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "Wrote preview to %s\n", out.Preview)
	}

	if out.Histogram != "" {
		if len(res.Crowns) == 0 {
			log.Printf("Warning: no crowns; skipping histogram")
		} else {
			if err := writeFile(out.Histogram, func(w io.Writer) error {
				return canopy.WriteConfidenceHistogram(w, res.Crowns)
			}); err != nil {
				return err
			}
			fmt.Fprintf(a.Out, "Wrote histogram to %s\n", out.Histogram)
		}
	}
	return nil
}

func (a *App) writePreview(path string, res *canopy.Result) error {
	a.mu.RLock()
	renderer := canopy.NewPreviewRenderer(res, a.background)
	a.mu.RUnlock()

	return writeFile(path, func(w io.Writer) error {
		if strings.EqualFold(filepath.Ext(path), ".svg") {
			return renderer.RenderToSVG(w)
		}
		return renderer.RenderToPNG(w)
	})
}

// writeFile creates path and fills it with write.
func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// RunTilesOnly cuts the raster into tiles and writes them without
// detection.
func (a *App) RunTilesOnly() error {
	fc, err := a.loadConfig()
	if err != nil {
		return err
	}
	cfg, err := fc.PipelineConfig()
	if err != nil {
		return err
	}
	if fc.Raster == "" {
		return &canopy.ConfigError{Field: "raster", Reason: "is required"}
	}

	raster, err := canopy.OpenRaster(fc.Raster)
	if err != nil {
		return err
	}
	defer raster.Close()

	ctx, stop := signalContext()
	defer stop()

	n, err := canopy.WriteTiles(ctx, raster, cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Wrote %d tiles to %s\n", n, cfg.TilesDir)
	return nil
}

// RunClean re-runs crown cleaning on an existing vector layer and writes
// the result to the configured output.
func (a *App) RunClean(input string) error {
	fc, err := a.loadConfig()
	if err != nil {
		return err
	}
	cfg, err := fc.PipelineConfig()
	if err != nil {
		return err
	}

	layer, err := canopy.ReadVectorLayer(input, "")
	if err != nil {
		return err
	}
	if layer.Skipped > 0 {
		log.Printf("Warning: skipped %d features of %s without a valid polygon or confidence", layer.Skipped, input)
	}
	cleaned := canopy.CleanCrowns(layer.Crowns, cfg.CleanOptions())

	if err := canopy.WriteVectorLayer(fc.Output.Path, fc.Output.Format, cleaned, layer.EPSG); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Cleaned %d crowns -> %d, wrote %s\n", len(layer.Crowns), len(cleaned), fc.Output.Path)
	return nil
}

// RunService serves runs over HTTP and/or publishes them over MQTT until
// interrupted.
func (a *App) RunService() error {
	fc, err := a.loadConfig()
	if err != nil {
		return err
	}
	if _, err := fc.PipelineConfig(); err != nil {
		return err
	}

	if a.Options.ResultCache != "" {
		a.StateTracker = canopy.NewStateTrackerWithCache(a.Options.ResultCache)
	}

	if a.Options.MqttMode {
		client, err := canopy.DialMQTT(fc.MQTT)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		a.Publisher = canopy.NewPublisher(client, fc.MQTT.PublishPrefix)
	}

	ctx, stop := signalContext()
	defer stop()

	if !a.Options.HttpMode {
		// MQTT only: run once and publish.
		log.Println("MQTT mode: running pipeline once")
		res, err := a.runTracked(ctx, fc, nil)
		if err != nil {
			return err
		}
		return a.writeOutputs(fc.Output, res)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Options.HttpPort),
		Handler:           newHTTPServer(a, fc),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP server listening on %s", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// errRunInProgress is returned when a run is requested while one is active.
var errRunInProgress = errors.New("a run is already in progress")

// runTracked executes a run while recording it in the state tracker.
func (a *App) runTracked(ctx context.Context, fc *canopy.FileConfig, confidence *float64) (*canopy.Result, error) {
	if !a.StateTracker.Begin() {
		return nil, errRunInProgress
	}
	res, err := a.execute(ctx, fc, confidence)
	a.StateTracker.Finish(res, err)
	return res, err
}

// Background returns the raster image of the latest run, if any.
func (a *App) Background() image.Image {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.background
}
