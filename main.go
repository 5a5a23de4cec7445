package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/kwv/canopymesh/canopy"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line.
type AppOptions struct {
	ConfigFile string
	Raster     string
	Output     string
	Format     string
	Preview    string
	Histogram  string

	TileWidth  int
	TileHeight int
	Buffer     int
	MapUnits   bool
	TilesDir   string

	DetectorURL    string
	PredictionsDir string

	StitchThreshold     float64
	DedupThreshold      float64
	ConfidenceThreshold float64
	SimplifyTolerance   float64
	Workers             int
	Permissive          bool

	TilesOnly   bool
	CleanInput  string
	HttpMode    bool
	HttpPort    int
	MqttMode    bool
	ResultCache string

	// Set records the flags given explicitly; only those override the
	// config file.
	Set map[string]bool
}

// Runner is the set of modes the command line can dispatch to.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunPipeline() error
	RunTilesOnly() error
	RunClean(input string) error
	RunService() error
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: reading .env: %v", err)
	}

	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.Fatalf("Error: %v", err)
	}
}

func run(args []string, out io.Writer, app Runner) error {
	defaults := canopy.DefaultConfig()
	var opts AppOptions

	fs := flag.NewFlagSet("canopymesh", flag.ContinueOnError)
	fs.SetOutput(out)

	fs.StringVar(&opts.ConfigFile, "config", "", "Path to YAML configuration file")
	fs.StringVar(&opts.Raster, "raster", "", "Orthomosaic to process (GeoTIFF, PNG, JPEG with world file)")
	fs.StringVar(&opts.Output, "output", "crowns.geojson", "Output vector layer")
	fs.StringVar(&opts.Format, "format", "", "Output format: geojson or gpkg (default: from extension)")
	fs.StringVar(&opts.Preview, "preview", "", "Write a PNG or SVG preview of the crowns")
	fs.StringVar(&opts.Histogram, "histogram", "", "Write a PNG histogram of crown confidences")

	fs.IntVar(&opts.TileWidth, "tile-width", defaults.TileWidth, "Core tile width")
	fs.IntVar(&opts.TileHeight, "tile-height", defaults.TileHeight, "Core tile height")
	fs.IntVar(&opts.Buffer, "buffer", defaults.Buffer, "Tile buffer on each interior side")
	fs.BoolVar(&opts.MapUnits, "map-units", false, "Interpret tile sizes and buffer in map units instead of pixels")
	fs.StringVar(&opts.TilesDir, "tiles-dir", "", "Write every tile as PNG plus JSON metadata into this directory")

	fs.StringVar(&opts.DetectorURL, "detector-url", "", "Remote detector endpoint (POST image/png)")
	fs.StringVar(&opts.PredictionsDir, "predictions-dir", "", "Directory of precomputed per-tile detection documents")

	fs.Float64Var(&opts.StitchThreshold, "stitch-threshold", defaults.StitchThreshold, "Overlap ratio above which cross-tile detections merge")
	fs.Float64Var(&opts.DedupThreshold, "dedup-threshold", defaults.DedupThreshold, "Overlap ratio above which final crowns are duplicates")
	fs.Float64Var(&opts.ConfidenceThreshold, "confidence", defaults.ConfidenceThreshold, "Minimum crown confidence, inclusive (0 disables)")
	fs.Float64Var(&opts.SimplifyTolerance, "simplify", defaults.SimplifyTolerance, "Simplification tolerance in map units (0 disables)")
	fs.IntVar(&opts.Workers, "workers", defaults.Workers, "Tiles processed concurrently")
	fs.BoolVar(&opts.Permissive, "permissive", false, "Skip failed tiles instead of aborting the run")

	fs.BoolVar(&opts.TilesOnly, "tiles-only", false, "Write tiles and exit without detection")
	fs.StringVar(&opts.CleanInput, "clean", "", "Re-run crown cleaning on an existing vector layer")
	fs.BoolVar(&opts.HttpMode, "http", false, "Serve runs and results over HTTP")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Publish progress and results over MQTT")
	fs.StringVar(&opts.ResultCache, "result-cache", ".canopy-result.json", "Service mode: file caching the latest result")

	if err := fs.Parse(args); err != nil {
		return err
	}

	opts.Set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { opts.Set[f.Name] = true })

	fmt.Fprintf(out, "canopymesh version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.HttpMode || opts.MqttMode:
		return app.RunService()
	case opts.CleanInput != "":
		return app.RunClean(opts.CleanInput)
	case opts.TilesOnly:
		return app.RunTilesOnly()
	case opts.Raster != "" || opts.ConfigFile != "":
		return app.RunPipeline()
	}

	fmt.Fprintln(out, "Nothing to do.")
	fmt.Fprintln(out, "Use --raster=ortho.tif --detector-url=URL to detect crowns")
	fmt.Fprintln(out, "Use --config=config.yaml to run a configured pipeline")
	fmt.Fprintln(out, "Use --tiles-only --tiles-dir=DIR to cut tiles for offline detection")
	fmt.Fprintln(out, "Use --predictions-dir=DIR to stitch offline detections")
	fmt.Fprintln(out, "Use --clean=crowns.geojson to re-clean an existing layer")
	fmt.Fprintln(out, "Use --http and/or --mqtt to run the service")
	return nil
}
