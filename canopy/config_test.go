package canopy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func floatPtr(v float64) *float64 { return &v }

func validConfigYAML() string {
	return `raster: /data/ortho.tif
output:
  path: /data/crowns.gpkg
  preview: /data/preview.png
tiling:
  width: 20
  height: 30
  buffer: 2
  units: map
detector:
  url: http://localhost:8000/predict
  timeout: 30s
  retries: 5
thresholds:
  stitch: 0.4
  confidence: 0.25
workers: 2
mqtt:
  broker: tcp://localhost:1883
  publishPrefix: canopymesh
`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.StitchThreshold != 0.5 || cfg.DedupThreshold != 0.6 {
		t.Errorf("thresholds = %v / %v, want 0.5 / 0.6", cfg.StitchThreshold, cfg.DedupThreshold)
	}
	if cfg.ConfidenceThreshold != 0 || cfg.SimplifyTolerance != 0.3 {
		t.Errorf("cleaning = %v / %v", cfg.ConfidenceThreshold, cfg.SimplifyTolerance)
	}
	if cfg.MapUnits {
		t.Error("default tile units should be pixels")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero buffer", func(c *Config) { c.Buffer = 0 }, false},
		{"buffer at half tile", func(c *Config) { c.Buffer = 256 }, true},
		{"zero height", func(c *Config) { c.TileHeight = 0 }, true},
		{"stitch below zero", func(c *Config) { c.StitchThreshold = -0.01 }, true},
		{"dedup above one", func(c *Config) { c.DedupThreshold = 1.01 }, true},
		{"confidence at one", func(c *Config) { c.ConfidenceThreshold = 1 }, false},
		{"negative tolerance", func(c *Config) { c.SimplifyTolerance = -1 }, true},
		{"map units large buffer", func(c *Config) { c.MapUnits = true; c.Buffer = 300 }, false},
		{"map units negative buffer", func(c *Config) { c.MapUnits = true; c.Buffer = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestPixelSpec(t *testing.T) {
	cfg := Config{TileWidth: 20, TileHeight: 30, Buffer: 2, MapUnits: true}

	spec, err := cfg.pixelSpec(FromGDAL([6]float64{500000, 0.25, 0, 5400000, 0, -0.25}))
	if err != nil {
		t.Fatalf("pixelSpec failed: %v", err)
	}
	if spec != (TileSpec{Width: 80, Height: 120, Buffer: 8}) {
		t.Errorf("pixelSpec() = %+v", spec)
	}

	// 0.3 m pixels: sizes round up, buffer to nearest.
	spec, err = cfg.pixelSpec(FromGDAL([6]float64{0, 0.3, 0, 0, 0, -0.3}))
	if err != nil {
		t.Fatalf("pixelSpec failed: %v", err)
	}
	if spec != (TileSpec{Width: 67, Height: 100, Buffer: 7}) {
		t.Errorf("pixelSpec() = %+v", spec)
	}

	if _, err := cfg.pixelSpec(AffineMatrix{}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("zero pixel size: expected ErrConfiguration, got %v", err)
	}

	cfg.MapUnits = false
	if spec, _ := cfg.pixelSpec(utmTransform()); spec != cfg.TileSpec() {
		t.Errorf("pixel units changed the spec: %+v", spec)
	}
}

// ---------------------------------------------------------------------------
// LoadConfig
// ---------------------------------------------------------------------------

func TestLoadConfig_NotExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for missing config file, got nil")
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfigYAML()))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Raster != "/data/ortho.tif" {
		t.Errorf("Raster = %q", cfg.Raster)
	}
	if cfg.Detector.Timeout != 30*time.Second || cfg.Detector.Retries != 5 {
		t.Errorf("Detector = %+v", cfg.Detector)
	}
	if cfg.MQTT.PublishPrefix != "canopymesh" {
		t.Errorf("PublishPrefix = %q", cfg.MQTT.PublishPrefix)
	}

	pc, err := cfg.PipelineConfig()
	if err != nil {
		t.Fatalf("PipelineConfig: %v", err)
	}
	if !pc.MapUnits || pc.TileWidth != 20 || pc.TileHeight != 30 || pc.Buffer != 2 {
		t.Errorf("tiling = %+v", pc.TileSpec())
	}
	if pc.StitchThreshold != 0.4 || pc.ConfidenceThreshold != 0.25 {
		t.Errorf("thresholds = %v, %v", pc.StitchThreshold, pc.ConfidenceThreshold)
	}
	if pc.DedupThreshold != DefaultDedupThreshold || pc.SimplifyTolerance != DefaultSimplifyTolerance {
		t.Errorf("unset thresholds did not take defaults: %v, %v", pc.DedupThreshold, pc.SimplifyTolerance)
	}
	if pc.Workers != 2 {
		t.Errorf("Workers = %d, want 2", pc.Workers)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown units",
			yaml: `tiling:
  units: feet
`,
		},
		{
			name: "unknown format",
			yaml: `output:
  path: crowns.shp
  format: shapefile
`,
		},
		{
			name: "two detectors",
			yaml: `detector:
  url: http://localhost:8000
  predictionsDir: /data/predictions
`,
		},
		{
			name: "threshold out of range",
			yaml: `thresholds:
  dedup: 1.5
`,
		},
		{
			name: "buffer too large",
			yaml: `tiling:
  width: 100
  height: 100
  buffer: 50
`,
		},
		{
			name: "not yaml",
			yaml: "tiling: [",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tc.yaml)); err == nil {
				t.Errorf("expected validation error for %q, got nil", tc.name)
			}
		})
	}
}

func TestPipelineConfig_Defaults(t *testing.T) {
	fc := &FileConfig{}
	pc, err := fc.PipelineConfig()
	if err != nil {
		t.Fatal(err)
	}
	def := DefaultConfig()
	if pc.TileSpec() != def.TileSpec() {
		t.Errorf("empty tiling = %+v, want defaults %+v", pc.TileSpec(), def.TileSpec())
	}

	// An explicit zero buffer is honoured once tiling is configured.
	fc.Tiling = TilingConfig{Width: 256, Height: 256}
	fc.Thresholds.Confidence = floatPtr(0)
	pc, err = fc.PipelineConfig()
	if err != nil {
		t.Fatal(err)
	}
	if pc.Buffer != 0 || pc.TileWidth != 256 {
		t.Errorf("tiling = %+v", pc.TileSpec())
	}
}

// ---------------------------------------------------------------------------
// SaveConfig
// ---------------------------------------------------------------------------

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")

	original := &FileConfig{
		Raster: "/data/ortho.tif",
		Output: OutputConfig{Path: "/data/crowns.geojson", Format: FormatGeoJSON},
		Tiling: TilingConfig{Width: 400, Height: 400, Buffer: 40},
		Detector: DetectorConfig{
			URL:     "http://detector:8000/predict",
			Timeout: 90 * time.Second,
		},
		Thresholds: ThresholdsConfig{Dedup: floatPtr(0.7)},
	}

	if err := SaveConfig(path, original); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig after save: %v", err)
	}
	if loaded.Tiling != original.Tiling {
		t.Errorf("Tiling = %+v, want %+v", loaded.Tiling, original.Tiling)
	}
	if loaded.Detector.Timeout != 90*time.Second {
		t.Errorf("Timeout = %v", loaded.Detector.Timeout)
	}
	if loaded.Thresholds.Dedup == nil || *loaded.Thresholds.Dedup != 0.7 {
		t.Errorf("Dedup = %v", loaded.Thresholds.Dedup)
	}
	if loaded.Thresholds.Stitch != nil {
		t.Errorf("unset Stitch threshold saved as %v", *loaded.Thresholds.Stitch)
	}
}

// ---------------------------------------------------------------------------
// ApplyEnv
// ---------------------------------------------------------------------------

func TestApplyEnv(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("MQTT_PUBLISH_PREFIX", "forest")
	t.Setenv("DETECTOR_URL", "http://gpu:8000/predict")

	fc := &FileConfig{MQTT: MQTTConfig{Broker: "tcp://localhost:1883", ClientID: "keep"}}
	fc.ApplyEnv()

	if fc.MQTT.Broker != "tcp://broker:1883" || fc.MQTT.PublishPrefix != "forest" {
		t.Errorf("MQTT = %+v", fc.MQTT)
	}
	if fc.MQTT.ClientID != "keep" {
		t.Errorf("ClientID overwritten: %q", fc.MQTT.ClientID)
	}
	if fc.Detector.URL != "http://gpu:8000/predict" {
		t.Errorf("Detector.URL = %q", fc.Detector.URL)
	}
}
