package canopy

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration of the CLI and service.
type FileConfig struct {
	Raster     string           `yaml:"raster" json:"raster"`
	Output     OutputConfig     `yaml:"output" json:"output"`
	Tiling     TilingConfig     `yaml:"tiling" json:"tiling"`
	Detector   DetectorConfig   `yaml:"detector" json:"detector"`
	Thresholds ThresholdsConfig `yaml:"thresholds" json:"thresholds"`
	Workers    int              `yaml:"workers,omitempty" json:"workers,omitempty"`
	Permissive bool             `yaml:"permissive,omitempty" json:"permissive,omitempty"`
	MQTT       MQTTConfig       `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
}

// OutputConfig names the artefacts written after a run.
type OutputConfig struct {
	Path      string `yaml:"path" json:"path"`
	Format    string `yaml:"format,omitempty" json:"format,omitempty"` // geojson or gpkg; inferred from Path when empty
	Preview   string `yaml:"preview,omitempty" json:"preview,omitempty"`
	Histogram string `yaml:"histogram,omitempty" json:"histogram,omitempty"`
}

// TilingConfig holds the tile grid parameters.
type TilingConfig struct {
	Width    int    `yaml:"width" json:"width"`
	Height   int    `yaml:"height" json:"height"`
	Buffer   int    `yaml:"buffer" json:"buffer"`
	Units    string `yaml:"units,omitempty" json:"units,omitempty"` // pixel (default) or map
	TilesDir string `yaml:"tilesDir,omitempty" json:"tilesDir,omitempty"`
}

// DetectorConfig selects the detector: a remote inference endpoint or a
// directory of precomputed predictions.
type DetectorConfig struct {
	URL            string        `yaml:"url,omitempty" json:"url,omitempty"`
	Timeout        time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Retries        int           `yaml:"retries,omitempty" json:"retries,omitempty"`
	PredictionsDir string        `yaml:"predictionsDir,omitempty" json:"predictionsDir,omitempty"`
}

// ThresholdsConfig holds the stitching and cleaning parameters. Nil fields
// take the package defaults.
type ThresholdsConfig struct {
	Stitch     *float64 `yaml:"stitch,omitempty" json:"stitch,omitempty"`
	Dedup      *float64 `yaml:"dedup,omitempty" json:"dedup,omitempty"`
	Confidence *float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
	Simplify   *float64 `yaml:"simplify,omitempty" json:"simplify,omitempty"`
}

// MQTTConfig holds the broker connection used for progress publication.
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"password,omitempty"`
}

// LoadConfig loads the configuration from a YAML file
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var config FileConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	switch config.Tiling.Units {
	case "", "pixel", "map":
	default:
		return nil, fmt.Errorf("tiling.units must be pixel or map, got %q", config.Tiling.Units)
	}
	switch config.Output.Format {
	case "", FormatGeoJSON, FormatGeoPackage:
	default:
		return nil, fmt.Errorf("output.format must be %s or %s, got %q", FormatGeoJSON, FormatGeoPackage, config.Output.Format)
	}
	if config.Detector.URL != "" && config.Detector.PredictionsDir != "" {
		return nil, fmt.Errorf("detector.url and detector.predictionsDir are mutually exclusive")
	}

	if _, err := config.PipelineConfig(); err != nil {
		return nil, err
	}

	return &config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *FileConfig) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// PipelineConfig converts the file configuration into a validated run
// configuration. Zero tiling fields and nil thresholds take the defaults.
func (fc *FileConfig) PipelineConfig() (Config, error) {
	cfg := DefaultConfig()
	if fc.Tiling.Width != 0 {
		cfg.TileWidth = fc.Tiling.Width
	}
	if fc.Tiling.Height != 0 {
		cfg.TileHeight = fc.Tiling.Height
	}
	if fc.Tiling.Width != 0 || fc.Tiling.Height != 0 || fc.Tiling.Buffer != 0 {
		cfg.Buffer = fc.Tiling.Buffer
	}
	cfg.MapUnits = fc.Tiling.Units == "map"
	cfg.TilesDir = fc.Tiling.TilesDir

	if v := fc.Thresholds.Stitch; v != nil {
		cfg.StitchThreshold = *v
	}
	if v := fc.Thresholds.Dedup; v != nil {
		cfg.DedupThreshold = *v
	}
	if v := fc.Thresholds.Confidence; v != nil {
		cfg.ConfidenceThreshold = *v
	}
	if v := fc.Thresholds.Simplify; v != nil {
		cfg.SimplifyTolerance = *v
	}
	if fc.Workers != 0 {
		cfg.Workers = fc.Workers
	}
	cfg.Permissive = fc.Permissive

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides broker and detector settings from the environment.
func (fc *FileConfig) ApplyEnv() {
	if v := os.Getenv("MQTT_BROKER"); v != "" {
		fc.MQTT.Broker = v
	}
	if v := os.Getenv("MQTT_CLIENT_ID"); v != "" {
		fc.MQTT.ClientID = v
	}
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		fc.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		fc.MQTT.Password = v
	}
	if v := os.Getenv("MQTT_PUBLISH_PREFIX"); v != "" {
		fc.MQTT.PublishPrefix = v
	}
	if v := os.Getenv("DETECTOR_URL"); v != "" {
		fc.Detector.URL = v
	}
}
