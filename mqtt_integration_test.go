package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kwv/canopymesh/canopy"
)

// TestMQTTServiceRun runs the binary against a local broker: one pipeline
// pass over precomputed predictions, published over MQTT.
func TestMQTTServiceRun(t *testing.T) {
	// Skip if not running integration tests
	if os.Getenv("RUN_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping integration test (set RUN_INTEGRATION_TESTS=1 to run)")
	}

	tmpDir := t.TempDir()
	raster := writeTestRaster(t, tmpDir)

	predDir := filepath.Join(tmpDir, "predictions")
	if err := os.Mkdir(predDir, 0755); err != nil {
		t.Fatal(err)
	}
	part, err := canopy.NewPartitioner(64, 64, canopy.TileSpec{Width: 32, Height: 32, Buffer: 4}, canopy.Identity())
	if err != nil {
		t.Fatal(err)
	}
	for tile := range part.Tiles() {
		f, err := os.Create(filepath.Join(predDir, canopy.TileName(tile)+".json"))
		if err != nil {
			t.Fatal(err)
		}
		dets := []canopy.Detection{{Polygon: square(8, 8, 10), Confidence: 0.8}}
		if err := canopy.EncodeDetections(f, dets); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}

	configYAML := `raster: ` + raster + `
output:
  path: ` + filepath.Join(tmpDir, "crowns.geojson") + `
tiling:
  width: 32
  height: 32
  buffer: 4
detector:
  predictionsDir: ` + predDir + `
mqtt:
  broker: "tcp://localhost:1883"
  publishPrefix: "canopymesh-test"
  clientId: "canopymesh-test"
`
	configPath := filepath.Join(tmpDir, "test-config.yaml")
	if err := os.WriteFile(configPath, []byte(configYAML), 0644); err != nil {
		t.Fatalf("Failed to create test config: %v", err)
	}

	// Build the binary
	binaryPath := filepath.Join(tmpDir, "canopymesh-test")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, ".")
	if output, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, output)
	}

	tests := []struct {
		name           string
		args           []string
		expectInOutput []string
		expectFailure  bool
	}{
		{
			name: "run and publish",
			args: []string{"--mqtt", "--config=" + configPath, "--result-cache="},
			expectInOutput: []string{
				"Connecting to MQTT broker",
				"MQTT mode: running pipeline once",
				"Published run",
				"Wrote 4 crowns",
			},
		},
		{
			name:           "missing config file",
			args:           []string{"--mqtt", "--config=nonexistent.yaml"},
			expectInOutput: []string{"config file not found"},
			expectFailure:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()

			cmd := exec.CommandContext(ctx, binaryPath, tt.args...)
			output, err := cmd.CombinedOutput()
			outputStr := string(output)

			for _, expected := range tt.expectInOutput {
				if !strings.Contains(outputStr, expected) {
					t.Errorf("Expected output to contain '%s', but it didn't.\nFull output:\n%s",
						expected, outputStr)
				}
			}
			if tt.expectFailure && err == nil {
				t.Error("Expected command to fail, but it succeeded")
			}
			if !tt.expectFailure && err != nil {
				t.Errorf("command failed: %v", err)
			}
		})
	}
}

// TestMQTTServiceHelpFlag tests the --help output includes mqtt flag
func TestMQTTServiceHelpFlag(t *testing.T) {
	var out bytes.Buffer
	_ = run([]string{"--help"}, &out, newMockApp())

	outputStr := out.String()
	if !strings.Contains(outputStr, "-mqtt") {
		t.Error("Expected --help output to contain -mqtt flag")
	}
	if !strings.Contains(outputStr, "Publish progress and results over MQTT") {
		t.Error("Expected --help output to describe MQTT mode")
	}
}
