package canopy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// worldFileExtensions lists sidecar extensions per raster extension, most
// specific first. ".wld" is always tried last.
var worldFileExtensions = map[string][]string{
	".tif":  {".tfw", ".tifw"},
	".tiff": {".tfw", ".tiffw"},
	".png":  {".pgw", ".pngw"},
	".jpg":  {".jgw", ".jpgw"},
	".jpeg": {".jgw", ".jpegw"},
	".gif":  {".gfw", ".gifw"},
	".bmp":  {".bpw", ".bmpw"},
}

// worldFileCandidates returns the sidecar paths to look for next to a raster.
func worldFileCandidates(rasterPath string) []string {
	ext := filepath.Ext(rasterPath)
	base := strings.TrimSuffix(rasterPath, ext)

	var out []string
	for _, e := range worldFileExtensions[strings.ToLower(ext)] {
		out = append(out, base+e)
	}
	return append(out, base+".wld")
}

// readWorldFile looks for a world-file sidecar of rasterPath. A missing
// sidecar reports found=false; a malformed one is an error.
func readWorldFile(rasterPath string) (geoReference, error) {
	for _, candidate := range worldFileCandidates(rasterPath) {
		f, err := os.Open(candidate)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return geoReference{}, err
		}
		m, err := ParseWorldFile(f)
		f.Close()
		if err != nil {
			return geoReference{}, fmt.Errorf("%s: %w", candidate, err)
		}
		return geoReference{transform: m, found: true}, nil
	}
	return geoReference{}, nil
}

// ParseWorldFile reads the six lines of an ESRI world file:
//
//	A (pixel size in x), D (rotation), B (rotation),
//	E (pixel size in y, usually negative), C, F (centre of the top-left pixel)
//
// and returns the transform of the top-left pixel corner.
func ParseWorldFile(r io.Reader) (AffineMatrix, error) {
	var values []float64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return AffineMatrix{}, fmt.Errorf("invalid world file value %q: %w", line, err)
		}
		values = append(values, v)
	}
	if err := scanner.Err(); err != nil {
		return AffineMatrix{}, err
	}
	if len(values) < 6 {
		return AffineMatrix{}, fmt.Errorf("world file has %d values, want 6", len(values))
	}

	m := AffineMatrix{
		A: values[0], B: values[2], Tx: values[4],
		C: values[1], D: values[3], Ty: values[5],
	}
	// Shift from the centre of pixel (0,0) to its corner.
	m.Tx -= (m.A + m.B) / 2
	m.Ty -= (m.C + m.D) / 2

	if !m.Invertible() {
		return AffineMatrix{}, errors.New("world file transform is singular")
	}
	return m, nil
}
