package canopy

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Vector layer formats.
const (
	FormatGeoJSON    = "geojson"
	FormatGeoPackage = "gpkg"
)

// InferFormat returns the vector format implied by a file extension.
func InferFormat(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		return FormatGeoJSON, nil
	case ".gpkg":
		return FormatGeoPackage, nil
	default:
		return "", &ConfigError{Field: "output format", Reason: fmt.Sprintf("cannot be inferred from %q", path)}
	}
}

// WriteVectorLayer writes crowns to path in the given format ("" infers it
// from the extension). The layer is written to a temporary file in the
// same directory and renamed over path, so an existing file is replaced
// only by a complete layer and a failed write leaves nothing behind.
func WriteVectorLayer(path, format string, crowns []Crown, epsg int) (err error) {
	if format == "" {
		if format, err = InferFormat(path); err != nil {
			return err
		}
	}
	if format != FormatGeoJSON && format != FormatGeoPackage {
		return &ConfigError{Field: "output format", Reason: fmt.Sprintf("unknown format %q", format)}
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	switch format {
	case FormatGeoJSON:
		err = EncodeGeoJSON(tmp, crowns, epsg)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
	case FormatGeoPackage:
		if err = tmp.Close(); err == nil {
			err = WriteGeoPackage(tmpPath, crowns, epsg)
		}
	}
	if err != nil {
		return fmt.Errorf("writing %s layer: %w", format, err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// VectorLayer is a crown layer read back from disk.
type VectorLayer struct {
	Crowns []Crown
	// EPSG is the layer's coordinate reference system, 0 when unknown.
	EPSG int
	// Skipped counts features that could not be loaded as crowns.
	Skipped int
}

// ReadVectorLayer loads a crown layer in either format.
func ReadVectorLayer(path, format string) (*VectorLayer, error) {
	if format == "" {
		var err error
		if format, err = InferFormat(path); err != nil {
			return nil, err
		}
	}
	switch format {
	case FormatGeoJSON:
		return ReadGeoJSON(path)
	case FormatGeoPackage:
		return ReadGeoPackage(path)
	default:
		return nil, &ConfigError{Field: "input format", Reason: fmt.Sprintf("unknown format %q", format)}
	}
}
