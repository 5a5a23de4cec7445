package canopy

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature attribute names shared by every vector format.
const (
	AttrID         = "id"
	AttrConfidence = "confidence"
	AttrArea       = "area"
	AttrSourceTile = "source_tile"
)

// CrownsToFeatureCollection converts crowns to GeoJSON polygon features.
// When epsg is known it is recorded as a named CRS member.
func CrownsToFeatureCollection(crowns []Crown, epsg int) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, c := range crowns {
		f := geojson.NewFeature(c.Polygon.Polygon())
		f.ID = c.ID
		f.Properties[AttrID] = c.ID
		f.Properties[AttrConfidence] = c.Confidence
		f.Properties[AttrArea] = c.Area()
		f.Properties[AttrSourceTile] = c.SourceTileID
		fc.Append(f)
	}
	if epsg != 0 {
		fc.ExtraMembers = geojson.Properties{
			"crs": map[string]interface{}{
				"type":       "name",
				"properties": map[string]interface{}{"name": fmt.Sprintf("urn:ogc:def:crs:EPSG::%d", epsg)},
			},
		}
	}
	return fc
}

// EncodeGeoJSON writes crowns as a GeoJSON FeatureCollection.
func EncodeGeoJSON(w io.Writer, crowns []Crown, epsg int) error {
	data, err := CrownsToFeatureCollection(crowns, epsg).MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding GeoJSON: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// ReadGeoJSON loads a crown layer written by EncodeGeoJSON. Features that
// are not valid simple polygons, or carry no confidence in [0,1], are
// skipped and counted.
func ReadGeoJSON(path string) (*VectorLayer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	layer := &VectorLayer{EPSG: crsEPSG(fc.ExtraMembers)}
	for i, f := range fc.Features {
		poly, ok := f.Geometry.(orb.Polygon)
		if !ok || len(poly) == 0 {
			layer.Skipped++
			continue
		}
		ring, err := RingFromOrb(poly[0])
		if err != nil {
			layer.Skipped++
			continue
		}
		conf, ok := f.Properties[AttrConfidence].(float64)
		if !ok || !(conf >= 0 && conf <= 1) {
			layer.Skipped++
			continue
		}
		layer.Crowns = append(layer.Crowns, Crown{
			ID:           f.Properties.MustInt(AttrID, i+1),
			Polygon:      ring,
			Confidence:   conf,
			SourceTileID: f.Properties.MustInt(AttrSourceTile, -1),
		})
	}
	return layer, nil
}

// crsEPSG returns the EPSG code of a named "crs" member such as
// "urn:ogc:def:crs:EPSG::32633" or "EPSG:4326", or 0.
func crsEPSG(members geojson.Properties) int {
	crs, ok := members["crs"].(map[string]interface{})
	if !ok {
		return 0
	}
	props, ok := crs["properties"].(map[string]interface{})
	if !ok {
		return 0
	}
	name, _ := props["name"].(string)
	if !strings.Contains(strings.ToUpper(name), "EPSG") {
		return 0
	}
	code, err := strconv.Atoi(name[strings.LastIndex(name, ":")+1:])
	if err != nil || code <= 0 {
		return 0
	}
	return code
}
