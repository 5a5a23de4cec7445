package canopy

import (
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	_ "modernc.org/sqlite"
)

// GeoPackageTable is the feature table holding the crown layer.
const GeoPackageTable = "crowns"

const (
	gpkgApplicationID = 0x47504B47 // "GPKG"
	gpkgUserVersion   = 10300
	srsUndefinedXY    = -1
	srsUndefinedGeo   = 0
)

var gpkgSchema = []string{
	`CREATE TABLE gpkg_spatial_ref_sys (
		srs_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL PRIMARY KEY,
		organization TEXT NOT NULL,
		organization_coordsys_id INTEGER NOT NULL,
		definition TEXT NOT NULL,
		description TEXT
	)`,
	`CREATE TABLE gpkg_contents (
		table_name TEXT NOT NULL PRIMARY KEY,
		data_type TEXT NOT NULL,
		identifier TEXT UNIQUE,
		description TEXT DEFAULT '',
		last_change DATETIME NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
		min_x DOUBLE, min_y DOUBLE, max_x DOUBLE, max_y DOUBLE,
		srs_id INTEGER REFERENCES gpkg_spatial_ref_sys(srs_id)
	)`,
	`CREATE TABLE gpkg_geometry_columns (
		table_name TEXT NOT NULL,
		column_name TEXT NOT NULL,
		geometry_type_name TEXT NOT NULL,
		srs_id INTEGER NOT NULL REFERENCES gpkg_spatial_ref_sys(srs_id),
		z TINYINT NOT NULL,
		m TINYINT NOT NULL,
		PRIMARY KEY (table_name, column_name)
	)`,
	`CREATE TABLE ` + GeoPackageTable + ` (
		id INTEGER PRIMARY KEY,
		geom POLYGON NOT NULL,
		confidence REAL NOT NULL,
		area REAL NOT NULL,
		source_tile INTEGER NOT NULL
	)`,
}

// WriteGeoPackage writes crowns to a new GeoPackage at path. The file must
// not already contain the GeoPackage tables.
func WriteGeoPackage(path string, crowns []Crown, epsg int) (err error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmts := append([]string{
		fmt.Sprintf("PRAGMA application_id = %d", gpkgApplicationID),
		fmt.Sprintf("PRAGMA user_version = %d", gpkgUserVersion),
	}, gpkgSchema...)
	for _, s := range stmts {
		if _, err = tx.Exec(s); err != nil {
			return fmt.Errorf("creating GeoPackage schema: %w", err)
		}
	}

	srsID := srsUndefinedXY
	if epsg != 0 {
		srsID = epsg
	}
	if err = insertSpatialRefs(tx, epsg); err != nil {
		return err
	}

	var bound orb.Bound
	for i, c := range crowns {
		if i == 0 {
			bound = c.Polygon.Bound()
		} else {
			bound = bound.Union(c.Polygon.Bound())
		}
	}

	if _, err = tx.Exec(`INSERT INTO gpkg_contents
		(table_name, data_type, identifier, description, min_x, min_y, max_x, max_y, srs_id)
		VALUES (?, 'features', ?, 'Detected tree crowns', ?, ?, ?, ?, ?)`,
		GeoPackageTable, GeoPackageTable,
		bound.Min[0], bound.Min[1], bound.Max[0], bound.Max[1], srsID); err != nil {
		return fmt.Errorf("registering layer: %w", err)
	}
	if _, err = tx.Exec(`INSERT INTO gpkg_geometry_columns
		(table_name, column_name, geometry_type_name, srs_id, z, m)
		VALUES (?, 'geom', 'POLYGON', ?, 0, 0)`, GeoPackageTable, srsID); err != nil {
		return fmt.Errorf("registering geometry column: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO ` + GeoPackageTable +
		` (id, geom, confidence, area, source_tile) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range crowns {
		blob, encErr := encodeGeoPackageGeometry(c.Polygon, srsID)
		if encErr != nil {
			err = fmt.Errorf("crown %d: %w", c.ID, encErr)
			return err
		}
		if _, err = stmt.Exec(c.ID, blob, c.Confidence, c.Area(), c.SourceTileID); err != nil {
			return fmt.Errorf("inserting crown %d: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

func insertSpatialRefs(tx *sql.Tx, epsg int) error {
	rows := [][]any{
		{"Undefined cartesian SRS", srsUndefinedXY, "NONE", srsUndefinedXY, "undefined", "undefined cartesian coordinate reference system"},
		{"Undefined geographic SRS", srsUndefinedGeo, "NONE", srsUndefinedGeo, "undefined", "undefined geographic coordinate reference system"},
		{"WGS 84 geodetic", 4326, "EPSG", 4326, wgs84WKT, "longitude/latitude coordinates in decimal degrees on the WGS 84 spheroid"},
	}
	if epsg != 0 && epsg != 4326 {
		rows = append(rows, []any{fmt.Sprintf("EPSG:%d", epsg), epsg, "EPSG", epsg, "undefined", nil})
	}
	for _, r := range rows {
		if _, err := tx.Exec(`INSERT INTO gpkg_spatial_ref_sys
			(srs_name, srs_id, organization, organization_coordsys_id, definition, description)
			VALUES (?, ?, ?, ?, ?, ?)`, r...); err != nil {
			return fmt.Errorf("registering spatial reference: %w", err)
		}
	}
	return nil
}

const wgs84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563,AUTHORITY["EPSG","7030"]],AUTHORITY["EPSG","6326"]],PRIMEM["Greenwich",0,AUTHORITY["EPSG","8901"]],UNIT["degree",0.0174532925199433,AUTHORITY["EPSG","9122"]],AUTHORITY["EPSG","4326"]]`

// encodeGeoPackageGeometry builds a GeoPackage binary geometry: the "GP"
// header with a little-endian XY envelope followed by standard WKB.
func encodeGeoPackageGeometry(r Ring, srsID int) ([]byte, error) {
	body, err := wkb.Marshal(r.Polygon(), binary.LittleEndian)
	if err != nil {
		return nil, err
	}
	b := r.Bound()

	header := make([]byte, 8+32)
	header[0], header[1] = 'G', 'P'
	header[2] = 0    // version 1
	header[3] = 0x03 // little endian, XY envelope
	binary.LittleEndian.PutUint32(header[4:], uint32(int32(srsID)))
	for i, v := range []float64{b.Min[0], b.Max[0], b.Min[1], b.Max[1]} {
		binary.LittleEndian.PutUint64(header[8+i*8:], math.Float64bits(v))
	}
	return append(header, body...), nil
}

// decodeGeoPackageGeometry returns the geometry of a GeoPackage blob.
func decodeGeoPackageGeometry(blob []byte) (orb.Geometry, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return nil, errors.New("not a GeoPackage geometry")
	}
	var envelope int
	switch (blob[3] >> 1) & 0x07 {
	case 0:
	case 1:
		envelope = 32
	case 2, 3:
		envelope = 48
	case 4:
		envelope = 64
	default:
		return nil, errors.New("invalid GeoPackage envelope indicator")
	}
	if len(blob) < 8+envelope {
		return nil, errors.New("truncated GeoPackage geometry")
	}
	return wkb.Unmarshal(blob[8+envelope:])
}

// ReadGeoPackage loads the crown layer of a GeoPackage written by
// WriteGeoPackage, with the EPSG code registered for its geometry column.
func ReadGeoPackage(path string) (*VectorLayer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer db.Close()

	layer := &VectorLayer{}
	var (
		org  string
		code int
	)
	err = db.QueryRow(`SELECT s.organization, s.organization_coordsys_id
		FROM gpkg_geometry_columns g JOIN gpkg_spatial_ref_sys s ON s.srs_id = g.srs_id
		WHERE g.table_name = ?`, GeoPackageTable).Scan(&org, &code)
	if err != nil {
		return nil, fmt.Errorf("reading spatial reference of %s: %w", path, err)
	}
	if strings.EqualFold(org, "EPSG") && code > 0 {
		layer.EPSG = code
	}

	rows, err := db.Query(`SELECT id, geom, confidence, source_tile FROM ` + GeoPackageTable + ` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", path, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c    Crown
			blob []byte
		)
		if err := rows.Scan(&c.ID, &blob, &c.Confidence, &c.SourceTileID); err != nil {
			return nil, err
		}
		geom, err := decodeGeoPackageGeometry(blob)
		if err != nil {
			return nil, fmt.Errorf("crown %d: %w", c.ID, err)
		}
		poly, ok := geom.(orb.Polygon)
		if !ok || len(poly) == 0 {
			return nil, fmt.Errorf("crown %d: geometry is %s, want Polygon", c.ID, geom.GeoJSONType())
		}
		if c.Polygon, err = RingFromOrb(poly[0]); err != nil {
			return nil, fmt.Errorf("crown %d: %w", c.ID, err)
		}
		layer.Crowns = append(layer.Crowns, c)
	}
	return layer, rows.Err()
}
