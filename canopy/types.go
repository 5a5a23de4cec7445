package canopy

import "image"

// Point represents a 2D coordinate. In pixel space X is the column and Y the
// row; in geographic space X is easting/longitude and Y northing/latitude.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AffineMatrix for 2D transforms: x' = ax + by + tx, y' = cx + dy + ty
type AffineMatrix struct {
	A  float64 `json:"a"`
	B  float64 `json:"b"`
	Tx float64 `json:"tx"`
	C  float64 `json:"c"`
	D  float64 `json:"d"`
	Ty float64 `json:"ty"`
}

// Identity returns an identity matrix (no transformation)
func Identity() AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: 0, C: 0, D: 1, Ty: 0}
}

// Window is a pixel-space rectangle of a raster.
type Window struct {
	ColOff int `json:"colOff"`
	RowOff int `json:"rowOff"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect returns the window as an image.Rectangle in raster pixel coordinates.
func (w Window) Rect() image.Rectangle {
	return image.Rect(w.ColOff, w.RowOff, w.ColOff+w.Width, w.RowOff+w.Height)
}

// Area returns the number of pixels covered by the window.
func (w Window) Area() int {
	return w.Width * w.Height
}

// Empty reports whether the window covers no pixels.
func (w Window) Empty() bool {
	return w.Width <= 0 || w.Height <= 0
}

// TileWindow is one overlapping tile of the raster. Bounds is the buffered
// window handed to the detector; Core is the non-overlapping region the tile
// is responsible for. Transform maps pixels relative to the Bounds origin
// to geographic coordinates.
type TileWindow struct {
	ID        int          `json:"id"`
	GridRow   int          `json:"gridRow"`
	GridCol   int          `json:"gridCol"`
	Bounds    Window       `json:"bounds"`
	Core      Window       `json:"core"`
	Buffer    int          `json:"buffer"`
	Transform AffineMatrix `json:"transform"`
	Neighbors []int        `json:"neighbors"`
}

// Detection is one pixel-space polygon reported by a detector for a tile.
// Coordinates are relative to the tile's own pixel origin.
type Detection struct {
	Polygon    []Point `json:"polygon"`
	Confidence float64 `json:"confidence"`
}

// GeoCrown is a detection projected into geographic coordinates.
type GeoCrown struct {
	Polygon      Ring    `json:"polygon"`
	Confidence   float64 `json:"confidence"`
	SourceTileID int     `json:"sourceTileId"`
}

// Crown is one tree crown of the final layer.
type Crown struct {
	ID           int     `json:"id"`
	Polygon      Ring    `json:"polygon"`
	Confidence   float64 `json:"confidence"`
	SourceTileID int     `json:"sourceTileId"`
}

// Area returns the planar area of the crown polygon.
func (c Crown) Area() float64 {
	return c.Polygon.Area()
}
