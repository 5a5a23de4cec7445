package canopy

import (
	"fmt"
	"image"
	"log"
	"sync"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // Register WebP decoder
)

// Raster is an opened orthomosaic: its decoded pixel grid plus the
// pixel->geo transform. The pixel data is immutable, so windows may be read
// from any number of goroutines.
type Raster struct {
	path          string
	img           image.Image
	transform     AffineMatrix
	epsg          int
	georeferenced bool

	mu     sync.RWMutex
	closed bool
}

// OpenRaster decodes the raster at path (TIFF, PNG, JPEG, BMP, GIF or WebP)
// and resolves its geo-referencing from GeoTIFF tags or a world file. A
// raster without either is opened in pixel coordinates with a warning.
func OpenRaster(path string) (*Raster, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", ErrSourceRead, path, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: %s has no pixels", ErrSourceRead, path)
	}

	ref, err := resolveGeoReference(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading geo-reference of %s: %v", ErrSourceRead, path, err)
	}
	if !ref.found {
		log.Printf("Warning: %s has no geo-reference; crowns will be in pixel coordinates", path)
		ref.transform = Identity()
	}

	return &Raster{
		path:          path,
		img:           img,
		transform:     ref.transform,
		epsg:          ref.epsg,
		georeferenced: ref.found,
	}, nil
}

// NewMemoryRaster wraps an in-memory image with the given transform.
func NewMemoryRaster(img image.Image, transform AffineMatrix, epsg int) *Raster {
	return &Raster{
		path:          "memory",
		img:           img,
		transform:     transform,
		epsg:          epsg,
		georeferenced: true,
	}
}

// Path returns the file the raster was opened from.
func (r *Raster) Path() string { return r.path }

// Width returns the number of pixel columns.
func (r *Raster) Width() int { return r.img.Bounds().Dx() }

// Height returns the number of pixel rows.
func (r *Raster) Height() int { return r.img.Bounds().Dy() }

// Transform returns the pixel->geo transform.
func (r *Raster) Transform() AffineMatrix { return r.transform }

// EPSG returns the EPSG code of the raster's CRS, or 0 if unknown.
func (r *Raster) EPSG() int { return r.epsg }

// Georeferenced reports whether a geo-reference was found.
func (r *Raster) Georeferenced() bool { return r.georeferenced }

// Bands returns the number of channels in the decoded pixel data.
func (r *Raster) Bands() int {
	switch img := r.img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	case *image.YCbCr, *image.Paletted:
		return 3
	case *image.CMYK:
		return 4
	case interface{ Opaque() bool }:
		if img.Opaque() {
			return 3
		}
		return 4
	default:
		return 4
	}
}

// Image returns the full decoded raster.
func (r *Raster) Image() image.Image { return r.img }

// ReadWindow returns a copy of the pixels inside w.
func (r *Raster) ReadWindow(w Window) (*image.NRGBA, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return nil, fmt.Errorf("%w: raster %s is closed", ErrSourceRead, r.path)
	}
	if w.Empty() || w.ColOff < 0 || w.RowOff < 0 ||
		w.ColOff+w.Width > r.Width() || w.RowOff+w.Height > r.Height() {
		return nil, fmt.Errorf("%w: window %+v outside raster %dx%d", ErrSourceRead, w, r.Width(), r.Height())
	}

	origin := r.img.Bounds().Min
	return imaging.Crop(r.img, w.Rect().Add(origin)), nil
}

// Close releases the raster. Reads after Close fail.
func (r *Raster) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
