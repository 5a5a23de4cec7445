package canopy

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// TIFF tags and GeoKeys consulted when geo-referencing a raster.
const (
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735

	keyRasterType     = 1025
	keyGeographicType = 2048
	keyProjectedType  = 3072

	rasterPixelIsPoint = 2
	userDefinedCode    = 32767
)

// TIFF field types.
const (
	tiffShort  = 3
	tiffLong   = 4
	tiffDouble = 12
)

// geoReference is the geo-referencing found for a raster file.
type geoReference struct {
	transform AffineMatrix
	epsg      int
	found     bool
}

// resolveGeoReference looks for GeoTIFF tags first and a world file second.
func resolveGeoReference(path string) (geoReference, error) {
	ref, err := readGeoTIFF(path)
	if err != nil {
		return geoReference{}, err
	}
	if ref.found {
		return ref, nil
	}
	return readWorldFile(path)
}

type ifdEntry struct {
	tag   uint16
	typ   uint16
	count uint32
	value []byte // the raw 4-byte value/offset field
}

// readGeoTIFF reads the model transform and EPSG code from the first IFD of
// a classic TIFF. Files that are not TIFFs, and TIFFs without model tags,
// report found=false.
func readGeoTIFF(path string) (geoReference, error) {
	file, err := os.Open(path)
	if err != nil {
		return geoReference{}, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return geoReference{}, err
	}
	f := io.NewSectionReader(file, 0, info.Size())

	header := make([]byte, 8)
	if _, err := io.ReadFull(f, header); err != nil {
		return geoReference{}, nil
	}

	var order binary.ByteOrder
	switch string(header[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return geoReference{}, nil
	}
	if order.Uint16(header[2:4]) != 42 {
		return geoReference{}, nil
	}

	entries, err := readIFD(f, order, int64(order.Uint32(header[4:8])))
	if err != nil {
		return geoReference{}, fmt.Errorf("reading TIFF directory: %w", err)
	}

	var (
		transformation, tiepoint, scale []float64
		keys                            []uint16
	)
	for _, e := range entries {
		switch e.tag {
		case tagModelTransformation:
			transformation, err = readDoubles(f, order, e)
		case tagModelTiepoint:
			tiepoint, err = readDoubles(f, order, e)
		case tagModelPixelScale:
			scale, err = readDoubles(f, order, e)
		case tagGeoKeyDirectory:
			keys, err = readShorts(f, order, e)
		}
		if err != nil {
			return geoReference{}, fmt.Errorf("reading tag %d: %w", e.tag, err)
		}
	}

	var ref geoReference
	switch {
	case len(transformation) >= 16:
		ref.transform = AffineMatrix{
			A: transformation[0], B: transformation[1], Tx: transformation[3],
			C: transformation[4], D: transformation[5], Ty: transformation[7],
		}
		ref.found = true
	case len(tiepoint) >= 6 && len(scale) >= 2:
		i, j, x, y := tiepoint[0], tiepoint[1], tiepoint[3], tiepoint[4]
		sx, sy := scale[0], scale[1]
		ref.transform = AffineMatrix{
			A: sx, B: 0, Tx: x - i*sx,
			C: 0, D: -sy, Ty: y + j*sy,
		}
		ref.found = true
	default:
		return geoReference{}, nil
	}

	geoKeys := parseGeoKeys(keys)
	if geoKeys[keyRasterType] == rasterPixelIsPoint {
		// Model coordinates name pixel centres; shift to the corner.
		m := ref.transform
		ref.transform.Tx -= (m.A + m.B) / 2
		ref.transform.Ty -= (m.C + m.D) / 2
	}
	if code := int(geoKeys[keyProjectedType]); code != 0 && code != userDefinedCode {
		ref.epsg = code
	} else if code := int(geoKeys[keyGeographicType]); code != 0 && code != userDefinedCode {
		ref.epsg = code
	}

	if !ref.transform.Invertible() {
		return geoReference{}, errors.New("GeoTIFF transform is singular")
	}
	return ref, nil
}

func readIFD(r *io.SectionReader, order binary.ByteOrder, offset int64) ([]ifdEntry, error) {
	countBuf := make([]byte, 2)
	if _, err := r.ReadAt(countBuf, offset); err != nil {
		return nil, err
	}
	n := int(order.Uint16(countBuf))
	if offset+2+int64(n)*12 > r.Size() {
		return nil, fmt.Errorf("directory of %d entries at offset %d exceeds file size %d", n, offset, r.Size())
	}

	buf := make([]byte, n*12)
	if _, err := r.ReadAt(buf, offset+2); err != nil {
		return nil, err
	}
	entries := make([]ifdEntry, n)
	for i := range entries {
		b := buf[i*12 : (i+1)*12]
		entries[i] = ifdEntry{
			tag:   order.Uint16(b[0:2]),
			typ:   order.Uint16(b[2:4]),
			count: order.Uint32(b[4:8]),
			value: b[8:12],
		}
	}
	return entries, nil
}

// entryData returns the bytes of an entry's values, following the offset
// when they do not fit in the entry itself. Values must lie inside the file.
func entryData(r *io.SectionReader, order binary.ByteOrder, e ifdEntry, size int) ([]byte, error) {
	total := int64(e.count) * int64(size)
	if total <= 4 {
		return e.value[:total], nil
	}
	offset := int64(order.Uint32(e.value))
	if offset+total > r.Size() {
		return nil, fmt.Errorf("%d values at offset %d exceed file size %d", e.count, offset, r.Size())
	}
	data := make([]byte, total)
	if _, err := r.ReadAt(data, offset); err != nil {
		return nil, err
	}
	return data, nil
}

func readDoubles(r *io.SectionReader, order binary.ByteOrder, e ifdEntry) ([]float64, error) {
	if e.typ != tiffDouble {
		return nil, fmt.Errorf("unexpected field type %d", e.typ)
	}
	data, err := entryData(r, order, e, 8)
	if err != nil {
		return nil, err
	}
	out := make([]float64, e.count)
	for i := range out {
		bits := order.Uint64(data[i*8:])
		out[i] = math.Float64frombits(bits)
	}
	return out, nil
}

func readShorts(r *io.SectionReader, order binary.ByteOrder, e ifdEntry) ([]uint16, error) {
	switch e.typ {
	case tiffShort:
		data, err := entryData(r, order, e, 2)
		if err != nil {
			return nil, err
		}
		out := make([]uint16, e.count)
		for i := range out {
			out[i] = order.Uint16(data[i*2:])
		}
		return out, nil
	case tiffLong:
		data, err := entryData(r, order, e, 4)
		if err != nil {
			return nil, err
		}
		out := make([]uint16, e.count)
		for i := range out {
			out[i] = uint16(order.Uint32(data[i*4:]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected field type %d", e.typ)
	}
}

// parseGeoKeys returns the inline SHORT values of a GeoKeyDirectory.
// Keys stored in other tags are skipped; none of the keys used here are.
func parseGeoKeys(dir []uint16) map[uint16]uint16 {
	keys := make(map[uint16]uint16)
	if len(dir) < 4 {
		return keys
	}
	n := int(dir[3])
	for i := 0; i < n; i++ {
		base := 4 + i*4
		if base+4 > len(dir) {
			break
		}
		id, location, value := dir[base], dir[base+1], dir[base+3]
		if location == 0 {
			keys[id] = value
		}
	}
	return keys
}
