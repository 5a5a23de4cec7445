package canopy

import (
	"fmt"
	"math"
)

// TransformPoint applies an affine transform to a point
// x' = a*x + b*y + tx
// y' = c*x + d*y + ty
func TransformPoint(p Point, m AffineMatrix) Point {
	return Point{
		X: m.A*p.X + m.B*p.Y + m.Tx,
		Y: m.C*p.X + m.D*p.Y + m.Ty,
	}
}

// TransformPoints applies an affine transform to multiple points
func TransformPoints(points []Point, m AffineMatrix) []Point {
	result := make([]Point, len(points))
	for i, p := range points {
		result[i] = TransformPoint(p, m)
	}
	return result
}

// MultiplyMatrices composes two affine transforms: result = m1 * m2
// Applying result is equivalent to applying m2 first, then m1
func MultiplyMatrices(m1, m2 AffineMatrix) AffineMatrix {
	return AffineMatrix{
		A:  m1.A*m2.A + m1.B*m2.C,
		B:  m1.A*m2.B + m1.B*m2.D,
		Tx: m1.A*m2.Tx + m1.B*m2.Ty + m1.Tx,
		C:  m1.C*m2.A + m1.D*m2.C,
		D:  m1.C*m2.B + m1.D*m2.D,
		Ty: m1.C*m2.Tx + m1.D*m2.Ty + m1.Ty,
	}
}

// Determinant returns the determinant of the linear part of the transform.
func (m AffineMatrix) Determinant() float64 {
	return m.A*m.D - m.B*m.C
}

// Invertible reports whether the transform has a usable inverse.
func (m AffineMatrix) Invertible() bool {
	return math.Abs(m.Determinant()) > 1e-18
}

// InvertMatrix computes the inverse of an affine transform
// Returns an error if the matrix is singular
func InvertMatrix(m AffineMatrix) (AffineMatrix, error) {
	if !m.Invertible() {
		return AffineMatrix{}, fmt.Errorf("affine transform is singular (det=%g)", m.Determinant())
	}

	invDet := 1.0 / m.Determinant()
	return AffineMatrix{
		A:  m.D * invDet,
		B:  -m.B * invDet,
		Tx: (m.B*m.Ty - m.D*m.Tx) * invDet,
		C:  -m.C * invDet,
		D:  m.A * invDet,
		Ty: (m.C*m.Tx - m.A*m.Ty) * invDet,
	}, nil
}

// Translation creates a translation-only transform
func Translation(tx, ty float64) AffineMatrix {
	return AffineMatrix{A: 1, B: 0, Tx: tx, C: 0, D: 1, Ty: ty}
}

// FromGDAL builds a transform from a GDAL-ordered geotransform
// [x0, dx, rx, y0, ry, dy]:
//
//	X = x0 + col*dx + row*rx
//	Y = y0 + col*ry + row*dy
func FromGDAL(gt [6]float64) AffineMatrix {
	return AffineMatrix{A: gt[1], B: gt[2], Tx: gt[0], C: gt[4], D: gt[5], Ty: gt[3]}
}

// GDAL returns the transform as a GDAL-ordered geotransform.
func (m AffineMatrix) GDAL() [6]float64 {
	return [6]float64{m.Tx, m.A, m.B, m.Ty, m.C, m.D}
}

// PixelSize returns the ground size of one pixel along columns and rows.
func (m AffineMatrix) PixelSize() (float64, float64) {
	return math.Hypot(m.A, m.C), math.Hypot(m.B, m.D)
}

// ToGeo maps a pixel (col, row) to geographic coordinates.
func (m AffineMatrix) ToGeo(col, row float64) Point {
	return TransformPoint(Point{X: col, Y: row}, m)
}

// ToPixel maps a geographic point back to fractional pixel (col, row).
func (m AffineMatrix) ToPixel(p Point) (Point, error) {
	inv, err := InvertMatrix(m)
	if err != nil {
		return Point{}, err
	}
	return TransformPoint(p, inv), nil
}

// Offset returns the transform of a sub-window whose pixel origin sits at
// (colOff, rowOff) of the parent grid.
func (m AffineMatrix) Offset(colOff, rowOff int) AffineMatrix {
	return MultiplyMatrices(m, Translation(float64(colOff), float64(rowOff)))
}
