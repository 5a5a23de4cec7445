package canopy

import (
	"errors"
	"math"
	"testing"
)

func square(x0, y0, size float64) []Point {
	return []Point{{x0, y0}, {x0 + size, y0}, {x0 + size, y0 + size}, {x0, y0 + size}}
}

func rect(x0, y0, w, h float64) Ring {
	return MustRing(Point{x0, y0}, Point{x0 + w, y0}, Point{x0 + w, y0 + h}, Point{x0, y0 + h})
}

func TestNewRing(t *testing.T) {
	tests := []struct {
		name    string
		points  []Point
		wantErr error
		wantLen int
	}{
		{"ccw square", square(0, 0, 1), nil, 4},
		{"closed square", append(square(0, 0, 1), Point{0, 0}), nil, 4},
		{"consecutive duplicate", []Point{{0, 0}, {1, 0}, {1, 0}, {1, 1}, {0, 1}}, nil, 4},
		{"triangle", []Point{{0, 0}, {4, 0}, {0, 3}}, nil, 3},
		{"two points", []Point{{0, 0}, {1, 1}}, ErrDegenerateGeometry, 0},
		{"repeated points", []Point{{0, 0}, {1, 1}, {0, 0}, {1, 1}}, ErrDegenerateGeometry, 0},
		{"collinear", []Point{{0, 0}, {1, 1}, {2, 2}}, ErrDegenerateGeometry, 0},
		{"bow tie", []Point{{0, 0}, {4, 4}, {4, 0}, {0, 2}}, ErrSelfIntersecting, 0},
		{"nan vertex", []Point{{0, 0}, {1, 0}, {math.NaN(), 1}}, ErrDegenerateGeometry, 0},
		{"spike", []Point{{0, 0}, {4, 0}, {4, 4}, {4, 8}, {4, 4}, {0, 4}}, ErrSelfIntersecting, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRing(tt.points)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NewRing() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRing() unexpected error: %v", err)
			}
			if len(r) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(r), tt.wantLen)
			}
			if signedArea(r) <= 0 {
				t.Error("ring is not counter-clockwise")
			}
		})
	}
}

func TestNewRing_ReversesClockwise(t *testing.T) {
	cw := []Point{{0, 0}, {0, 1}, {1, 1}, {1, 0}}
	r, err := NewRing(cw)
	if err != nil {
		t.Fatal(err)
	}
	if r[0] != (Point{0, 0}) {
		t.Errorf("first vertex moved to %v", r[0])
	}
	want := Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	if !r.Equal(want) {
		t.Errorf("NewRing(cw) = %v, want %v", r, want)
	}
}

func TestRingMeasures(t *testing.T) {
	r := rect(2, 3, 4, 5)
	if got := r.Area(); got != 20 {
		t.Errorf("Area() = %f, want 20", got)
	}
	b := r.Bound()
	if b.Min[0] != 2 || b.Min[1] != 3 || b.Max[0] != 6 || b.Max[1] != 8 {
		t.Errorf("Bound() = %v", b)
	}
	if c := r.Centroid(); !pointsEqual(c, Point{4, 5.5}) {
		t.Errorf("Centroid() = %v, want (4, 5.5)", c)
	}

	closed := r.Orb()
	if len(closed) != 5 || closed[0] != closed[4] {
		t.Errorf("Orb() should be closed, got %v", closed)
	}
	back, err := RingFromOrb(closed)
	if err != nil {
		t.Fatal(err)
	}
	if !back.Equal(r) {
		t.Errorf("RingFromOrb(Orb()) = %v, want %v", back, r)
	}
}

func TestRing_LargeCoordinates(t *testing.T) {
	// A 0.5 m crown in UTM coordinates must not be treated as collapsed.
	r, err := NewRing(square(500123.25, 5400321.75, 0.5))
	if err != nil {
		t.Fatalf("NewRing failed: %v", err)
	}
	if math.Abs(r.Area()-0.25) > 1e-9 {
		t.Errorf("Area() = %f, want 0.25", r.Area())
	}
}
