package canopy

import (
	"math"
	"testing"
)

func TestOverlapRatio(t *testing.T) {
	tests := []struct {
		name string
		a, b Ring
		want float64
	}{
		{"identical", rect(0, 0, 10, 10), rect(0, 0, 10, 10), 1},
		{"disjoint", rect(0, 0, 10, 10), rect(20, 20, 5, 5), 0},
		{"touching edge", rect(0, 0, 10, 10), rect(10, 0, 10, 10), 0},
		{"touching corner", rect(0, 0, 10, 10), rect(10, 10, 10, 10), 0},
		{"contained", rect(0, 0, 10, 10), rect(2, 2, 3, 3), 1},
		{"half", rect(0, 0, 10, 10), rect(5, 0, 10, 10), 0.5},
		{"eighty percent", rect(0, 0, 10, 10), rect(2, 0, 10, 10), 0.8},
		{"offset corner", rect(0, 0, 10, 10), rect(5, 5, 10, 10), 0.25},
		{"smaller partly outside", rect(0, 0, 10, 10), rect(8, 0, 4, 4), 0.5},
		{
			name: "triangle in square",
			a:    rect(0, 0, 10, 10),
			b:    MustRing(Point{0, 0}, Point{10, 0}, Point{0, 10}),
			want: 1,
		},
		{
			name: "diamond on corner",
			a:    rect(0, 0, 10, 10),
			b:    MustRing(Point{0, -5}, Point{5, 0}, Point{0, 5}, Point{-5, 0}),
			want: 0.25,
		},
		{
			name: "concave",
			// L-shape of area 75 against the square filling its notch.
			a:    MustRing(Point{0, 0}, Point{10, 0}, Point{10, 5}, Point{5, 5}, Point{5, 10}, Point{0, 10}),
			b:    rect(5, 5, 5, 5),
			want: 0,
		},
		{
			name: "utm coordinates",
			a:    rect(500000, 5400000, 2, 2),
			b:    rect(500001, 5400000, 2, 2),
			want: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OverlapRatio(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("OverlapRatio(a, b) = %v, want %v", got, tt.want)
			}
			if rev := OverlapRatio(tt.b, tt.a); math.Abs(rev-got) > 1e-9 {
				t.Errorf("OverlapRatio is not symmetric: %v vs %v", got, rev)
			}
		})
	}
}

func TestIntersectionArea(t *testing.T) {
	tests := []struct {
		name string
		a, b Ring
		want float64
	}{
		{"half", rect(0, 0, 10, 10), rect(5, 0, 10, 10), 50},
		{"cross", rect(0, 4, 10, 2), rect(4, 0, 2, 10), 4},
		{"disjoint", rect(0, 0, 1, 1), rect(5, 5, 1, 1), 0},
		{
			name: "concave overlap",
			a:    MustRing(Point{0, 0}, Point{10, 0}, Point{10, 5}, Point{5, 5}, Point{5, 10}, Point{0, 10}),
			b:    rect(2, 2, 6, 6),
			want: 27,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IntersectionArea(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("IntersectionArea = %v, want %v", got, tt.want)
			}
		})
	}
}
