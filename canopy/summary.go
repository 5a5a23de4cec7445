package canopy

import (
	"fmt"
	"io"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary reports the counts and confidence statistics of a run.
type Summary struct {
	Tiles       int             `json:"tiles"`
	FailedTiles []int           `json:"failedTiles,omitempty"`
	Detections  int             `json:"detections"`
	Rejected    Rejection       `json:"rejected"`
	Projected   int             `json:"projected"`
	Stitched    int             `json:"stitched"`
	Final       int             `json:"final"`
	Confidence  ConfidenceStats `json:"confidence"`
	TotalArea   float64         `json:"totalArea"`
	Duration    time.Duration   `json:"duration"`
}

// ConfidenceStats describes the distribution of final crown confidences.
// All fields are zero when there are no crowns.
type ConfidenceStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"stdDev"`
}

// NewConfidenceStats computes the statistics of the crowns' confidences.
func NewConfidenceStats(crowns []Crown) ConfidenceStats {
	if len(crowns) == 0 {
		return ConfidenceStats{}
	}
	values := make([]float64, len(crowns))
	for i, c := range crowns {
		values[i] = c.Confidence
	}
	sort.Float64s(values)

	cs := ConfidenceStats{
		Mean:   stat.Mean(values, nil),
		Median: stat.Quantile(0.5, stat.Empirical, values, nil),
		Min:    floats.Min(values),
		Max:    floats.Max(values),
	}
	if len(values) > 1 {
		cs.StdDev = stat.StdDev(values, nil)
	}
	return cs
}

func (s *Summary) fillCrownStats(crowns []Crown) {
	s.Final = len(crowns)
	s.Confidence = NewConfidenceStats(crowns)
	areas := make([]float64, len(crowns))
	for i, c := range crowns {
		areas[i] = c.Area()
	}
	s.TotalArea = floats.Sum(areas)
}

// Print writes a human-readable report.
func (s Summary) Print(w io.Writer) {
	fmt.Fprintf(w, "Tiles:        %d", s.Tiles)
	if len(s.FailedTiles) > 0 {
		fmt.Fprintf(w, " (%d skipped: %v)", len(s.FailedTiles), s.FailedTiles)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Detections:   %d (%d rejected)\n", s.Detections, s.Rejected.Total())
	fmt.Fprintf(w, "Stitched:     %d\n", s.Stitched)
	fmt.Fprintf(w, "Crowns:       %d\n", s.Final)
	if s.Final > 0 {
		fmt.Fprintf(w, "Confidence:   mean %.3f, median %.3f, range [%.3f, %.3f]\n",
			s.Confidence.Mean, s.Confidence.Median, s.Confidence.Min, s.Confidence.Max)
		fmt.Fprintf(w, "Canopy area:  %.2f\n", s.TotalArea)
	}
	if s.Duration > 0 {
		fmt.Fprintf(w, "Duration:     %v\n", s.Duration.Round(time.Millisecond))
	}
}
