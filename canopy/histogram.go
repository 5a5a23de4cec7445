package canopy

import (
	"errors"
	"fmt"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// histogramBins is the number of confidence bins over [0, 1].
const histogramBins = 20

// ErrNoCrowns is returned when there is nothing to plot.
var ErrNoCrowns = errors.New("no crowns")

// WriteConfidenceHistogram writes a PNG histogram of crown confidences.
func WriteConfidenceHistogram(w io.Writer, crowns []Crown) error {
	if len(crowns) == 0 {
		return fmt.Errorf("confidence histogram: %w", ErrNoCrowns)
	}

	values := make(plotter.Values, len(crowns))
	for i, c := range crowns {
		values[i] = c.Confidence
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Crown confidence (n=%d)", len(crowns))
	p.X.Label.Text = "Confidence"
	p.Y.Label.Text = "Crowns"
	p.X.Min, p.X.Max = 0, 1

	hist, err := plotter.NewHist(values, histogramBins)
	if err != nil {
		return fmt.Errorf("confidence histogram: %w", err)
	}
	hist.FillColor = ConfidenceColor(0.75, 255)
	hist.LineStyle.Width = vg.Points(0.5)
	p.Add(hist)

	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("confidence histogram: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
