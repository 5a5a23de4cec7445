package canopy

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// DefaultPreviewSize is the longest side of a rendered preview, in pixels.
const DefaultPreviewSize = 1024

var (
	lowConfidence  = colorful.Color{R: 0.84, G: 0.19, B: 0.15}
	highConfidence = colorful.Color{R: 0.10, G: 0.60, B: 0.31}
)

// ConfidenceColor maps a confidence in [0, 1] onto a red to green ramp.
func ConfidenceColor(confidence float64, alpha uint8) color.NRGBA {
	t := math.Max(0, math.Min(1, confidence))
	r, g, b := lowConfidence.BlendHcl(highConfidence, t).Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: alpha}
}

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
// This is needed for the canvas library which expects premultiplied RGBA
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// PreviewRenderer draws a crown layer in the raster's pixel frame, either
// over a downscaled copy of the raster (PNG) or on its own (SVG).
type PreviewRenderer struct {
	Crowns      []Crown
	Transform   AffineMatrix // raster pixel -> geo
	Width       int          // raster width in pixels
	Height      int          // raster height in pixels
	Background  image.Image  // optional; the full-resolution raster
	MaxSize     int
	FillAlpha   uint8
	StrokeWidth float64
}

// NewPreviewRenderer prepares a preview of a run result. background may be
// nil.
func NewPreviewRenderer(result *Result, background image.Image) *PreviewRenderer {
	return &PreviewRenderer{
		Crowns:      result.Crowns,
		Transform:   result.Transform,
		Width:       result.Width,
		Height:      result.Height,
		Background:  background,
		MaxSize:     DefaultPreviewSize,
		FillAlpha:   110,
		StrokeWidth: 1.5,
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// size returns the preview dimensions and the pixel scale factor.
func (r *PreviewRenderer) size() (int, int, float64) {
	scale := 1.0
	if longest := max(r.Width, r.Height); r.MaxSize > 0 && longest > r.MaxSize {
		scale = float64(r.MaxSize) / float64(longest)
	}
	w := max(1, int(math.Round(float64(r.Width)*scale)))
	h := max(1, int(math.Round(float64(r.Height)*scale)))
	return w, h, scale
}

// RenderToPNG writes the preview as a PNG to the provided writer
func (r *PreviewRenderer) RenderToPNG(w io.Writer) error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("render preview: empty raster")
	}
	width, height, scale := r.size()

	// One canvas unit per output pixel.
	rast := rasterizer.New(float64(width), float64(height), canvas.DPMM(1.0), canvas.DefaultColorSpace)
	if r.Background == nil {
		bgStyle := canvas.DefaultStyle
		bgStyle.Fill = canvas.Paint{Color: canvas.White}
		rast.RenderPath(canvas.Rectangle(float64(width), float64(height)), bgStyle, canvas.Identity)
	}
	if err := r.renderCrowns(rast, float64(height), scale); err != nil {
		return err
	}

	if r.Background == nil {
		return png.Encode(w, rast)
	}
	bg := imaging.Resize(r.Background, width, height, imaging.Linear)
	return png.Encode(w, imaging.Overlay(bg, rast, image.Pt(0, 0), 1.0))
}

// RenderToSVG writes the crown outlines as an SVG to the provided writer
func (r *PreviewRenderer) RenderToSVG(w io.Writer) error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("render preview: empty raster")
	}
	width, height, scale := r.size()

	svgRenderer := svg.New(w, float64(width), float64(height), nil)
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	svgRenderer.RenderPath(canvas.Rectangle(float64(width), float64(height)), bgStyle, canvas.Identity)

	if err := r.renderCrowns(svgRenderer, float64(height), scale); err != nil {
		return err
	}
	return svgRenderer.Close()
}

// renderCrowns draws every crown. Canvas y grows upwards, pixel rows grow
// downwards.
func (r *PreviewRenderer) renderCrowns(renderer canvasRenderer, height, scale float64) error {
	inv, err := InvertMatrix(r.Transform)
	if err != nil {
		return fmt.Errorf("render preview: %w", err)
	}

	for _, c := range r.Crowns {
		fill := ConfidenceColor(c.Confidence, r.FillAlpha)
		stroke := ConfidenceColor(c.Confidence, 255)

		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: nrgbaToRGBA(fill)}
		style.Stroke = canvas.Paint{Color: nrgbaToRGBA(stroke)}
		style.StrokeWidth = r.StrokeWidth

		cp := &canvas.Path{}
		for i, p := range c.Polygon {
			px := TransformPoint(p, inv)
			x, y := px.X*scale, height-px.Y*scale
			if i == 0 {
				cp.MoveTo(x, y)
			} else {
				cp.LineTo(x, y)
			}
		}
		cp.Close()
		renderer.RenderPath(cp, style, canvas.Identity)
	}
	return nil
}
