// Package watermark stamps a brand line and a domain line onto the top-right
// corner of generated images.
package watermark

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

var (
	brandColor  = color.NRGBA{R: 255, G: 255, B: 255, A: 178}
	domainColor = color.NRGBA{R: 255, G: 255, B: 255, A: 153}
)

// DefaultMaxPixels bounds the decoded canvas to roughly 200MB of RGBA.
const DefaultMaxPixels = 50_000_000

// ErrTooLarge is returned for images whose header declares more pixels than
// the Watermarker accepts.
var ErrTooLarge = errors.New("watermark: image too large")

// Watermarker renders Text and Domain onto images.
type Watermarker struct {
	Text   string
	Domain string
	// MaxPixels caps width*height; zero or less disables the check.
	MaxPixels int
	face      *basicfont.Face
}

// New returns a Watermarker for the given lines.
func New(text, domain string) *Watermarker {
	return &Watermarker{Text: text, Domain: domain, MaxPixels: DefaultMaxPixels, face: basicfont.Face7x13}
}

// Apply decodes data, draws the watermark and re-encodes it. JPEG input stays
// JPEG; everything else is written as PNG.
func (w *Watermarker) Apply(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("watermark: decode config: %w", err)
	}
	if w.MaxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(w.MaxPixels) {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooLarge, cfg.Width, cfg.Height)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("watermark: decode: %w", err)
	}
	bounds := src.Bounds()
	width := bounds.Dx()
	if width == 0 || bounds.Dy() == 0 {
		return nil, errors.New("watermark: empty image")
	}

	fontSize := max(width/25, 16)
	padding := width / 50

	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	right := bounds.Max.X - padding
	top := bounds.Min.Y + padding
	if w.Text != "" {
		w.drawLine(canvas, w.Text, fontSize, brandColor, right, top)
	}
	if w.Domain != "" {
		w.drawLine(canvas, w.Domain, fontSize*7/10, domainColor, right, top+fontSize+fontSize/5)
	}

	var out bytes.Buffer
	if format == "jpeg" {
		err = jpeg.Encode(&out, canvas, &jpeg.Options{Quality: 92})
	} else {
		err = png.Encode(&out, canvas)
	}
	if err != nil {
		return nil, fmt.Errorf("watermark: encode: %w", err)
	}
	return out.Bytes(), nil
}

// drawLine renders text right-aligned at right with its top edge at top,
// scaled so the glyph box is size pixels tall.
func (w *Watermarker) drawLine(dst *image.RGBA, text string, size int, c color.Color, right, top int) {
	d := &font.Drawer{Face: w.face}
	advance := d.MeasureString(text).Ceil()
	height := w.face.Height
	if advance == 0 || height == 0 || size <= 0 {
		return
	}

	glyphs := image.NewAlpha(image.Rect(0, 0, advance, height))
	d.Dst = glyphs
	d.Src = image.Opaque
	d.Dot = fixed.P(0, w.face.Ascent)
	d.DrawString(text)

	scaledWidth := advance * size / height
	scaled := image.NewAlpha(image.Rect(0, 0, scaledWidth, size))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), glyphs, glyphs.Bounds(), draw.Src, nil)

	target := image.Rect(right-scaledWidth, top, right, top+size)
	draw.DrawMask(dst, target, image.NewUniform(c), image.Point{}, scaled, image.Point{}, draw.Over)
}
