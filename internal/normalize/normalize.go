// Package normalize prepares uploaded score files for the recognition engine.
//
// Raster images pass through untouched, PDFs are validated and passed through,
// and SVG files are rasterized to PNG on an opaque white background.
package normalize

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	"github.com/spewite/score-to-midi/internal/scoreerr"
	"github.com/spewite/score-to-midi/internal/validation"
	"github.com/spewite/score-to-midi/internal/workspace"
)

const stage = "normalizing"

// Format classifies an input file by extension.
type Format string

const (
	FormatRaster   Format = "raster"
	FormatVector   Format = "vector"
	FormatDocument Format = "document"
	FormatUnknown  Format = "unknown"
)

// DetectFormat maps a file extension to its Format.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp":
		return FormatRaster
	case ".svg":
		return FormatVector
	case ".pdf":
		return FormatDocument
	default:
		return FormatUnknown
	}
}

// Normalizer renders vector input into raster images.
type Normalizer struct {
	// MinWidth upscales small SVG documents so staff lines stay readable. Zero disables scaling.
	MinWidth int

	// MaxPixels caps both rendered dimensions. Upscaling stops at the cap and
	// a document larger than the cap at its own size is rejected. Zero selects
	// the upload limit, validation.DefaultMaxPixels.
	MaxPixels int
}

// New creates a normalizer with the default minimum render width.
func New() *Normalizer {
	return &Normalizer{MinWidth: 2000, MaxPixels: validation.DefaultMaxPixels}
}

// Normalize returns a path the recognition engine can read. Vector input is
// rendered to {stem}.png beside the original; anything else is returned as is.
func (n *Normalizer) Normalize(ctx context.Context, inputPath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", scoreerr.New(stage, scoreerr.ErrUnclassified, err)
	}
	if _, err := os.Stat(inputPath); err != nil {
		return "", scoreerr.New(stage, scoreerr.ErrUnclassified, fmt.Errorf("input %s: %w", inputPath, err))
	}

	switch DetectFormat(inputPath) {
	case FormatVector:
		pngPath := filepath.Join(filepath.Dir(inputPath), workspace.Stem(inputPath)+".png")
		if err := n.RasterizeSVG(inputPath, pngPath); err != nil {
			return "", scoreerr.New(stage, scoreerr.ErrUnclassified, err)
		}
		log.Printf("Rasterized %s to %s", filepath.Base(inputPath), filepath.Base(pngPath))
		return pngPath, nil
	case FormatDocument:
		pages, err := InspectPDF(inputPath)
		if err != nil {
			return "", scoreerr.New(stage, scoreerr.ErrUnclassified, err)
		}
		log.Printf("PDF %s validated, %d page(s)", filepath.Base(inputPath), pages)
		return inputPath, nil
	default:
		return inputPath, nil
	}
}

// RasterizeSVG renders an SVG file to a PNG flattened onto opaque white, so
// transparent regions cannot be mistaken for ink by the recognizer.
func (n *Normalizer) RasterizeSVG(svgPath, pngPath string) error {
	f, err := os.Open(svgPath)
	if err != nil {
		return fmt.Errorf("failed to open svg: %w", err)
	}
	defer f.Close()

	icon, err := oksvg.ReadIconStream(f)
	if err != nil {
		return fmt.Errorf("failed to parse svg: %w", err)
	}

	width, height, err := n.renderSize(icon.ViewBox.W, icon.ViewBox.H)
	if err != nil {
		return fmt.Errorf("svg %s: %w", filepath.Base(svgPath), err)
	}
	icon.SetTarget(0, 0, float64(width), float64(height))

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	scanner := rasterx.NewScannerGV(width, height, canvas, canvas.Bounds())
	icon.Draw(rasterx.NewDasher(width, height, scanner), 1)

	flattened := imaging.Overlay(imaging.New(width, height, color.White), canvas, image.Pt(0, 0), 1.0)
	if err := imaging.Save(flattened, pngPath); err != nil {
		return fmt.Errorf("failed to write png: %w", err)
	}
	return nil
}

// renderSize picks the raster size for a view box of w by h. The canvas is
// allocated in full, so the result never exceeds MaxPixels on either side.
func (n *Normalizer) renderSize(w, h float64) (int, int, error) {
	if w <= 0 || h <= 0 || math.IsNaN(w) || math.IsNaN(h) || math.IsInf(w, 0) || math.IsInf(h, 0) {
		return 0, 0, fmt.Errorf("no usable view box")
	}
	limit := float64(n.MaxPixels)
	if limit <= 0 {
		limit = validation.DefaultMaxPixels
	}

	scale := 1.0
	if n.MinWidth > 0 && w < float64(n.MinWidth) {
		scale = float64(n.MinWidth) / w
		if fit := limit / math.Max(w, h); fit < scale {
			scale = math.Max(fit, 1)
		}
	}

	rw, rh := w*scale, h*scale
	if rw > limit || rh > limit {
		return 0, 0, fmt.Errorf("rendered size %.0fx%.0f exceeds the %.0fpx limit", rw, rh, limit)
	}
	width, height := int(rw+0.5), int(rh+0.5)
	if width < 1 || height < 1 {
		return 0, 0, fmt.Errorf("view box %gx%g renders to an empty image", w, h)
	}
	return width, height, nil
}

// InspectPDF validates a PDF in relaxed mode and returns its page count.
func InspectPDF(path string) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.ValidateFile(path, cfg); err != nil {
		return 0, fmt.Errorf("invalid pdf: %w", err)
	}
	pages, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	if pages == 0 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return pages, nil
}
