// Package validation checks uploads before they reach the conversion pipeline.
package validation

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // Register JPEG decoder
	_ "image/png"  // Register PNG decoder
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/bmp" // Register BMP decoder

	"github.com/spewite/score-to-midi/internal/workspace"
)

const (
	DefaultMaxBytes  = 10 * 1024 * 1024
	DefaultMaxPixels = 7000
)

// AllowedExtensions are the upload extensions the pipeline can normalize.
var AllowedExtensions = map[string]bool{
	".svg":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".bmp":  true,
	".pdf":  true,
}

// AllowedMIMETypes are the sniffed content types accepted.
var AllowedMIMETypes = []string{
	"image/png",
	"image/jpeg",
	"image/svg+xml",
	"image/bmp",
	"application/pdf",
}

// ErrInvalidUpload marks every rejection from Validate.
var ErrInvalidUpload = errors.New("invalid upload")

// ValidationError carries the message shown to the uploader.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrInvalidUpload }

func reject(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// Limits bounds accepted uploads.
type Limits struct {
	MaxBytes  int64
	MaxPixels int
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{MaxBytes: DefaultMaxBytes, MaxPixels: DefaultMaxPixels}
}

// Upload is an accepted upload.
type Upload struct {
	Filename string
	MIME     string
	Width    int
	Height   int
	Pages    int
}

// Validate checks name, size, extension, sniffed content type and raster
// dimensions. r is rewound before returning.
func Validate(filename string, r io.ReadSeeker, size int64, limits Limits) (Upload, error) {
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = DefaultMaxBytes
	}
	if limits.MaxPixels <= 0 {
		limits.MaxPixels = DefaultMaxPixels
	}

	name := workspace.SecureFilename(filename)
	if name == "" {
		return Upload{}, reject("Invalid filename")
	}
	up := Upload{Filename: name}

	if size > limits.MaxBytes {
		return up, reject("File size exceeds maximum allowed size (%dMB)", limits.MaxBytes/1024/1024)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if !AllowedExtensions[ext] {
		return up, reject("File type not allowed. Accepted formats: %s", strings.Join(Extensions(), ", "))
	}

	mt, err := mimetype.DetectReader(r)
	if err != nil {
		return up, fmt.Errorf("failed to detect content type: %w", err)
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return up, fmt.Errorf("failed to rewind upload: %w", err)
	}
	for _, allowed := range AllowedMIMETypes {
		if mt.Is(allowed) {
			up.MIME = allowed
			break
		}
	}
	if up.MIME == "" {
		return up, reject("File content does not match allowed types. Detected: %s", mt.String())
	}

	switch {
	case up.MIME == "application/pdf":
		pages, err := pdfPages(r)
		if err != nil {
			return up, reject("Error validating PDF: %v", err)
		}
		up.Pages = pages
	case up.MIME != "image/svg+xml":
		cfg, _, err := image.DecodeConfig(r)
		if err != nil {
			return up, reject("Error validating image dimensions: %v", err)
		}
		if cfg.Width > limits.MaxPixels || cfg.Height > limits.MaxPixels {
			return up, reject("The uploaded image exceeds the maximum resolution of %dx%d pixels. Please upload a smaller image.", limits.MaxPixels, limits.MaxPixels)
		}
		up.Width, up.Height = cfg.Width, cfg.Height
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return up, fmt.Errorf("failed to rewind upload: %w", err)
	}
	return up, nil
}

func pdfPages(rs io.ReadSeeker) (int, error) {
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	pages, err := api.PageCount(rs, cfg)
	if err != nil {
		return 0, err
	}
	if pages == 0 {
		return 0, errors.New("document has no pages")
	}
	return pages, nil
}

// Extensions returns the allowed extensions in sorted order.
func Extensions() []string {
	exts := make([]string, 0, len(AllowedExtensions))
	for ext := range AllowedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
