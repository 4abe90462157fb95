// Package convert turns ordered image sets into a single PDF and PDFs into
// zipped page images.
//
// All format-level work is delegated: pdfcpu handles PDF structure
// (validation, page counting, image import) and MuPDF via go-fitz handles
// page rasterization. The package itself only does validation, ordering,
// scaling policy, packaging and the pipeline run bookkeeping.
//
// Usage:
//
//	svc := convert.New(convert.Config{})
//	out, run, err := svc.RunImagesToPDF(ctx, files, nil)
package convert

import (
	"log/slog"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// A4 portrait in PostScript points, the fixed page size for both engines.
const (
	pageWidth  = 595.28
	pageHeight = 841.89
)

// FallbackImageFormat is applied when an upload carries an unknown or
// ambiguous image content type: it is decoded as JPEG, which is what
// unlabelled camera uploads have turned out to be in practice.
const FallbackImageFormat = "image/jpeg"

// maxImageScale caps the fit-to-page factor: images smaller than the page
// are placed at natural size, never enlarged. Only downscaling happens.
const maxImageScale = 1.0

// Config configures the conversion engine.
type Config struct {
	// MaxImageFiles is the per-run file ceiling for images→PDF (default: 10).
	MaxImageFiles int `json:"max_image_files" yaml:"max_image_files"`

	// MaxImageBytes is the per-file size ceiling for images→PDF (default: 10 MB).
	MaxImageBytes int64 `json:"max_image_bytes" yaml:"max_image_bytes"`

	// MaxPDFBytes is the input size ceiling for PDF→images (default: 50 MB).
	MaxPDFBytes int64 `json:"max_pdf_bytes" yaml:"max_pdf_bytes"`

	// MaxPDFPages is the page ceiling for PDF to images (default: 100).
	// Rendering is the expensive step, so the ceiling is enforced before it.
	MaxPDFPages int `json:"max_pdf_pages" yaml:"max_pdf_pages"`

	// RenderScale is the raster zoom for PDF→images (default: 2.0, ≈144 DPI).
	// Higher values trade memory and time for sharper output.
	RenderScale float64 `json:"render_scale" yaml:"render_scale"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxImageFiles <= 0 {
		c.MaxImageFiles = 10
	}
	if c.MaxImageBytes <= 0 {
		c.MaxImageBytes = 10 * 1024 * 1024
	}
	if c.MaxPDFBytes <= 0 {
		c.MaxPDFBytes = 50 * 1024 * 1024
	}
	if c.MaxPDFPages <= 0 {
		c.MaxPDFPages = 100
	}
	if c.RenderScale <= 0 {
		c.RenderScale = 2.0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Service is the conversion engine. Safe for concurrent use: every run
// works on its own buffers.
type Service struct {
	cfg     Config
	logger  *slog.Logger
	pdfConf *model.Configuration
}

// New creates a Service with the given configuration.
func New(cfg Config) *Service {
	cfg.defaults()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Service{
		cfg:     cfg,
		logger:  cfg.Logger,
		pdfConf: conf,
	}
}

// downloadTimestamp formats t the way download artifacts are named:
// ISO-8601 with ':' and '.' replaced by '-' so the result is a safe
// filename on every platform.
func downloadTimestamp(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05.000Z")
	s = strings.ReplaceAll(s, ":", "-")
	return strings.ReplaceAll(s, ".", "-")
}
