package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"net/http"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// baseDPI is the PDF user-space resolution; RenderScale multiplies it.
const baseDPI = 72.0

// PDFToImages renders every page of a PDF to a PNG, in ascending order.
// Any single page failure aborts the whole run; a partial page set is
// never returned.
func (s *Service) PDFToImages(ctx context.Context, name string, data []byte) ([]PageImage, error) {
	if _, err := s.ValidatePDF(name, data); err != nil {
		return nil, err
	}
	doc, err := s.openPDF(name, data)
	if err != nil {
		return nil, err
	}
	defer doc.Close()
	return s.renderPages(ctx, doc)
}

// ValidatePDF applies the resource-protection policy before any rendering:
// emptiness, size ceiling, structural validity and page-count ceiling.
// Returns the page count on success.
func (s *Service) ValidatePDF(name string, data []byte) (int, error) {
	if len(data) == 0 {
		return 0, failf(CodeEmptyFile, "Empty file",
			"File %q appears to be empty or corrupted.", name)
	}
	if int64(len(data)) > s.cfg.MaxPDFBytes {
		return 0, failf(CodeFileTooLarge, "File too large",
			"File %q (%dMB) exceeds the %dMB limit.",
			name, len(data)/(1024*1024), s.cfg.MaxPDFBytes/(1024*1024))
	}

	pages, err := api.PageCount(bytes.NewReader(data), s.pdfConf)
	if err != nil {
		return 0, failStatus(CodeInvalidPDF, http.StatusBadRequest,
			"Invalid PDF",
			fmt.Sprintf("File %q is not a valid PDF or is password-protected.", name), err)
	}
	if pages == 0 {
		return 0, failf(CodeEmptyPDF, "Empty PDF",
			"PDF %q contains no pages.", name)
	}
	if pages > s.cfg.MaxPDFPages {
		return 0, failf(CodeTooManyPages, "Too many pages",
			"PDF %q has %d pages. Maximum %d pages allowed.", name, pages, s.cfg.MaxPDFPages)
	}
	return pages, nil
}

// docHandle owns the renderer document for the duration of one run.
type docHandle struct {
	doc *fitz.Document
}

func (d *docHandle) Close() {
	if d != nil && d.doc != nil {
		d.doc.Close()
	}
}

// extract opens the validated PDF for rendering.
func (s *Service) extract(name string, data []byte) (*docHandle, error) {
	doc, err := s.openPDF(name, data)
	if err != nil {
		return nil, err
	}
	return &docHandle{doc: doc}, nil
}

// openPDF hands the document to the renderer. pdfcpu has already accepted
// the file at this point, so a MuPDF failure here still reports
// INVALID_PDF: the two parsers disagree on what is salvageable.
func (s *Service) openPDF(name string, data []byte) (*fitz.Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, failStatus(CodeInvalidPDF, http.StatusBadRequest,
			"Invalid PDF",
			fmt.Sprintf("File %q is not a valid PDF or is password-protected.", name), err)
	}
	return doc, nil
}

// renderPages rasterizes each page at the configured scale onto an opaque
// white background and encodes it as PNG. Honors ctx cancellation between
// pages.
func (s *Service) renderPages(ctx context.Context, doc *fitz.Document) ([]PageImage, error) {
	n := doc.NumPage()
	dpi := baseDPI * s.cfg.RenderScale

	pages := make([]PageImage, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, Classify(err)
		}

		img, err := doc.ImageDPI(i, dpi)
		if err != nil {
			return nil, pageError(i+1, err)
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, flattenWhite(img)); err != nil {
			return nil, pageError(i+1, err)
		}
		if buf.Len() == 0 {
			return nil, pageError(i+1, fmt.Errorf("page %d generated an empty image", i+1))
		}

		pages = append(pages, PageImage{Name: pageFileName(i + 1), Data: buf.Bytes()})
		s.logger.Debug("page rendered", "page", i+1, "of", n, "bytes", buf.Len())
	}
	return pages, nil
}

func pageError(page int, err error) *Error {
	return failStatus(CodePageProcessing, http.StatusInternalServerError,
		"Page processing failed",
		fmt.Sprintf("Failed to process page %d: %v", page, err), err)
}

// pageFileName returns the 1-based, zero-padded name for page n. The
// padding keeps a lexically sorted directory listing in document order.
func pageFileName(n int) string {
	return fmt.Sprintf("page-%03d.png", n)
}

// flattenWhite composites a rendered page onto an opaque white canvas so
// pages with transparency never leak a transparent or black background
// into the PNG.
func flattenWhite(src image.Image) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.White, image.Point{}, draw.Src)
	draw.Draw(dst, b, src, b.Min, draw.Over)
	return dst
}
