package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// ImagesToPDF converts an ordered list of JPEG/PNG files into a single PDF
// with one centered page per image, in input order. Any file that fails to
// decode or import aborts the whole run naming the file; a partial PDF is
// never returned.
func (s *Service) ImagesToPDF(ctx context.Context, files []InputFile) ([]byte, error) {
	if err := s.ValidateImages(files); err != nil {
		return nil, err
	}
	descs, err := s.placeImages(files)
	if err != nil {
		return nil, err
	}
	return s.buildPDF(ctx, files, descs)
}

// ValidateImages applies the intake contract before any processing begins:
// count ceiling, per-file type, size and emptiness. First failure wins and
// nothing has been touched yet.
func (s *Service) ValidateImages(files []InputFile) error {
	if len(files) == 0 {
		return failf(CodeNoFiles, "No files provided",
			"Please select at least one image file to convert.")
	}
	if len(files) > s.cfg.MaxImageFiles {
		return failf(CodeTooManyFiles, "Too many files",
			"Maximum %d files allowed per conversion.", s.cfg.MaxImageFiles)
	}
	for _, f := range files {
		if !validImageType(f.MIMEType) {
			e := failf(CodeInvalidFileType, fmt.Sprintf("Invalid file type: %s", f.MIMEType),
				"File %q is not a supported image format. Only JPG and PNG files are allowed.", f.Name)
			return e
		}
		if int64(len(f.Data)) > s.cfg.MaxImageBytes {
			return failf(CodeFileTooLarge, "File too large",
				"File %q (%dMB) exceeds the %dMB limit.",
				f.Name, len(f.Data)/(1024*1024), s.cfg.MaxImageBytes/(1024*1024))
		}
		if len(f.Data) == 0 {
			return failf(CodeEmptyFile, "Empty file",
				"File %q appears to be empty or corrupted.", f.Name)
		}
	}
	return nil
}

func validImageType(mimeType string) bool {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg", "image/png":
		return true
	}
	return false
}

// placement holds the pdfcpu import description computed for one image.
type placement struct {
	desc   string
	width  int
	height int
}

// placeImages decodes each image header for its pixel dimensions and
// derives the per-image placement. Scaling policy: scale =
// min(maxImageScale, pageW/w, pageH/h). Aspect ratio preserved, never
// upscaled, centered on the page.
func (s *Service) placeImages(files []InputFile) ([]placement, error) {
	descs := make([]placement, 0, len(files))
	for _, f := range files {
		w, h, err := imageDims(f)
		if err != nil {
			return nil, failStatus(CodeFileProcessing, http.StatusBadRequest,
				"File processing failed", err.Error(), err)
		}
		descs = append(descs, placement{desc: importDescription(w, h), width: w, height: h})
	}
	return descs, nil
}

// imageDims reads the pixel dimensions from the encoded header without
// decoding the full raster.
func imageDims(f InputFile) (int, int, error) {
	var cfg image.Config
	var err error

	mimeType := strings.ToLower(f.MIMEType)
	if mimeType != "image/png" && mimeType != "image/jpeg" && mimeType != "image/jpg" {
		mimeType = FallbackImageFormat
	}
	switch mimeType {
	case "image/png":
		cfg, err = png.DecodeConfig(bytes.NewReader(f.Data))
	default:
		cfg, err = jpeg.DecodeConfig(bytes.NewReader(f.Data))
	}
	if err != nil {
		return 0, 0, fmt.Errorf("File %q appears to be corrupted or is not a valid %s image",
			f.Name, imageLabel(mimeType))
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("File %q has invalid dimensions", f.Name)
	}
	return cfg.Width, cfg.Height, nil
}

func imageLabel(mimeType string) string {
	if mimeType == "image/png" {
		return "PNG"
	}
	return "JPEG"
}

// importDescription builds the pdfcpu import config for one image: fixed
// A4 page, centered. Images that already fit keep their natural size
// (absolute scale 1); larger images are scaled relative to the page,
// which pdfcpu applies uniformly so the aspect ratio is preserved.
func importDescription(w, h int) string {
	if float64(w) <= pageWidth && float64(h) <= pageHeight {
		return fmt.Sprintf("f:A4, pos:c, sc:%.1f abs", maxImageScale)
	}
	return fmt.Sprintf("f:A4, pos:c, sc:%.1f rel", maxImageScale)
}

// buildPDF appends one page per image via pdfcpu, threading the growing
// document through each import so the page order equals the input order.
func (s *Service) buildPDF(ctx context.Context, files []InputFile, descs []placement) ([]byte, error) {
	var doc []byte
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, Classify(err)
		}

		imp, err := api.Import(descs[i].desc, types.POINTS)
		if err != nil {
			return nil, failStatus(CodePDFSave, http.StatusInternalServerError,
				"PDF generation failed",
				"Failed to generate the final PDF document. Please try with fewer or smaller images.", err)
		}

		var rs io.ReadSeeker
		if len(doc) > 0 {
			rs = bytes.NewReader(doc)
		}
		var buf bytes.Buffer
		if err := api.ImportImages(rs, &buf, []io.Reader{bytes.NewReader(f.Data)}, imp, s.pdfConf); err != nil {
			s.logger.Debug("image import failed", "file", f.Name, "error", err)
			return nil, failStatus(CodeFileProcessing, http.StatusBadRequest,
				"File processing failed",
				fmt.Sprintf("File %q appears to be corrupted or is not a valid %s image",
					f.Name, imageLabel(strings.ToLower(f.MIMEType))), err)
		}
		doc = buf.Bytes()
	}

	if len(doc) == 0 {
		return nil, failStatus(CodeEmptyPDF, http.StatusInternalServerError,
			"Empty PDF generated",
			"The generated PDF is empty. Please check your image files.", nil)
	}
	return doc, nil
}
