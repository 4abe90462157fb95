package convert

import (
	"archive/zip"
	"bytes"
	"net/http"
)

// BuildZip packages named buffers into one flat in-memory ZIP archive
// with no directory nesting, entries in input order.
func BuildZip(pages []PageImage) ([]byte, error) {
	if len(pages) == 0 {
		return nil, failStatus(CodeEmptyZip, http.StatusInternalServerError,
			"Empty archive", "The generated archive is empty.", nil)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, p := range pages {
		w, err := zw.Create(p.Name)
		if err != nil {
			return nil, zipError(err)
		}
		if _, err := w.Write(p.Data); err != nil {
			return nil, zipError(err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, zipError(err)
	}

	if buf.Len() == 0 {
		return nil, failStatus(CodeEmptyZip, http.StatusInternalServerError,
			"Empty archive", "The generated archive is empty.", nil)
	}
	return buf.Bytes(), nil
}

func zipError(err error) *Error {
	return failStatus(CodeZipGeneration, http.StatusInternalServerError,
		"Archive creation failed",
		"Failed to create the ZIP archive. Please try again.", err)
}
