package convert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Code identifies a public failure category. Codes are part of the HTTP
// contract: clients branch on them, so they never change meaning.
type Code string

const (
	CodeNoFiles         Code = "NO_FILES"
	CodeNoFile          Code = "NO_FILE"
	CodeTooManyFiles    Code = "TOO_MANY_FILES"
	CodeInvalidFileType Code = "INVALID_FILE_TYPE"
	CodeFileTooLarge    Code = "FILE_TOO_LARGE"
	CodeEmptyFile       Code = "EMPTY_FILE"
	CodeFileReadError   Code = "FILE_READ_ERROR"
	CodeFileProcessing  Code = "FILE_PROCESSING_ERROR"
	CodeInvalidPDF      Code = "INVALID_PDF"
	CodeEmptyPDF        Code = "EMPTY_PDF"
	CodeTooManyPages    Code = "TOO_MANY_PAGES"
	CodePageProcessing  Code = "PAGE_PROCESSING_ERROR"
	CodePDFSave         Code = "PDF_SAVE_ERROR"
	CodeZipGeneration   Code = "ZIP_GENERATION_ERROR"
	CodeEmptyZip        Code = "EMPTY_ZIP"
	CodeOutOfMemory     Code = "OUT_OF_MEMORY"
	CodeTimeout         Code = "TIMEOUT"
	CodeInternal        Code = "INTERNAL_ERROR"
)

// Error is a conversion failure with its public representation: a short
// title, a human-readable detail line and the HTTP status it maps to.
// Nothing beyond these three fields ever reaches a client.
type Error struct {
	Code    Code
	Summary string
	Details string
	Status  int

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Summary, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Summary)
}

func (e *Error) Unwrap() error { return e.cause }

// failf builds a 400-class validation Error.
func failf(code Code, summary, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Summary: summary,
		Details: fmt.Sprintf(format, args...),
		Status:  http.StatusBadRequest,
	}
}

// failStatus builds an Error with an explicit HTTP status and cause.
func failStatus(code Code, status int, summary, details string, cause error) *Error {
	return &Error{
		Code:    code,
		Summary: summary,
		Details: details,
		Status:  status,
		cause:   cause,
	}
}

// ErrNoUpload reports an upload request that carried no usable file
// part. The field name decides which public code applies: batch uploads
// ("files") speak NO_FILES, single uploads ("file") speak NO_FILE.
func ErrNoUpload(field string, cause error) *Error {
	if field == "file" {
		return &Error{
			Code:    CodeNoFile,
			Summary: "No file provided",
			Details: "Please select a PDF file to convert.",
			Status:  http.StatusBadRequest,
			cause:   cause,
		}
	}
	return &Error{
		Code:    CodeNoFiles,
		Summary: "No files provided",
		Details: "Please select at least one image file to convert.",
		Status:  http.StatusBadRequest,
		cause:   cause,
	}
}

// ErrFileRead reports a failure while reading an uploaded part.
func ErrFileRead(name string, cause error) *Error {
	return failStatus(CodeFileReadError, http.StatusBadRequest,
		"Failed to read file",
		fmt.Sprintf("The file %q could not be read. Please try uploading it again.", name),
		cause)
}

// Classify maps an arbitrary failure to its public category. Conversion
// errors pass through untouched; resource and deadline failures are
// recognised by pattern-matching the underlying message, everything else
// becomes INTERNAL_ERROR.
func Classify(err error) *Error {
	var ce *Error
	if errors.As(err, &ce) {
		return ce
	}

	msg := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(msg, "timeout"):
		return failStatus(CodeTimeout, http.StatusRequestTimeout,
			"Processing timeout",
			"The conversion took too long. Please try with smaller files.", err)
	case strings.Contains(msg, "out of memory") || strings.Contains(msg, "memory") ||
		strings.Contains(msg, "cannot allocate"):
		return failStatus(CodeOutOfMemory, http.StatusRequestEntityTooLarge,
			"Out of memory",
			"The files are too large to process. Please try with smaller files.", err)
	case errors.Is(err, context.Canceled):
		return failStatus(CodeInternal, http.StatusInternalServerError,
			"Conversion cancelled",
			"The conversion was cancelled before it finished.", err)
	default:
		return failStatus(CodeInternal, http.StatusInternalServerError,
			"Internal server error",
			"An unexpected error occurred during conversion. Please try again.", err)
	}
}
