package convert

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   Code
		status int
	}{
		{"deadline", context.DeadlineExceeded, CodeTimeout, http.StatusRequestTimeout},
		{"timeout message", errors.New("operation timeout after 30s"), CodeTimeout, http.StatusRequestTimeout},
		{"oom", errors.New("cannot allocate memory"), CodeOutOfMemory, http.StatusRequestEntityTooLarge},
		{"memory message", errors.New("mupdf: out of memory"), CodeOutOfMemory, http.StatusRequestEntityTooLarge},
		{"unknown", errors.New("something odd"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ce := Classify(tt.err)
			if ce.Code != tt.code {
				t.Errorf("code: got %s, want %s", ce.Code, tt.code)
			}
			if ce.Status != tt.status {
				t.Errorf("status: got %d, want %d", ce.Status, tt.status)
			}
		})
	}
}

func TestClassify_PassesThroughConvertErrors(t *testing.T) {
	orig := failf(CodeTooManyPages, "Too many pages", "PDF has 200 pages.")
	wrapped := fmt.Errorf("run failed: %w", orig)
	if got := Classify(wrapped); got != orig {
		t.Fatalf("classified error not passed through: %v", got)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := failStatus(CodeInternal, 500, "boom", "detail", cause)
	if !errors.Is(e, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
}
