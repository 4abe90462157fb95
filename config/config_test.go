package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "convbox.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfig_Valid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

// WHAT: file values override defaults, unset fields keep them.
func TestLoadConfig_MergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
limits:
  max_pdf_pages: 200
session_ttl: 1h
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.Limits.MaxPDFPages != 200 {
		t.Errorf("max_pdf_pages = %d", cfg.Limits.MaxPDFPages)
	}
	if cfg.SessionTTL != time.Hour {
		t.Errorf("session_ttl = %v", cfg.SessionTTL)
	}
	// Untouched by the file.
	if cfg.Limits.MaxImageFiles != 10 {
		t.Errorf("max_image_files = %d, want default 10", cfg.Limits.MaxImageFiles)
	}
	if cfg.RenderScale != 2.0 {
		t.Errorf("render_scale = %v, want default 2.0", cfg.RenderScale)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"zero image files", "limits:\n  max_image_files: -1\n"},
		{"render scale out of range", "render_scale: 20\n"},
		{"zero request timeout", "request_timeout: 0s\n"},
		{"negative shutdown timeout", "shutdown_timeout: -1s\n"},
		{"bad log level", "log_level: loud\n"},
		{"not yaml", "{{{{"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tc.body)); err == nil {
				t.Fatalf("config %q validated", tc.body)
			}
		})
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file loaded")
	}
}

func TestByteLimits(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.MaxImageBytes(); got != 10*1024*1024 {
		t.Errorf("MaxImageBytes = %d", got)
	}
	if got := cfg.MaxPDFBytes(); got != 50*1024*1024 {
		t.Errorf("MaxPDFBytes = %d", got)
	}
}
