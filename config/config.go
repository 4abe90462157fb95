// Package config loads the convbox service configuration from YAML,
// layered over defaults. Environment variables applied in main override
// the file for deploy-time knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full convbox configuration.
type Config struct {
	Listen          string        `yaml:"listen"`
	ObservabilityDB string        `yaml:"observability_db"`
	Limits          LimitsConfig  `yaml:"limits"`
	RenderScale     float64       `yaml:"render_scale"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	SessionTTL      time.Duration `yaml:"session_ttl"`
	LogLevel        string        `yaml:"log_level"`
	AdminPassHash   string        `yaml:"admin_pass_hash"` // bcrypt, guards /api/stats when set
}

// LimitsConfig bounds uploaded payloads per conversion direction.
type LimitsConfig struct {
	MaxImageFiles  int `yaml:"max_image_files"`
	MaxImageFileMB int `yaml:"max_image_file_mb"`
	MaxPDFFileMB   int `yaml:"max_pdf_file_mb"`
	MaxPDFPages    int `yaml:"max_pdf_pages"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":8080",
		ObservabilityDB: "convbox_obs.db",
		Limits: LimitsConfig{
			MaxImageFiles:  10,
			MaxImageFileMB: 10,
			MaxPDFFileMB:   50,
			MaxPDFPages:    100,
		},
		RenderScale:     2.0,
		RequestTimeout:  2 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		SessionTTL:      30 * time.Minute,
		LogLevel:        "info",
	}
}

// LoadConfig reads and parses a YAML config file, merged over defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.ObservabilityDB == "" {
		return fmt.Errorf("observability_db is required")
	}
	if c.Limits.MaxImageFiles <= 0 {
		return fmt.Errorf("limits.max_image_files must be > 0")
	}
	if c.Limits.MaxImageFileMB <= 0 {
		return fmt.Errorf("limits.max_image_file_mb must be > 0")
	}
	if c.Limits.MaxPDFFileMB <= 0 {
		return fmt.Errorf("limits.max_pdf_file_mb must be > 0")
	}
	if c.Limits.MaxPDFPages <= 0 {
		return fmt.Errorf("limits.max_pdf_pages must be > 0")
	}
	if c.RenderScale <= 0 || c.RenderScale > 8 {
		return fmt.Errorf("render_scale must be in (0, 8], got %v", c.RenderScale)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be > 0")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be > 0")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be > 0")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q (use debug, info, warn or error)", c.LogLevel)
	}
	return nil
}

// MaxImageBytes returns the per-image upload cap in bytes.
func (c *Config) MaxImageBytes() int64 { return int64(c.Limits.MaxImageFileMB) * 1024 * 1024 }

// MaxPDFBytes returns the PDF upload cap in bytes.
func (c *Config) MaxPDFBytes() int64 { return int64(c.Limits.MaxPDFFileMB) * 1024 * 1024 }
