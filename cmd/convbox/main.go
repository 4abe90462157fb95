// Command convbox serves the file conversion API: images to a paginated
// PDF and PDFs to per-page PNG archives, over HTTP or as MCP tools on
// stdio.
package main

import (
	"context"
	"embed"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/convbox/config"
	"github.com/hazyhaar/convbox/convert"
	"github.com/hazyhaar/convbox/dbopen"
	"github.com/hazyhaar/convbox/intake"
	"github.com/hazyhaar/convbox/observability"
	"github.com/hazyhaar/convbox/session"
)

//go:embed static
var staticFS embed.FS

func main() {
	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg := config.DefaultConfig()
	if path := os.Getenv("CONVBOX_CONFIG"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			slog.Error("load config", "path", path, "error", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Deploy-time env overrides on top of the file.
	if port := os.Getenv("PORT"); port != "" {
		cfg.Listen = ":" + port
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if db := os.Getenv("OBSERVABILITY_DB"); db != "" {
		cfg.ObservabilityDB = db
	}
	if hash := os.Getenv("ADMIN_PASS_HASH"); hash != "" {
		cfg.AdminPassHash = hash
	}
	if scale := os.Getenv("RENDER_SCALE"); scale != "" {
		if v, err := strconv.ParseFloat(scale, 64); err == nil {
			cfg.RenderScale = v
		}
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Observability DB, separate from any application data. Only run
	// metadata lands here; uploaded bytes never do.
	obsDB, err := dbopen.Open(cfg.ObservabilityDB, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("observability db", "error", err)
		os.Exit(1)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		slog.Error("observability init", "error", err)
		os.Exit(1)
	}
	events := observability.NewEventLogger(obsDB)
	defer events.Close()
	metrics := observability.NewMetricsManager(obsDB, 100, 5*time.Second)
	defer metrics.Close()
	reqLog := observability.NewRequestLogger(obsDB, 1000)
	defer reqLog.Close()

	// Conversion engine.
	svc := convert.New(convert.Config{
		MaxImageFiles: cfg.Limits.MaxImageFiles,
		MaxImageBytes: cfg.MaxImageBytes(),
		MaxPDFBytes:   cfg.MaxPDFBytes(),
		MaxPDFPages:   cfg.Limits.MaxPDFPages,
		RenderScale:   cfg.RenderScale,
		Logger:        logger,
	})

	// MCP on stdio replaces the HTTP server entirely; the host process
	// owns the transport.
	if os.Getenv("MCP_TRANSPORT") == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "convbox",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		slog.Info("MCP stdio starting")
		if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			slog.Error("MCP stdio", "error", err)
			os.Exit(1)
		}
		return
	}

	// Sessions.
	sessions := session.NewStore(session.Config{
		TTL: cfg.SessionTTL,
		Images: intake.Config{
			Accept:   []string{"image/jpeg", "image/jpg", "image/png"},
			MaxFiles: cfg.Limits.MaxImageFiles,
			MaxBytes: cfg.MaxImageBytes(),
		},
		PDFs: intake.Config{
			Accept:   []string{"application/pdf"},
			MaxFiles: 1,
			MaxBytes: cfg.MaxPDFBytes(),
		},
		Logger: logger,
	})
	go sessions.Janitor(ctx, time.Minute)

	srv := newServer(cfg, svc, sessions, events, metrics, logger)
	srv.serve(ctx, reqLog)
}
