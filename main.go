// Command dropwatch watches stream chats for campaign links, scrapes the
// linked storefront pages and announces newly listed products.
// It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres and runs migrations (tokens and
//     Telegram subscribers survive restarts when DB_DSN is set).
//   - Starts liveness trackers and chat watchers for Twitch and YouTube, the
//     scrape worker, and OAuth token refreshers.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics and
//     the admin API.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/onnwee/dropwatch/config"
	"github.com/onnwee/dropwatch/monitor"
	"github.com/onnwee/dropwatch/server"
	"github.com/onnwee/dropwatch/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("dropwatch", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", slog.Any("err", err))
		stop()
		shutdownTracing()
		os.Exit(1)
	}
	defer app.close()

	for _, r := range app.refreshers {
		go r.Run(ctx)
	}

	orch := monitor.New(app.catalog, app.sink, monitor.Config{
		ScrapeInterval: cfg.ScrapeInterval,
		ShutdownGrace:  cfg.ShutdownGrace,
		Sources:        app.sources,
		Watcher:        app.watcher,
	}, app.trackers...)

	if os.Getenv("ENABLE_PPROF") == "1" {
		startPprof()
	}

	go func() {
		deps := server.Deps{
			Config:      cfg,
			Monitor:     orch,
			Catalog:     app.catalog,
			Subscribers: app.subscribers,
			Tokens:      app.tokens,
			YouTube:     app.youtube,
			DB:          app.db,
		}
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	if app.catalog.HasPages() {
		orch.Trigger("startup")
	}
	if err := orch.Run(ctx); err != nil {
		slog.Error("monitor exited with error", slog.Any("err", err))
	}
	slog.Info("shutting down")
}

// setupLogging installs the default logger. Defaults: level=info, format=text.
func setupLogging(level, format string) {
	lvl := slog.LevelInfo
	unknown := false
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		unknown = true
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
	if unknown {
		slog.Warn("unknown LOG_LEVEL, using info", slog.String("value", level))
	}
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", strings.ToLower(format)))
}

func startPprof() {
	addr := os.Getenv("PPROF_ADDR")
	if addr == "" {
		addr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", addr))
		srv := &http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
