// Package server exposes the HTTP API: health, status, metrics, OAuth
// authorization for the chat accounts and the admin operations (manual chat
// sessions and links, resend, resume, Telegram subscribers). Requests carry a
// correlation id through their context for consistent logging.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/dropwatch/telemetry"
)

// NewMux returns the HTTP handler with all routes. ctx bounds the rate
// limiter's cleanup goroutine.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	h := NewHandlers(deps)
	authCfg := newAuthConfig(h.Config)
	limiter := newIPRateLimiter(ctx, newRateLimiterConfig(h.Config))
	corsCfg := newCORSConfig(h.Config)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /healthz", h.HandleHealthz)
	mux.HandleFunc("GET /readyz", h.HandleReadyz)

	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("GET /links", h.HandleLinks)
	mux.HandleFunc("GET /products", h.HandleProducts)

	mux.HandleFunc("GET /auth/twitch/start", h.HandleTwitchOAuthStart)
	mux.HandleFunc("GET /auth/twitch/callback", h.HandleTwitchOAuthCallback)
	mux.HandleFunc("GET /auth/youtube/start", h.HandleYouTubeOAuthStart)
	mux.HandleFunc("GET /auth/youtube/callback", h.HandleYouTubeOAuthCallback)

	mux.HandleFunc("POST /admin/sessions", h.HandleAdminAddSession)
	mux.HandleFunc("POST /admin/links", h.HandleAdminAddLink)
	mux.HandleFunc("POST /admin/resend", h.HandleAdminResend)
	mux.HandleFunc("POST /admin/resume", h.HandleAdminResume)
	mux.HandleFunc("GET /admin/subscribers", h.HandleAdminSubscribersList)
	mux.HandleFunc("POST /admin/subscribers", h.HandleAdminSubscriberAdd)
	mux.HandleFunc("DELETE /admin/subscribers/{id}", h.HandleAdminSubscriberRemove)

	// Admin routes get auth first, then rate limiting.
	admin := adminAuth(rateLimitMiddleware(mux, limiter), authCfg)
	selective := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/admin/") {
			admin.ServeHTTP(w, r)
			return
		}
		mux.ServeHTTP(w, r)
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path, telemetry.HTTPAttrs(r.Method, r.URL.Path)...)
		defer span.End()
		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		selective.ServeHTTP(rec, r.WithContext(ctx))
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
	return withCORSConfig(handler, corsCfg)
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
func Start(ctx context.Context, deps Deps, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewMux(ctx, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
