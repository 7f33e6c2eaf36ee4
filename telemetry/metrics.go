// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	ScrapeCycles       prometheus.Counter
	ProductsDiscovered prometheus.Counter
	ParseErrors        prometheus.Counter
	FetchErrors        *prometheus.CounterVec // kind
	LinksObserved      *prometheus.CounterVec // platform, repost
	SinkDeliveries     *prometheus.CounterVec // sink, result
	StreamTransitions  *prometheus.CounterVec // platform, kind

	// Histograms (seconds)
	ScrapeDuration    prometheus.Observer
	PageFetchDuration prometheus.Observer

	// Gauges
	CatalogProducts   prometheus.Gauge
	CatalogPages      prometheus.Gauge
	ChatSessions      prometheus.Gauge
	StreamLive        *prometheus.GaugeVec // platform
	ScrapeHaltedGauge prometheus.Gauge     // 1=halted on auth failure
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		ScrapeCycles = promauto.NewCounter(prometheus.CounterOpts{Name: "dropwatch_scrape_cycles_total", Help: "Number of catalog scrape cycles run"})
		ProductsDiscovered = promauto.NewCounter(prometheus.CounterOpts{Name: "dropwatch_products_discovered_total", Help: "Number of new products recorded"})
		ParseErrors = promauto.NewCounter(prometheus.CounterOpts{Name: "dropwatch_parse_errors_total", Help: "Listing items skipped for missing markup"})
		FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "dropwatch_fetch_errors_total", Help: "Campaign page fetch failures by kind"}, []string{"kind"})
		LinksObserved = promauto.NewCounterVec(prometheus.CounterOpts{Name: "dropwatch_links_observed_total", Help: "Campaign links seen in chat"}, []string{"platform", "repost"})
		SinkDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{Name: "dropwatch_sink_deliveries_total", Help: "Product notifications by sink and result"}, []string{"sink", "result"})
		StreamTransitions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "dropwatch_stream_transitions_total", Help: "Liveness transitions by platform"}, []string{"platform", "kind"})
		ScrapeDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "dropwatch_scrape_duration_seconds", Help: "Scrape cycle duration seconds", Buckets: prometheus.DefBuckets})
		PageFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "dropwatch_page_fetch_duration_seconds", Help: "Campaign page fetch duration seconds", Buckets: prometheus.DefBuckets})
		CatalogProducts = promauto.NewGauge(prometheus.GaugeOpts{Name: "dropwatch_catalog_products", Help: "Products tracked for the current day"})
		CatalogPages = promauto.NewGauge(prometheus.GaugeOpts{Name: "dropwatch_catalog_pages", Help: "Campaign pages tracked for the current day"})
		ChatSessions = promauto.NewGauge(prometheus.GaugeOpts{Name: "dropwatch_chat_sessions", Help: "Active chat watchers"})
		StreamLive = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "dropwatch_stream_live", Help: "1 when the platform's stream is live"}, []string{"platform"})
		ScrapeHaltedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "dropwatch_scrape_halted", Help: "Scraping halted on auth failure=1 running=0"})
	})
}

// UpdateHaltedGauge sets gauge to 1 if halted else 0.
func UpdateHaltedGauge(halted bool) {
	if ScrapeHaltedGauge != nil {
		if halted {
			ScrapeHaltedGauge.Set(1)
		} else {
			ScrapeHaltedGauge.Set(0)
		}
	}
}

// SetCatalogSize records current product and page counts.
func SetCatalogSize(products, pages int) {
	if CatalogProducts != nil {
		CatalogProducts.Set(float64(products))
	}
	if CatalogPages != nil {
		CatalogPages.Set(float64(pages))
	}
}

// SetChatSessions records the number of running chat watchers.
func SetChatSessions(n int) {
	if ChatSessions != nil {
		ChatSessions.Set(float64(n))
	}
}

// SetStreamLive flips the per-platform live gauge.
func SetStreamLive(platform string, live bool) {
	if StreamLive == nil {
		return
	}
	v := 0.0
	if live {
		v = 1
	}
	StreamLive.WithLabelValues(platform).Set(v)
}

func RecordFetchError(kind string) {
	if FetchErrors != nil {
		FetchErrors.WithLabelValues(kind).Inc()
	}
}

func RecordParseError() {
	if ParseErrors != nil {
		ParseErrors.Inc()
	}
}

func RecordProducts(n int) {
	if ProductsDiscovered != nil && n > 0 {
		ProductsDiscovered.Add(float64(n))
	}
}

func RecordScrapeCycle() {
	if ScrapeCycles != nil {
		ScrapeCycles.Inc()
	}
}

func RecordLink(platform string, repost bool) {
	if LinksObserved != nil {
		LinksObserved.WithLabelValues(platform, strconv.FormatBool(repost)).Inc()
	}
}

func RecordTransition(platform, kind string) {
	if StreamTransitions != nil {
		StreamTransitions.WithLabelValues(platform, kind).Inc()
	}
}

// RecordDelivery counts one product notification attempt.
func RecordDelivery(sink string, err error) {
	if SinkDeliveries == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	SinkDeliveries.WithLabelValues(sink, result).Inc()
}

// Observe records d in obs if non-nil.
func Observe(obs prometheus.Observer, d time.Duration) {
	if obs != nil {
		obs.Observe(d.Seconds())
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	Observe(obs, d)
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
