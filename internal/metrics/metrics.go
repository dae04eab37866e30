// Package metrics exposes Prometheus collectors for the quest pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ticksTotal                 *prometheus.CounterVec
	tickDurationSeconds        prometheus.Histogram
	fetchesTotal               *prometheus.CounterVec
	questsFetchedTotal         *prometheus.CounterVec
	dedupOutcomesTotal         *prometheus.CounterVec
	deliveriesTotal            *prometheus.CounterVec
	forwardsTotal              *prometheus.CounterVec
	ingestRequestsTotal        *prometheus.CounterVec
	seenSetSize                prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		ticksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questwatch_ticks_total",
				Help: "Total number of driver ticks, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		tickDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "questwatch_tick_duration_seconds",
				Help:    "Wall time of one driver tick including jitter sleeps.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questwatch_fetches_total",
				Help: "Upstream fetches, labeled by region and status (ok, transient, fatal, auth).",
			},
			[]string{"region", "status"},
		)

		questsFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questwatch_quests_fetched_total",
				Help: "Quest records returned by the upstream, labeled by region.",
			},
			[]string{"region"},
		)

		dedupOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questwatch_dedup_outcomes_total",
				Help: "Deduplicator decisions, labeled by source and outcome (accepted, deduped, filtered, seeded).",
			},
			[]string{"source", "outcome"},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questwatch_deliveries_total",
				Help: "Notification deliveries, labeled by sink and outcome.",
			},
			[]string{"sink", "outcome"},
		)

		forwardsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questwatch_forwards_total",
				Help: "Agent batches forwarded to the collector, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		ingestRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questwatch_ingest_requests_total",
				Help: "Ingest requests handled by the collector, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		seenSetSize = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "questwatch_seen_set_size",
				Help: "Number of (region, id) keys in the seen-set.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "questwatch_rate_limit_delays_seconds",
				Help:    "Histogram of per-sink rate limit wait durations.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"sink"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latencies keyed by the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	Init()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ObserveHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveTick records one completed driver tick.
func ObserveTick(outcome string, duration time.Duration) {
	Init()
	ticksTotal.WithLabelValues(outcome).Inc()
	tickDurationSeconds.Observe(duration.Seconds())
}

// ObserveFetch records one upstream fetch and, on success, the number of records.
func ObserveFetch(region, status string, records int) {
	Init()
	fetchesTotal.WithLabelValues(region, status).Inc()
	if records > 0 {
		questsFetchedTotal.WithLabelValues(region).Add(float64(records))
	}
}

// ObserveDedup adds deduplicator decisions for a source (local or ingest).
func ObserveDedup(source, outcome string, n int) {
	Init()
	if n <= 0 {
		return
	}
	dedupOutcomesTotal.WithLabelValues(source, outcome).Add(float64(n))
}

// ObserveDelivery records one (record, sink) delivery attempt.
func ObserveDelivery(sink, outcome string) {
	Init()
	deliveriesTotal.WithLabelValues(sink, outcome).Inc()
}

// ObserveForward records one agent forward attempt.
func ObserveForward(outcome string) {
	Init()
	forwardsTotal.WithLabelValues(outcome).Inc()
}

// ObserveIngest records one ingest request outcome.
func ObserveIngest(outcome string) {
	Init()
	ingestRequestsTotal.WithLabelValues(outcome).Inc()
}

// SetSeenSetSize updates the seen-set size gauge.
func SetSeenSetSize(n int) {
	Init()
	seenSetSize.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(sink string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(sink).Observe(duration.Seconds())
}
