package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the analytics service.
type Metrics struct {
	// Analytics computation metrics
	Computations       *prometheus.CounterVec
	ComputationLatency *prometheus.HistogramVec

	// Event store metrics
	StoreQueries *prometheus.CounterVec
	StoreLatency *prometheus.HistogramVec
	RowsFetched  *prometheus.HistogramVec

	// Cache metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Ingestion metrics
	EventsIngested *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHits *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		Computations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "computations_total",
				Help:      "Total analytics computations by engine and status",
			},
			[]string{"engine", "status"},
		),
		ComputationLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "computation_latency_seconds",
				Help:      "End-to-end analytics computation latency",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"engine"},
		),
		StoreQueries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_queries_total",
				Help:      "Queries dispatched to the event store",
			},
			[]string{"engine", "status"},
		),
		StoreLatency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_query_latency_seconds",
				Help:      "Event store query latency",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"engine"},
		),
		RowsFetched: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_rows_fetched",
				Help:      "Rows returned per event store query",
				Buckets:   []float64{10, 100, 1000, 10000, 100000},
			},
			[]string{"engine"},
		),
		CacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Analytics result cache hits",
			},
			[]string{"engine"},
		),
		CacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Analytics result cache misses",
			},
			[]string{"engine"},
		),
		EventsIngested: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_ingested_total",
				Help:      "Tracked events written to the event store",
			},
			[]string{"status"},
		),
		RateLimitHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Requests rejected by rate limiting",
			},
			[]string{"path"},
		),
	}
}

// RecordComputation records one finished analytics computation.
func (m *Metrics) RecordComputation(engine, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Computations.WithLabelValues(engine, status).Inc()
	m.ComputationLatency.WithLabelValues(engine).Observe(elapsed.Seconds())
}

// RecordStoreQuery records one event store query.
func (m *Metrics) RecordStoreQuery(engine, status string, rows int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.StoreQueries.WithLabelValues(engine, status).Inc()
	m.StoreLatency.WithLabelValues(engine).Observe(elapsed.Seconds())
	if status == "ok" {
		m.RowsFetched.WithLabelValues(engine).Observe(float64(rows))
	}
}

// RecordCache records a cache lookup outcome.
func (m *Metrics) RecordCache(engine string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.WithLabelValues(engine).Inc()
	} else {
		m.CacheMisses.WithLabelValues(engine).Inc()
	}
}

// RecordIngest records an ingestion batch outcome.
func (m *Metrics) RecordIngest(status string, count int) {
	if m == nil {
		return
	}
	m.EventsIngested.WithLabelValues(status).Add(float64(count))
}

// RecordRateLimit records a rate-limited request.
func (m *Metrics) RecordRateLimit(path string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(path).Inc()
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
