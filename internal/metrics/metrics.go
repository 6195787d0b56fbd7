// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors on a dedicated registry so tests
// can assert counter values without global state.
type Metrics struct {
	Registry        *prometheus.Registry
	PagesTotal      *prometheus.CounterVec
	ItemsTotal      prometheus.Counter
	FailuresTotal   *prometheus.CounterVec
	RetriesTotal    prometheus.Counter
	FlushesTotal    prometheus.Counter
	FetchDuration   prometheus.Histogram
	ActiveWalkers   prometheus.Gauge
	BufferedRecords prometheus.Gauge
	HTTPDuration    *prometheus.HistogramVec
}

// New constructs and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_listing_pages_total",
			Help: "Total listing pages fetched, labeled by outcome.",
		},
		[]string{"outcome"},
	)
	items := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawl_items_processed_total",
			Help: "Total item records emitted to the result sink.",
		},
	)
	failures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawl_failures_total",
			Help: "Total permanent fetch failures, labeled by level.",
		},
		[]string{"level"},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawl_retries_total",
			Help: "Total transient-failure retry attempts.",
		},
	)
	flushes := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "crawl_sink_flushes_total",
			Help: "Total result sink flushes to durable storage.",
		},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crawl_fetch_duration_seconds",
			Help:    "Latency of page fetches including internal retries.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)
	activeWalkers := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawl_active_walkers",
			Help: "Number of collection walks currently in flight.",
		},
	)
	buffered := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawl_sink_buffered_records",
			Help: "Records currently buffered in the result sink.",
		},
	)

	httpDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "status_http_request_duration_seconds",
			Help:    "Latency of status API requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	registry.MustRegister(pages, items, failures, retries, flushes, fetchDuration, activeWalkers, buffered, httpDuration)

	return &Metrics{
		Registry:        registry,
		PagesTotal:      pages,
		ItemsTotal:      items,
		FailuresTotal:   failures,
		RetriesTotal:    retries,
		FlushesTotal:    flushes,
		FetchDuration:   fetchDuration,
		ActiveWalkers:   activeWalkers,
		BufferedRecords: buffered,
		HTTPDuration:    httpDuration,
	}
}

// ObserveHTTPRequest records one status API request sample.
func (m *Metrics) ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// IncRetry counts one transient-failure retry attempt.
func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// SetBufferedRecords tracks the result sink's current buffer depth.
func (m *Metrics) SetBufferedRecords(n int) {
	if m == nil {
		return
	}
	m.BufferedRecords.Set(float64(n))
}

// ObserveFetch records one fetch latency sample.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}
