// Package metrics defines the Prometheus collectors used by the search
// service and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchesTotal        *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsTotal   prometheus.Histogram
	BackendLatency       *prometheus.HistogramVec
	BackendErrorsTotal   *prometheus.CounterVec
	SessionHitsTotal     prometheus.Counter
	SessionMissesTotal   prometheus.Counter
	SortMetadataLatency  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. Passing nil uses
// the global default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "variant_searches_total",
				Help: "Variant searches by operation (search, gene_counts) and outcome (ok, cached, invalid, backend_error, error).",
			},
			[]string{"operation", "outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "variant_search_latency_seconds",
				Help:    "End-to-end variant search latency by query strategy.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"strategy"},
		),
		SearchResultsTotal: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "variant_search_total_results",
				Help:    "Total result count reported by the backend per search.",
				Buckets: []float64{0, 1, 10, 100, 1000, 10000, 100000},
			},
		),
		BackendLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_backend_request_seconds",
				Help:    "Latency of requests to the remote search engine by endpoint.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"endpoint"},
		),
		BackendErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_backend_errors_total",
				Help: "Failed requests to the remote search engine by endpoint and status (transport for unreachable).",
			},
			[]string{"endpoint", "status"},
		),
		SessionHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_session_hits_total",
				Help: "Pages served from a cached search session.",
			},
		),
		SessionMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "search_session_misses_total",
				Help: "Pages that required a backend query.",
			},
		),
		SortMetadataLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sort_metadata_seconds",
				Help:    "Latency of sort metadata lookups by sort key.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"sort"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchesTotal,
		m.SearchLatency,
		m.SearchResultsTotal,
		m.BackendLatency,
		m.BackendErrorsTotal,
		m.SessionHitsTotal,
		m.SessionMissesTotal,
		m.SortMetadataLatency,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
