// Package metrics defines the Prometheus collectors used by the evaluator and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	BuildDuration   *prometheus.HistogramVec
	BuildsTotal     *prometheus.CounterVec
	PairsTotal      *prometheus.GaugeVec
	PairsByType     *prometheus.GaugeVec
	ResidentIndexes prometheus.Gauge

	QueryLatency *prometheus.HistogramVec
	QueryResults *prometheus.HistogramVec

	StageCacheTotal   *prometheus.CounterVec
	CorpusEventsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg, or with the
// default registerer when reg is nil.
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
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		BuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "index_build_stage_seconds",
				Help:    "Duration of each index build stage in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"stage"},
		),
		BuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "index_builds_total",
				Help: "Total index builds by status (ok, error).",
			},
			[]string{"status"},
		),
		PairsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pair_table_size",
				Help: "Number of pairs in the table of each threshold key.",
			},
			[]string{"key"},
		),
		PairsByType: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pair_table_type_count",
				Help: "Number of pairs of each error type per threshold key.",
			},
			[]string{"key", "type"},
		),
		ResidentIndexes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "resident_indexes",
				Help: "Number of range indexes held in memory.",
			},
		),
		QueryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "query_latency_seconds",
				Help:    "Query latency in seconds by query shape.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
			},
			[]string{"shape"},
		),
		QueryResults: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "query_result_pairs",
				Help:    "Number of pairs selected per query by query shape.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 10),
			},
			[]string{"shape"},
		),
		StageCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stage_cache_total",
				Help: "Stage cache lookups by stage and result (hit, miss, corrupt).",
			},
			[]string{"stage", "result"},
		),
		CorpusEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_events_total",
				Help: "Corpus change events consumed by result (applied, ignored, malformed, error).",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.BuildDuration,
		m.BuildsTotal,
		m.PairsTotal,
		m.PairsByType,
		m.ResidentIndexes,
		m.QueryLatency,
		m.QueryResults,
		m.StageCacheTotal,
		m.CorpusEventsTotal,
	)

	return m
}

// Handler serves the families gathered from g in the Prometheus text format.
// Gather errors are reported in the response rather than failing the scrape.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorHandling:     promhttp.ContinueOnError,
		EnableOpenMetrics: true,
	})
}
