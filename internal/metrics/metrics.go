package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	SearchRequestsTotal   *prometheus.CounterVec
	SearchRequestDuration *prometheus.HistogramVec
	SearchTasksInFlight   prometheus.Gauge

	ResolveTotal *prometheus.CounterVec

	FetchTotal    *prometheus.CounterVec
	FetchDuration prometheus.Histogram

	ResultsAggregatedTotal prometheus.Counter
	ResultsDedupedTotal    prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		SearchRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_engine_search_requests_total",
				Help: "Total number of search requests per backend",
			},
			[]string{"engine", "status"},
		),
		SearchRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "research_engine_search_request_duration_seconds",
				Help:    "Search request duration in seconds per backend",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"engine"},
		),
		SearchTasksInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "research_engine_search_tasks_in_flight",
				Help: "Number of fan-out search tasks currently running",
			},
		),

		ResolveTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_engine_url_resolve_total",
				Help: "Total number of URL resolution attempts",
			},
			[]string{"resolver", "status"},
		),

		FetchTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "research_engine_content_fetch_total",
				Help: "Total number of page content fetches",
			},
			[]string{"status"},
		),
		FetchDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "research_engine_content_fetch_duration_seconds",
				Help:    "Content fetch duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		ResultsAggregatedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "research_engine_results_aggregated_total",
				Help: "Total number of results after merge and dedup",
			},
		),
		ResultsDedupedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "research_engine_results_deduped_total",
				Help: "Total number of duplicate results dropped by the aggregator",
			},
		),
	}

	return m
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) RecordSearch(engine, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SearchRequestsTotal.WithLabelValues(engine, status).Inc()
	m.SearchRequestDuration.WithLabelValues(engine).Observe(duration.Seconds())
}

func (m *Metrics) RecordResolve(resolver, status string) {
	if m == nil {
		return
	}
	m.ResolveTotal.WithLabelValues(resolver, status).Inc()
}

func (m *Metrics) RecordFetch(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(status).Inc()
	m.FetchDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordAggregation(kept, deduped int) {
	if m == nil {
		return
	}
	m.ResultsAggregatedTotal.Add(float64(kept))
	m.ResultsDedupedTotal.Add(float64(deduped))
}

func (m *Metrics) IncSearchInFlight() {
	if m == nil {
		return
	}
	m.SearchTasksInFlight.Inc()
}

func (m *Metrics) DecSearchInFlight() {
	if m == nil {
		return
	}
	m.SearchTasksInFlight.Dec()
}
