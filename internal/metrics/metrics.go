// Package metrics provides Prometheus metrics for the tracker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	// Upstream API metrics.
	ExternalCalls        *prometheus.CounterVec
	ExternalCallDuration *prometheus.HistogramVec

	// Bulk refresh metrics.
	RefreshedEntities *prometheus.CounterVec
	RefreshRuns       *prometheus.CounterVec

	LeaderboardCacheHits *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ExternalCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blitz_tracker",
			Name:      "external_calls_total",
			Help:      "Total number of calls to the upstream API.",
		}, []string{"endpoint", "outcome"}),
		ExternalCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "blitz_tracker",
			Name:      "external_call_duration_seconds",
			Help:      "Duration of upstream API calls, including the rate limiter wait.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		RefreshedEntities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blitz_tracker",
			Subsystem: "refresh",
			Name:      "entities_total",
			Help:      "Entities processed by bulk refresh runs.",
		}, []string{"kind", "outcome"}), // outcome: "ok" or "error"
		RefreshRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blitz_tracker",
			Subsystem: "refresh",
			Name:      "runs_total",
			Help:      "Bulk refresh and token renewal runs.",
		}, []string{"job"}),
		LeaderboardCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "blitz_tracker",
			Subsystem: "leaderboard",
			Name:      "cache_total",
			Help:      "Leaderboard lookups by cache result.",
		}, []string{"result"}), // "hit" or "miss"
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

		m.ExternalCalls,
		m.ExternalCallDuration,

		m.RefreshedEntities,
		m.RefreshRuns,

		m.LeaderboardCacheHits,
	)
	return m
}

func (m *Metrics) ObserveExternalCall(endpoint, outcome string, took time.Duration) {
	m.ExternalCalls.WithLabelValues(endpoint, outcome).Inc()
	m.ExternalCallDuration.WithLabelValues(endpoint).Observe(took.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
