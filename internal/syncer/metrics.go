package syncer

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/eventbrite-sync/internal/reconcile"
)

// Metrics holds the sync collectors on a dedicated registry.
type Metrics struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	events      *prometheus.CounterVec
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}
	m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventsync",
		Name:      "runs_total",
		Help:      "Sync runs by outcome",
	}, []string{"outcome"})
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventsync",
		Name:      "events_total",
		Help:      "Records touched by sync runs, by action",
	}, []string{"action"})
	m.duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "eventsync",
		Name:      "run_duration_seconds",
		Help:      "Wall time of a sync run",
		Buckets:   prometheus.DefBuckets,
	})
	m.lastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventsync",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time of the last successful sync run",
	})
	m.registry.MustRegister(
		m.runs, m.events, m.duration, m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records one run. A nil receiver is a no-op so metrics stay optional.
func (m *Metrics) Observe(res reconcile.Result, err error) {
	if m == nil {
		return
	}
	switch {
	case errors.Is(err, reconcile.ErrSyncInProgress):
		m.runs.WithLabelValues("busy").Inc()
		return
	case err != nil:
		m.runs.WithLabelValues("failed").Inc()
	default:
		m.runs.WithLabelValues("success").Inc()
		m.lastSuccess.Set(float64(res.FinishedAt.Unix()))
	}
	m.events.WithLabelValues("expired").Add(float64(res.Expired))
	m.events.WithLabelValues("created").Add(float64(res.Created))
	m.events.WithLabelValues("updated").Add(float64(res.Updated))
	m.events.WithLabelValues("failed").Add(float64(res.Failed))
	if !res.FinishedAt.IsZero() {
		m.duration.Observe(res.FinishedAt.Sub(res.StartedAt).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
