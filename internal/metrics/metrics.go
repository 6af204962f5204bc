package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fxwatcher"

// Fetch results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics groups the collectors of one process. A nil *Metrics is a valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	FetchesTotal        *prometheus.CounterVec
	FetchDuration       prometheus.Histogram
	LatestRate          *prometheus.GaugeVec
	WindowHigh          *prometheus.GaugeVec
	NewHighsTotal       *prometheus.CounterVec
	NotifyFailuresTotal *prometheus.CounterVec
	CleanupDeletedTotal *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
}

// New registers all collectors on a fresh registry, together with the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FetchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Rate fetch attempts by result.",
			},
			[]string{"symbol", "result"},
		),
		FetchDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "Latency of provider rate requests.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
			},
		),
		LatestRate: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "latest_rate",
				Help:      "Most recently fetched rate.",
			},
			[]string{"symbol"},
		),
		WindowHigh: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "window_high_rate",
				Help:      "Highest stored rate inside the lookback window before the latest check.",
			},
			[]string{"symbol"},
		),
		NewHighsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "new_highs_total",
				Help:      "Checks whose rate exceeded the lookback-window high.",
			},
			[]string{"symbol"},
		),
		NotifyFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notify_failures_total",
				Help:      "Alert dispatches that failed on at least one channel.",
			},
			[]string{"symbol"},
		),
		CleanupDeletedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cleanup_deleted_samples_total",
				Help:      "Samples removed by retention cleanup.",
			},
			[]string{"symbol"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Read API requests by route and status code.",
			},
			[]string{"route", "code"},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFetch counts a fetch attempt and observes its latency.
func (m *Metrics) RecordFetch(symbol string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.FetchesTotal.WithLabelValues(symbol, result).Inc()
	m.FetchDuration.Observe(elapsed.Seconds())
}

// RecordCheck publishes the rate and window high seen by a completed check.
func (m *Metrics) RecordCheck(symbol string, rate, windowHigh float64, newHigh bool) {
	if m == nil {
		return
	}
	m.LatestRate.WithLabelValues(symbol).Set(rate)
	m.WindowHigh.WithLabelValues(symbol).Set(windowHigh)
	if newHigh {
		m.NewHighsTotal.WithLabelValues(symbol).Inc()
	}
}

// RecordNotifyFailure counts a failed alert dispatch.
func (m *Metrics) RecordNotifyFailure(symbol string) {
	if m == nil {
		return
	}
	m.NotifyFailuresTotal.WithLabelValues(symbol).Inc()
}

// RecordCleanup adds the number of pruned samples.
func (m *Metrics) RecordCleanup(symbol string, deleted int64) {
	if m == nil || deleted <= 0 {
		return
	}
	m.CleanupDeletedTotal.WithLabelValues(symbol).Add(float64(deleted))
}

// RecordHTTP counts one API response.
func (m *Metrics) RecordHTTP(route string, code int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
