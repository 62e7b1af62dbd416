// Package metrics exposes Prometheus collectors for recomputes, store retries,
// event publishing and the HTTP API. All collectors live on a private registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "interviewstats"

// Recompute scopes.
const (
	ScopeInterview = "interview"
	ScopeGlobal    = "global"
)

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	recomputes        *prometheus.CounterVec
	recomputeDuration *prometheus.HistogramVec
	storeRetries      prometheus.Counter
	interviewsByState *prometheus.GaugeVec
	globalUpdated     prometheus.Gauge
	publishErrors     *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		recomputes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recomputes_total",
				Help:      "Recompute passes by scope and result",
			},
			[]string{"scope", "result"},
		),
		recomputeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "recompute_duration_seconds",
				Help:      "Duration of recompute passes",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"scope"},
		),
		storeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Record store calls retried after a failure",
		}),
		interviewsByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "interviews",
				Help:      "Interviews by recompute state",
			},
			[]string{"state"},
		),
		globalUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "global_last_updated_timestamp_seconds",
			Help:      "Unix time of the last published global snapshot",
		}),
		publishErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_errors_total",
				Help:      "Snapshot events that could not be delivered",
			},
			[]string{"sink"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	m.registry.MustRegister(
		m.recomputes,
		m.recomputeDuration,
		m.storeRetries,
		m.interviewsByState,
		m.globalUpdated,
		m.publishErrors,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveRecompute records one recompute pass.
func (m *Metrics) ObserveRecompute(scope, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.recomputes.WithLabelValues(scope, result).Inc()
	m.recomputeDuration.WithLabelValues(scope).Observe(d.Seconds())
}

func (m *Metrics) StoreRetry() {
	if m == nil {
		return
	}
	m.storeRetries.Inc()
}

// SetStateCounts replaces the per-state interview gauges.
func (m *Metrics) SetStateCounts(counts map[string]int) {
	if m == nil {
		return
	}
	for state, n := range counts {
		m.interviewsByState.WithLabelValues(state).Set(float64(n))
	}
}

func (m *Metrics) GlobalUpdated(t time.Time) {
	if m == nil {
		return
	}
	m.globalUpdated.Set(float64(t.Unix()))
}

func (m *Metrics) PublishError(sink string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(sink).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}
