// Package metrics exposes the keeper's Prometheus-text metrics surface:
// counters for alerts by severity and errors by pool/component,
// last-error-timestamp gauges, and an operation-duration histogram by
// component and pool. Registered as a lazy singleton via sync.Once.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Registry struct {
	alerts     *prometheus.CounterVec
	errors     *prometheus.CounterVec
	lastError  *prometheus.GaugeVec
	opDuration *prometheus.HistogramVec
}

var (
	once     sync.Once
	registry *Registry
)

// Keeper returns the lazily-initialised keeper metrics registry.
func Keeper() *Registry {
	once.Do(func() {
		registry = &Registry{
			alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "keeperbot",
				Name:      "alerts_total",
				Help:      "Count of alerts raised, segmented by severity.",
			}, []string{"severity"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "keeperbot",
				Name:      "errors_total",
				Help:      "Count of errors encountered, segmented by pool and component.",
			}, []string{"pool", "component"}),
			lastError: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "keeperbot",
				Name:      "last_error_timestamp_seconds",
				Help:      "Unix timestamp of the most recent error, segmented by pool and component.",
			}, []string{"pool", "component"}),
			opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "keeperbot",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of keeper operations, segmented by component and pool.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"component", "pool"}),
		}
		prometheus.MustRegister(
			registry.alerts,
			registry.errors,
			registry.lastError,
			registry.opDuration,
		)
	})
	return registry
}

// RecordAlert increments the alert counter for severity ("info", "warning",
// "critical").
func (r *Registry) RecordAlert(severity string) {
	if r == nil {
		return
	}
	r.alerts.WithLabelValues(severity).Inc()
}

// RecordError increments the error counter and updates the last-error gauge
// for the given pool/component pair.
func (r *Registry) RecordError(pool, component string) {
	if r == nil {
		return
	}
	r.errors.WithLabelValues(pool, component).Inc()
	r.lastError.WithLabelValues(pool, component).Set(float64(time.Now().Unix()))
}

// ObserveDuration records how long a component's operation took for pool.
func (r *Registry) ObserveDuration(component, pool string, d time.Duration) {
	if r == nil {
		return
	}
	r.opDuration.WithLabelValues(component, pool).Observe(d.Seconds())
}

// Timer returns a func() to be deferred at the call site to record an
// operation's duration: `defer metrics.Keeper().Timer("kick", pool)()`.
func (r *Registry) Timer(component, pool string) func() {
	start := time.Now()
	return func() {
		r.ObserveDuration(component, pool, time.Since(start))
	}
}

// Server returns an http.Handler serving GET /metrics in Prometheus text
// format (default port 9091), routed through chi.
func Server() http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	return r
}
