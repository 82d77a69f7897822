package rbac

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects resolver call counts and latencies on its own registry.
type Metrics struct {
	registry *prometheus.Registry
	checks   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the resolver collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rbac_checks_total",
		Help: "Resolver calls by operation and result.",
	}, []string{"op", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rbac_check_duration_seconds",
		Help:    "Resolver call latency by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	registry.MustRegister(checks, duration)
	return &Metrics{registry: registry, checks: checks, duration: duration}
}

// Registry exposes the registry for an HTTP handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// observe is deferred by resolver calls; allowed is nil for calls without a
// boolean outcome.
func (m *Metrics) observe(op string, start time.Time, allowed *bool, err *error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err != nil && *err != nil:
		result = "error"
	case allowed != nil && *allowed:
		result = "allow"
	case allowed != nil:
		result = "deny"
	}
	m.checks.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
