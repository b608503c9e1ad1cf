// Package metrics exposes the sync path as Prometheus collectors. All
// methods are safe on a nil *Metrics so components can run without it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ajo"

type Metrics struct {
	registry       *prometheus.Registry
	attempts       *prometheus.CounterVec
	passes         *prometheus.CounterVec
	gatewayLatency *prometheus.HistogramVec
	queueDepth     *prometheus.GaugeVec
	notifications  *prometheus.CounterVec
	entries        *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, so several instances
// can coexist in one process (tests, embedded use).
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "attempts_total",
			Help:      "Gateway attempts by outcome.",
		}, []string{"outcome"}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "passes_total",
			Help:      "Drain passes by result.",
		}, []string{"result"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Outbound gateway call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "items",
			Help:      "Queue items by state.",
		}, []string{"state"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "notifications_total",
			Help:      "Gateway notifications by result.",
		}, []string{"result"}),
		entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "entries_settled_total",
			Help:      "Entries reaching a terminal state.",
		}, []string{"kind", "state"}),
	}
	m.registry.MustRegister(
		m.attempts, m.passes, m.gatewayLatency, m.queueDepth, m.notifications, m.entries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Attempt(outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Pass(result string) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(result).Inc()
}

func (m *Metrics) GatewayCall(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayLatency.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) QueueDepth(queued, inFlight int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("queued").Set(float64(queued))
	m.queueDepth.WithLabelValues("in_flight").Set(float64(inFlight))
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) Settled(kind, state string) {
	if m == nil {
		return
	}
	m.entries.WithLabelValues(kind, state).Inc()
}
