// Package metrics exposes the broker's observability surface over
// Prometheus (SPEC_FULL.md §6 DOMAIN STACK ADDITION). This is ambient
// instrumentation, not one of spec.md's four core subsystems: a broker run
// without a metrics address configured never touches this package's HTTP
// handler, only its counters, which are cheap no-ops to increment.
// Grounded on golang-io-mqtt's stat.go (a registered Stat struct of
// prometheus.Counter/Gauge fields served over promhttp.Handler).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the broker's Prometheus collectors (SPEC_FULL.md §6).
type Metrics struct {
	SessionsActive    prometheus.Gauge
	PublishesTotal    *prometheus.CounterVec
	SubscribesTotal   *prometheus.CounterVec
	UnsubscribesTotal *prometheus.CounterVec
	AuthRefusalsTotal prometheus.Counter

	registry *prometheus.Registry
}

// New constructs a Metrics bound to a fresh registry, so multiple Broker
// instances in one process (as the test suite spins up) never collide on
// prometheus's default global registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dragonfly_sessions_active",
			Help: "Number of currently connected sessions.",
		}),
		PublishesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dragonfly_publishes_total",
			Help: "Total PUBLISH messages processed, labeled by ack code.",
		}, []string{"code"}),
		SubscribesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dragonfly_subscribes_total",
			Help: "Total SUBSCRIBE messages processed, labeled by ack code.",
		}, []string{"code"}),
		UnsubscribesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dragonfly_unsubscribes_total",
			Help: "Total UNSUBSCRIBE messages processed, labeled by ack code.",
		}, []string{"code"}),
		AuthRefusalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dragonfly_auth_refusals_total",
			Help: "Total authorization refusals across CONNECT/PUBLISH/SUBSCRIBE.",
		}),
		registry: reg,
	}

	reg.MustRegister(
		m.SessionsActive,
		m.PublishesTotal,
		m.SubscribesTotal,
		m.UnsubscribesTotal,
		m.AuthRefusalsTotal,
	)

	return m
}

// Handler returns the /metrics HTTP handler for this Metrics' registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
