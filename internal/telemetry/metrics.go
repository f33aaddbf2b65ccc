// Package telemetry exposes Prometheus metrics for authorization and key
// lifecycle events.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "keygate"

// Metrics holds the collectors for one server instance. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	decisions        *prometheus.CounterVec
	redemptions      *prometheus.CounterVec
	keysIssued       *prometheus.CounterVec
	freezes          *prometheus.CounterVec
	revocationErrors prometheus.Counter
	failOpen         prometheus.Counter
}

// New creates a Metrics with its own registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_decisions_total",
			Help:      "Authorization decisions by outcome.",
		}, []string{"outcome"}),
		redemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemptions_total",
			Help:      "Redemption attempts by result.",
		}, []string{"result"}),
		keysIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_issued_total",
			Help:      "Keys generated by kind.",
		}, []string{"kind"}),
		freezes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "product_freeze_transitions_total",
			Help:      "Product freeze and unfreeze transitions.",
		}, []string{"action"}),
		revocationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocation_store_errors_total",
			Help:      "Failed revocation store lookups.",
		}),
		failOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revocation_fail_open_total",
			Help:      "Credentials accepted because the revocation store was unreachable.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.decisions,
		m.redemptions,
		m.keysIssued,
		m.freezes,
		m.revocationErrors,
		m.failOpen,
	)
	return m
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRedemption(result string) {
	if m == nil {
		return
	}
	m.redemptions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveKeysIssued(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.keysIssued.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) ObserveFreeze(action string) {
	if m == nil {
		return
	}
	m.freezes.WithLabelValues(action).Inc()
}

// ObserveRevocationError counts a failed revocation lookup, and a fail-open
// admission when failedOpen is set.
func (m *Metrics) ObserveRevocationError(failedOpen bool) {
	if m == nil {
		return
	}
	m.revocationErrors.Inc()
	if failedOpen {
		m.failOpen.Inc()
	}
}
