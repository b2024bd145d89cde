package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects settlement counters exposed by the gateway.
type Metrics struct {
	registry *prometheus.Registry

	ProofBatches    *prometheus.CounterVec
	EventsSettled   *prometheus.CounterVec
	EventsSkipped   *prometheus.CounterVec
	OutboundIntents *prometheus.CounterVec
}

// New registers the bridge metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		ProofBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starbridge",
			Name:      "proof_batches_total",
			Help:      "Inbound proof batches by event kind and result.",
		}, []string{"kind", "result"}),
		EventsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starbridge",
			Name:      "events_settled_total",
			Help:      "Canonical events settled by kind.",
		}, []string{"kind"}),
		EventsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starbridge",
			Name:      "events_skipped_total",
			Help:      "Canonical events skipped inside batches by kind.",
		}, []string{"kind"}),
		OutboundIntents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "starbridge",
			Name:      "outbound_intents_total",
			Help:      "Outbound intents accepted by kind.",
		}, []string{"kind"}),
	}
	registry.MustRegister(m.ProofBatches, m.EventsSettled, m.EventsSkipped, m.OutboundIntents)
	return m
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
