// Package metrics exposes Prometheus metrics for secret retrieval.
package metrics

import (
	"context"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/florianilch/credkeep/internal/retrieval"
	"github.com/florianilch/credkeep/internal/secret"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	retrievals *prometheus.CounterVec
	signOuts   *prometheus.CounterVec
}

// Compile-time check to ensure Metrics implements retrieval.Observer
var _ retrieval.Observer = (*Metrics)(nil)

// New creates Metrics registered on a new registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		retrievals: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credkeep_retrievals_total",
				Help: "Total number of secret retrievals by outcome",
			},
			[]string{"kind", "behavior", "outcome"},
		),
		signOuts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credkeep_sign_outs_total",
				Help: "Total number of sign-outs by auth type and whether a secret was removed",
			},
			[]string{"auth_type", "removed"},
		),
	}
}

// ObserveRetrieval implements retrieval.Observer.
func (m *Metrics) ObserveRetrieval(_ context.Context, kind secret.Kind, behavior retrieval.PromptBehavior, outcome retrieval.Outcome) {
	m.retrievals.WithLabelValues(string(kind), behavior.String(), string(outcome)).Inc()
}

// ObserveSignOut records a sign-out.
func (m *Metrics) ObserveSignOut(authType string, removed bool) {
	m.signOuts.WithLabelValues(authType, strconv.FormatBool(removed)).Inc()
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
