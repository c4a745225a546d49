package mutation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeBusy    = "busy"
)

// Metrics holds Prometheus collectors for mutations.
type Metrics struct {
	mutations *prometheus.CounterVec
}

// NewMetrics creates mutation metrics registered on reg. A nil reg yields
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		mutations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reliefdesk_mutations_total",
				Help: "Mutations by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
	}
}

func (m *Metrics) record(op, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, outcome).Inc()
}
