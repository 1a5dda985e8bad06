package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks pass lifecycle activity.
type Metrics struct {
	PassesIssued *prometheus.CounterVec
	Transitions  *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		PassesIssued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_passes_issued_total",
			Help: "Passes issued, by initial status",
		}, []string{"status"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_pass_transitions_total",
			Help: "Persisted pass status transitions, by target status",
		}, []string{"to"}),
	}
}

func (m *Metrics) IncrementIssued(status string) {
	m.PassesIssued.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementTransition(to string) {
	m.Transitions.WithLabelValues(to).Inc()
}
