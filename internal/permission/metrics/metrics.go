package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts authorization outcomes.
type Metrics struct {
	Decisions *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_authorization_decisions_total",
			Help: "Permission engine decisions, by permission and result",
		}, []string{"permission", "result"}),
	}
}

func (m *Metrics) IncrementDecision(permission string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.Decisions.WithLabelValues(permission, result).Inc()
}
