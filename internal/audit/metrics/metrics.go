package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the audit trail.
type Metrics struct {
	EntriesRecorded    *prometheus.CounterVec
	EntriesAnonymized  prometheus.Counter
	ChainVerifications *prometheus.CounterVec
}

// New creates a new Metrics instance with all audit metrics registered.
func New() *Metrics {
	return &Metrics{
		EntriesRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_audit_entries_recorded_total",
			Help: "Audit entries appended, by action",
		}, []string{"action"}),
		EntriesAnonymized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "passgate_audit_entries_anonymized_total",
			Help: "Audit entries whose actor and origin were cleared by retention",
		}),
		ChainVerifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_audit_chain_verifications_total",
			Help: "Audit chain verifications, by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncrementRecorded(action string) {
	m.EntriesRecorded.WithLabelValues(action).Inc()
}

func (m *Metrics) AddAnonymized(n int) {
	m.EntriesAnonymized.Add(float64(n))
}

func (m *Metrics) IncrementVerification(valid bool) {
	result := "valid"
	if !valid {
		result = "broken"
	}
	m.ChainVerifications.WithLabelValues(result).Inc()
}
