package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the scan path.
type Metrics struct {
	Outcomes *prometheus.CounterVec
	Retries  prometheus.Counter
	Failures *prometheus.CounterVec
	Latency  prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Outcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_scan_outcomes_total",
			Help: "Scan verdicts by status and denial reason",
		}, []string{"status", "reason"}),
		Retries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "passgate_scan_conflict_retries_total",
			Help: "Scans retried after losing a lock or uniqueness race",
		}),
		Failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_scan_failures_total",
			Help: "Scans that ended without a verdict, by error code",
		}, []string{"code"}),
		Latency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "passgate_scan_duration_seconds",
			Help:    "Time to reach a scan verdict",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

func (m *Metrics) IncrementOutcome(status, reason string) {
	m.Outcomes.WithLabelValues(status, reason).Inc()
}

func (m *Metrics) IncrementRetry() {
	m.Retries.Inc()
}

func (m *Metrics) IncrementFailure(code string) {
	m.Failures.WithLabelValues(code).Inc()
}

func (m *Metrics) ObserveLatency(start time.Time) {
	m.Latency.Observe(time.Since(start).Seconds())
}
