package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for scheduled compliance jobs.
type Metrics struct {
	JobRuns      *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	PassScrubbed prometheus.Counter
	Reminders    prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		JobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_compliance_job_runs_total",
			Help: "Compliance job runs by job and result",
		}, []string{"job", "result"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "passgate_compliance_job_duration_seconds",
			Help:    "Wall time of one compliance job run",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		PassScrubbed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "passgate_pass_contact_scrubbed_total",
			Help: "Passes whose contact fields were erased after retention",
		}),
		Reminders: promauto.NewCounter(prometheus.CounterOpts{
			Name: "passgate_expiry_reminders_total",
			Help: "pass_expiring notifications queued",
		}),
	}
}

func (m *Metrics) ObserveRun(job string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.JobRuns.WithLabelValues(job, result).Inc()
	m.JobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
}

func (m *Metrics) AddScrubbed(n int) {
	m.PassScrubbed.Add(float64(n))
}

func (m *Metrics) IncrementReminder() {
	m.Reminders.Inc()
}
