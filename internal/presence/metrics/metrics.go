package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks presence toggles.
type Metrics struct {
	Toggles       *prometheus.CounterVec
	VisitDuration prometheus.Histogram
}

func New() *Metrics {
	return &Metrics{
		Toggles: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_presence_toggles_total",
			Help: "Presence toggles, by kind (entered, exited)",
		}, []string{"kind"}),
		VisitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "passgate_visit_duration_minutes",
			Help:    "Length of closed visits in whole minutes",
			Buckets: []float64{5, 15, 30, 60, 120, 240, 480, 720, 1440},
		}),
	}
}

func (m *Metrics) IncrementToggle(kind string) {
	m.Toggles.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveVisit(minutes int) {
	m.VisitDuration.Observe(float64(minutes))
}
