package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks notification delivery.
type Metrics struct {
	Queued       *prometheus.CounterVec
	Delivered    *prometheus.CounterVec
	Failed       *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
	BreakerState prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Queued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_notifications_queued_total",
			Help: "Notification events accepted into the dispatch buffer",
		}, []string{"kind"}),
		Delivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_notifications_delivered_total",
			Help: "Notification events accepted by the sink",
		}, []string{"kind"}),
		Failed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_notifications_failed_total",
			Help: "Notification events the sink rejected",
		}, []string{"kind"}),
		Dropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "passgate_notifications_dropped_total",
			Help: "Notification events dropped because the buffer was full",
		}, []string{"kind"}),
		BreakerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "passgate_notifications_breaker_open",
			Help: "Sink circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) IncQueued(kind string)    { m.Queued.WithLabelValues(kind).Inc() }
func (m *Metrics) IncDelivered(kind string) { m.Delivered.WithLabelValues(kind).Inc() }
func (m *Metrics) IncFailed(kind string)    { m.Failed.WithLabelValues(kind).Inc() }
func (m *Metrics) IncDropped(kind string)   { m.Dropped.WithLabelValues(kind).Inc() }

func (m *Metrics) SetBreakerOpen(open bool) {
	if open {
		m.BreakerState.Set(1)
		return
	}
	m.BreakerState.Set(0)
}
