package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/streamdvr/internal/domain"
)

// CaptureMetrics observes the capture lifecycle.
type CaptureMetrics struct {
	Transitions *prometheus.CounterVec
	Duration    *prometheus.HistogramVec
}

var _ domain.CaptureObserver = (*CaptureMetrics)(nil)

// NewCaptureMetrics registers capture metrics. pending and inFlight feed
// gauges sampled at scrape time.
func NewCaptureMetrics(reg prometheus.Registerer, pending, inFlight func() int) *CaptureMetrics {
	m := &CaptureMetrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "transitions_total",
			Help:      "Total number of capture lifecycle transitions, by stage.",
		}, []string{"stage"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "duration_seconds",
			Help:      "Wall time of completed captures in seconds, by outcome.",
			Buckets:   []float64{60, 300, 900, 1800, 3600, 2 * 3600, 4 * 3600, 8 * 3600, 16 * 3600},
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.Transitions, m.Duration)

	reg.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "pending",
			Help:      "Number of accepted captures waiting for a worker.",
		}, func() float64 { return float64(pending()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "in_flight",
			Help:      "Number of capture pipelines currently running.",
		}, func() float64 { return float64(inFlight()) }),
	)
	return m
}

func (m *CaptureMetrics) ObserveCapture(event domain.CaptureEvent) {
	m.Transitions.WithLabelValues(string(event.Stage)).Inc()
	if event.Stage == domain.StageFinished || event.Stage == domain.StageFailed {
		m.Duration.WithLabelValues(string(event.Stage)).Observe(event.Elapsed.Seconds())
	}
}
