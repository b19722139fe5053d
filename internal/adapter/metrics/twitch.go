package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TwitchMetrics tracks calls to the Twitch OAuth and Helix APIs.
type TwitchMetrics struct {
	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	TokensIssued    *prometheus.CounterVec
}

func NewTwitchMetrics(reg prometheus.Registerer) *TwitchMetrics {
	m := &TwitchMetrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "twitch",
			Name:      "requests_total",
			Help:      "Total number of Twitch API requests, by endpoint and status code.",
		}, []string{"endpoint", "status_code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "twitch",
			Name:      "request_duration_seconds",
			Help:      "Duration of Twitch API requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		TokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "twitch",
			Name:      "token_requests_total",
			Help:      "Total number of app access token requests, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.Requests, m.RequestDuration, m.TokensIssued)
	return m
}

// RequestCompleted records one request; status 0 means no response.
func (m *TwitchMetrics) RequestCompleted(endpoint string, status int, elapsed time.Duration) {
	m.Requests.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func (m *TwitchMetrics) TokenIssued(err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.TokensIssued.WithLabelValues(result).Inc()
}
