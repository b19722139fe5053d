package metrics

import "github.com/prometheus/client_golang/prometheus"

// DiscordMetrics tracks chat notifications.
type DiscordMetrics struct {
	Notifications *prometheus.CounterVec
	breakers      *BreakerMetrics
}

func NewDiscordMetrics(reg prometheus.Registerer, breakers *BreakerMetrics) *DiscordMetrics {
	m := &DiscordMetrics{
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "discord",
			Name:      "notifications_total",
			Help:      "Total number of Discord notifications, by outcome.",
		}, []string{"outcome"}),
		breakers: breakers,
	}

	reg.MustRegister(m.Notifications)
	return m
}

func (m *DiscordMetrics) NotificationSent(outcome string) {
	m.Notifications.WithLabelValues(outcome).Inc()
}

func (m *DiscordMetrics) CircuitStateChanged(state string) {
	m.breakers.changed("discord", state)
}
