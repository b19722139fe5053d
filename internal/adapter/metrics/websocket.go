package metrics

import "github.com/prometheus/client_golang/prometheus"

// WebSocketMetrics holds Prometheus metrics for capture feed connections.
type WebSocketMetrics struct {
	ActiveConnections prometheus.Gauge
	MessagesPublished prometheus.Counter
	MessagesDropped   prometheus.Counter
}

// NewWebSocketMetrics creates and registers WebSocket metrics on the given registry.
func NewWebSocketMetrics(reg prometheus.Registerer) *WebSocketMetrics {
	m := &WebSocketMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of active WebSocket connections.",
		}),
		MessagesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_published_total",
			Help:      "Total number of WebSocket messages published.",
		}),
		MessagesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_dropped_total",
			Help:      "Total number of messages dropped for slow clients.",
		}),
	}

	reg.MustRegister(m.ActiveConnections, m.MessagesPublished, m.MessagesDropped)
	return m
}

func (m *WebSocketMetrics) ClientConnected()    { m.ActiveConnections.Inc() }
func (m *WebSocketMetrics) ClientDisconnected() { m.ActiveConnections.Dec() }
func (m *WebSocketMetrics) MessagePublished()   { m.MessagesPublished.Inc() }
func (m *WebSocketMetrics) MessageDropped()     { m.MessagesDropped.Inc() }
