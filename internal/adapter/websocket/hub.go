// Package websocket serves the live capture event feed.
package websocket

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/pscheid92/streamdvr/internal/platform/logging"
)

const defaultMaxClients = 64

// ErrHubClosed is returned for connections arriving after Close.
var ErrHubClosed = errors.New("capture feed is shutting down")

// Metrics receives connection and delivery counts.
type Metrics interface {
	ClientConnected()
	ClientDisconnected()
	MessagePublished()
	MessageDropped()
}

// Message is one frame of the feed. A snapshot of current captures is sent
// on connect, followed by one event per lifecycle transition.
type Message struct {
	Type     string                  `json:"type"`
	Captures []domain.CaptureRequest `json:"captures,omitempty"`
	Event    *domain.CaptureEvent    `json:"event,omitempty"`
}

// Hub fans capture events out to connected feed clients. Slow clients are
// disconnected rather than allowed to block capture goroutines.
type Hub struct {
	upgrader   websocket.Upgrader
	snapshot   func() []domain.CaptureRequest
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    Metrics
	maxClients int

	mu      sync.Mutex
	clients map[*websocket.Conn]*clientWriter
	closed  bool
}

var _ domain.CaptureObserver = (*Hub)(nil)

type Option func(*Hub)

func WithClock(clock clockwork.Clock) Option {
	return func(h *Hub) { h.clock = clock }
}

func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) { h.logger = logging.WithComponent(logger, "capture_feed") }
}

func WithMetrics(m Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

func WithMaxClients(n int) Option {
	return func(h *Hub) { h.maxClients = n }
}

// NewHub creates a hub. snapshot lists the captures in progress and may be nil.
func NewHub(checkOrigin func(*http.Request) bool, snapshot func() []domain.CaptureRequest, opts ...Option) *Hub {
	h := &Hub{
		upgrader:   websocket.Upgrader{CheckOrigin: checkOrigin},
		snapshot:   snapshot,
		clock:      clockwork.NewRealClock(),
		logger:     logging.WithComponent(slog.Default(), "capture_feed"),
		maxClients: defaultMaxClients,
		clients:    make(map[*websocket.Conn]*clientWriter),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and keeps the connection registered until
// the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error
		h.logger.DebugContext(r.Context(), "Capture feed upgrade failed", "error", err)
		return
	}

	cw, err := h.register(conn)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Rejecting capture feed client", "remote_addr", r.RemoteAddr, "error", err)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, h.clock.Now().Add(writeDeadline))
		_ = conn.Close()
		return
	}
	h.logger.DebugContext(r.Context(), "Capture feed client connected", "remote_addr", r.RemoteAddr)

	if h.snapshot != nil {
		if data, err := json.Marshal(Message{Type: "snapshot", Captures: h.snapshot()}); err == nil {
			cw.trySend(data)
		}
	}

	// Reading drives pong handling and notices disconnects; clients send nothing.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(conn)
}

func (h *Hub) register(conn *websocket.Conn) (*clientWriter, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrHubClosed
	}
	if len(h.clients) >= h.maxClients {
		return nil, errors.New("too many capture feed clients")
	}

	cw := newClientWriter(conn, h.clock)
	h.clients[conn] = cw
	if h.metrics != nil {
		h.metrics.ClientConnected()
	}
	return cw, nil
}

func (h *Hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	cw, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()

	if !ok {
		return
	}
	cw.stop()
	if h.metrics != nil {
		h.metrics.ClientDisconnected()
	}
}

// ObserveCapture publishes event to every client without blocking.
func (h *Hub) ObserveCapture(event domain.CaptureEvent) {
	data, err := json.Marshal(Message{Type: "event", Event: &event})
	if err != nil {
		h.logger.Error("Failed to marshal capture event", "error", err)
		return
	}

	var slow []*websocket.Conn
	h.mu.Lock()
	for conn, cw := range h.clients {
		if cw.trySend(data) {
			if h.metrics != nil {
				h.metrics.MessagePublished()
			}
			continue
		}
		slow = append(slow, conn)
	}
	h.mu.Unlock()

	for _, conn := range slow {
		h.logger.Warn("Disconnecting slow capture feed client", "remote_addr", conn.RemoteAddr().String())
		if h.metrics != nil {
			h.metrics.MessageDropped()
		}
		// closing makes the read loop in ServeHTTP exit and unregister
		go h.unregister(conn)
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client with a close frame and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := h.clients
	h.clients = make(map[*websocket.Conn]*clientWriter)
	h.mu.Unlock()

	for _, cw := range clients {
		cw.stopGraceful("server shutting down")
		if h.metrics != nil {
			h.metrics.ClientDisconnected()
		}
	}
	h.logger.Info("Capture feed closed", "disconnected_clients", len(clients))
}
