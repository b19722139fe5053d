package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingMetrics struct {
	connected    atomic.Int32
	disconnected atomic.Int32
	published    atomic.Int32
	dropped      atomic.Int32
}

func (m *countingMetrics) ClientConnected()    { m.connected.Add(1) }
func (m *countingMetrics) ClientDisconnected() { m.disconnected.Add(1) }
func (m *countingMetrics) MessagePublished()   { m.published.Add(1) }
func (m *countingMetrics) MessageDropped()     { m.dropped.Add(1) }

func allowAll(*http.Request) bool { return true }

func serveHub(t *testing.T, h *Hub) string {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *ws.Conn {
	t.Helper()
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *ws.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func waitForClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return h.Clients() == n }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_SendsSnapshotOnConnect(t *testing.T) {
	current := []domain.CaptureRequest{{ID: "9001", Login: "foo", DisplayName: "Foo", Title: "Speedrun"}}
	h := NewHub(allowAll, func() []domain.CaptureRequest { return current })

	conn := dial(t, serveHub(t, h))

	msg := readMessage(t, conn)
	assert.Equal(t, "snapshot", msg.Type)
	require.Len(t, msg.Captures, 1)
	assert.Equal(t, "9001", msg.Captures[0].ID)
	assert.Equal(t, "Foo", msg.Captures[0].DisplayName)
	assert.Nil(t, msg.Event)
}

func TestHub_PublishesEventsToEveryClient(t *testing.T) {
	metrics := &countingMetrics{}
	h := NewHub(allowAll, nil, WithMetrics(metrics))
	url := serveHub(t, h)

	a := dial(t, url)
	b := dial(t, url)
	waitForClients(t, h, 2)

	h.ObserveCapture(domain.CaptureEvent{
		Stage:   domain.StageCapturing,
		Capture: domain.CaptureRequest{ID: "9001", Login: "foo"},
	})

	for _, conn := range []*ws.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, "event", msg.Type)
		require.NotNil(t, msg.Event)
		assert.Equal(t, domain.StageCapturing, msg.Event.Stage)
		assert.Equal(t, "9001", msg.Event.Capture.ID)
	}
	assert.Equal(t, int32(2), metrics.connected.Load())
	assert.Equal(t, int32(2), metrics.published.Load())
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	h := NewHub(func(*http.Request) bool { return false }, nil)

	_, resp, err := ws.DefaultDialer.Dial(serveHub(t, h), nil)

	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, h.Clients())
}

func TestHub_RejectsClientsBeyondLimit(t *testing.T) {
	h := NewHub(allowAll, nil, WithMaxClients(1))
	url := serveHub(t, h)

	dial(t, url)
	waitForClients(t, h, 1)

	extra := dial(t, url)
	require.NoError(t, extra.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := extra.ReadMessage()

	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseTryAgainLater, closeErr.Code)
	assert.Equal(t, 1, h.Clients())
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	metrics := &countingMetrics{}
	h := NewHub(allowAll, nil, WithMetrics(metrics))

	conn := dial(t, serveHub(t, h))
	waitForClients(t, h, 1)

	require.NoError(t, conn.Close())

	waitForClients(t, h, 0)
	assert.Equal(t, int32(1), metrics.disconnected.Load())
}

func TestHub_EvictsSlowClient(t *testing.T) {
	serverConn, clientConn := newTestConnPair(t)
	metrics := &countingMetrics{}
	h := NewHub(allowAll, nil, WithMetrics(metrics))

	// no writer goroutine and no buffer, so every send fails
	stalled := &clientWriter{
		connection:  serverConn,
		clock:       clockwork.NewRealClock(),
		sendChannel: make(chan []byte),
		doneChannel: make(chan struct{}),
	}
	h.clients[serverConn] = stalled

	h.ObserveCapture(domain.CaptureEvent{Stage: domain.StageQueued})

	waitForClients(t, h, 0)
	assert.Equal(t, int32(1), metrics.dropped.Load())
	assert.Equal(t, int32(0), metrics.published.Load())

	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := clientConn.ReadMessage()
	assert.Error(t, err)
}

func TestHub_CloseSendsGoingAway(t *testing.T) {
	metrics := &countingMetrics{}
	h := NewHub(allowAll, nil, WithMetrics(metrics))
	url := serveHub(t, h)

	conn := dial(t, url)
	waitForClients(t, h, 1)

	h.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseGoingAway, closeErr.Code)
	assert.Equal(t, "server shutting down", closeErr.Text)
	assert.Equal(t, 0, h.Clients())
	assert.Equal(t, int32(1), metrics.disconnected.Load())

	late := dial(t, url)
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseTryAgainLater, closeErr.Code)
}

func newTestConnPair(t *testing.T) (server *ws.Conn, client *ws.Conn) {
	t.Helper()
	upgrader := ws.Upgrader{CheckOrigin: allowAll}
	ready := make(chan *ws.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		ready <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-ready
	t.Cleanup(func() { serverConn.Close() })

	return serverConn, clientConn
}
