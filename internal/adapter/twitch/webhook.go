package twitch

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/streamdvr/internal/platform/logging"
)

const (
	headerMessageID        = "Twitch-Eventsub-Message-Id"
	headerMessageType      = "Twitch-Eventsub-Message-Type"
	headerMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"

	messageTypeNotification = "notification"
	messageTypeVerification = "webhook_callback_verification"
	messageTypeRevocation   = "revocation"

	maxWebhookBody = 1 << 20
	// maxMessageAge rejects replays; Twitch redelivers within this window.
	maxMessageAge = 10 * time.Minute
	// deliveryTimeout bounds how long a delivery waits for the dispatcher.
	deliveryTimeout = 5 * time.Second
)

// MessageTypeHeader carries the EventSub delivery kind, one of MessageTypes.
const MessageTypeHeader = headerMessageType

var MessageTypes = []string{messageTypeNotification, messageTypeVerification, messageTypeRevocation}

// Notification is one verified EventSub delivery. Exactly one of the event
// fields is set, or Revoked is true.
type Notification struct {
	MessageID     string
	Subscription  helix.EventSubSubscription
	ChannelUpdate *helix.EventSubChannelUpdateEvent
	StreamOnline  *helix.EventSubStreamOnlineEvent
	StreamOffline *helix.EventSubStreamOfflineEvent
	Revoked       bool
}

type envelope struct {
	Challenge    string                     `json:"challenge"`
	Subscription helix.EventSubSubscription `json:"subscription"`
	Event        json.RawMessage            `json:"event"`
}

// WebhookHandler verifies EventSub deliveries and forwards them as typed
// notifications to a single consumer.
type WebhookHandler struct {
	secret string
	out    chan Notification
	clock  clockwork.Clock
	logger *slog.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

type WebhookOption func(*WebhookHandler)

func WithWebhookClock(clock clockwork.Clock) WebhookOption {
	return func(h *WebhookHandler) { h.clock = clock }
}

func WithWebhookLogger(logger *slog.Logger) WebhookOption {
	return func(h *WebhookHandler) { h.logger = logging.WithComponent(logger, "twitch_webhook") }
}

func NewWebhookHandler(secret string, buffer int, opts ...WebhookOption) *WebhookHandler {
	h := &WebhookHandler{
		secret: secret,
		out:    make(chan Notification, buffer),
		clock:  clockwork.NewRealClock(),
		logger: logging.WithComponent(slog.Default(), "twitch_webhook"),
		seen:   make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Notifications is consumed by the Dispatcher.
func (h *WebhookHandler) Notifications() <-chan Notification {
	return h.out
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "cannot read body", http.StatusBadRequest)
		return
	}

	if !helix.VerifyEventSubNotification(h.secret, r.Header, string(body)) {
		h.logger.WarnContext(r.Context(), "Rejected EventSub delivery with invalid signature", "remote_addr", r.RemoteAddr)
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	ts, err := time.Parse(time.RFC3339Nano, r.Header.Get(headerMessageTimestamp))
	if err != nil || h.clock.Since(ts) > maxMessageAge {
		h.logger.WarnContext(r.Context(), "Rejected stale EventSub delivery", "timestamp", r.Header.Get(headerMessageTimestamp))
		http.Error(w, "stale message", http.StatusForbidden)
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	messageID := r.Header.Get(headerMessageID)
	ctx := logging.WithAttrs(r.Context(),
		slog.String("message_id", messageID),
		slog.String("subscription_type", env.Subscription.Type),
		slog.String("broadcaster_id", env.Subscription.Condition.BroadcasterUserID))

	switch r.Header.Get(headerMessageType) {
	case messageTypeVerification:
		h.logger.InfoContext(ctx, "EventSub webhook verification")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, env.Challenge)
		return

	case messageTypeRevocation:
		h.logger.WarnContext(ctx, "EventSub subscription revoked", "status", env.Subscription.Status)
		h.deliver(w, r, Notification{MessageID: messageID, Subscription: env.Subscription, Revoked: true})
		return

	case messageTypeNotification:
		n, err := decodeNotification(messageID, env)
		if err != nil {
			h.logger.ErrorContext(ctx, "Failed to parse EventSub event", "error", err)
			http.Error(w, "malformed event", http.StatusBadRequest)
			return
		}
		if n == nil {
			h.logger.DebugContext(ctx, "Ignoring unhandled EventSub notification")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if h.duplicate(messageID) {
			h.logger.DebugContext(ctx, "Ignoring redelivered EventSub notification")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		h.deliver(w, r, *n)
		return

	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *WebhookHandler) deliver(w http.ResponseWriter, r *http.Request, n Notification) {
	timer := h.clock.NewTimer(deliveryTimeout)
	defer timer.Stop()

	select {
	case h.out <- n:
		w.WriteHeader(http.StatusNoContent)
	case <-timer.Chan():
		h.forget(n.MessageID)
		h.logger.ErrorContext(r.Context(), "Dispatcher busy, asking Twitch to redeliver", "message_id", n.MessageID)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	case <-r.Context().Done():
		h.forget(n.MessageID)
	}
}

// duplicate records id and reports whether it was already seen recently.
func (h *WebhookHandler) duplicate(id string) bool {
	if id == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()
	for k, at := range h.seen {
		if now.Sub(at) > maxMessageAge {
			delete(h.seen, k)
		}
	}
	if _, ok := h.seen[id]; ok {
		return true
	}
	h.seen[id] = now
	return false
}

func (h *WebhookHandler) forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.seen, id)
}

func decodeNotification(messageID string, env envelope) (*Notification, error) {
	n := &Notification{MessageID: messageID, Subscription: env.Subscription}

	var target any
	switch env.Subscription.Type {
	case helix.EventSubTypeChannelUpdate:
		n.ChannelUpdate = &helix.EventSubChannelUpdateEvent{}
		target = n.ChannelUpdate
	case helix.EventSubTypeStreamOnline:
		n.StreamOnline = &helix.EventSubStreamOnlineEvent{}
		target = n.StreamOnline
	case helix.EventSubTypeStreamOffline:
		n.StreamOffline = &helix.EventSubStreamOfflineEvent{}
		target = n.StreamOffline
	default:
		return nil, nil
	}

	if err := json.Unmarshal(env.Event, target); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", env.Subscription.Type, err)
	}
	return n, nil
}
