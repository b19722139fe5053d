// Package discord posts chat notifications to a Discord webhook.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/pscheid92/streamdvr/internal/platform/logging"
	"github.com/pscheid92/streamdvr/internal/platform/version"
	"golang.org/x/time/rate"
)

const (
	username = "LiveStreamDVR"
	// maxContentRunes is Discord's message length limit.
	maxContentRunes = 2000
	httpTimeout     = 10 * time.Second
	maxErrorBody    = 4 << 10
)

// ErrCircuitOpen is returned while the webhook is considered down.
var ErrCircuitOpen = errors.New("discord: webhook circuit open")

// SettingsReader looks up the webhook URL, which operators may change at runtime.
type SettingsReader interface {
	Get(ctx context.Context, key string) (string, error)
}

// Metrics receives notification outcomes and breaker transitions.
type Metrics interface {
	NotificationSent(outcome string)
	CircuitStateChanged(state string)
}

type payload struct {
	Username        string          `json:"username"`
	Content         string          `json:"content"`
	TTS             bool            `json:"tts"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type allowedMentions struct {
	Parse       []string `json:"parse"`
	Roles       []string `json:"roles"`
	Users       []string `json:"users"`
	RepliedUser bool     `json:"replied_user"`
}

// Notifier posts plain messages with all mentions disabled. It is a no-op
// while no webhook URL is configured.
type Notifier struct {
	settings   SettingsReader
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    circuitbreaker.CircuitBreaker[any]
	logger     *slog.Logger
	metrics    Metrics
}

var _ domain.Notifier = (*Notifier)(nil)

type Option func(*Notifier)

func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.httpClient = c }
}

func WithRateLimiter(l *rate.Limiter) Option {
	return func(n *Notifier) { n.limiter = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(n *Notifier) { n.logger = logging.WithComponent(l, "discord") }
}

func WithMetrics(m Metrics) Option {
	return func(n *Notifier) { n.metrics = m }
}

// NewNotifier creates a notifier. Discord allows 5 webhook calls per 2
// seconds; the default limiter stays under that. The breaker opens at a 60%
// failure rate over at least 5 calls in 10s and probes again after 30s.
func NewNotifier(settings SettingsReader, opts ...Option) *Notifier {
	n := &Notifier{
		settings:   settings,
		httpClient: &http.Client{Timeout: httpTimeout},
		limiter:    rate.NewLimiter(rate.Every(500*time.Millisecond), 4),
		logger:     logging.WithComponent(slog.Default(), "discord"),
	}
	for _, opt := range opts {
		opt(n)
	}

	n.breaker = circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			n.logger.Warn("Circuit breaker state changed", "from", e.OldState.String(), "to", e.NewState.String())
			if n.metrics != nil {
				n.metrics.CircuitStateChanged(e.NewState.String())
			}
		}).
		Build()
	return n
}

func (n *Notifier) Notify(ctx context.Context, content string) error {
	webhookURL, err := n.settings.Get(ctx, domain.SettingDiscordWebhookURL)
	if errors.Is(err, domain.ErrSettingNotFound) || (err == nil && strings.TrimSpace(webhookURL) == "") {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read discord webhook url: %w", err)
	}

	err = n.send(ctx, webhookURL, content)
	n.record(err)
	return err
}

func (n *Notifier) send(ctx context.Context, webhookURL, content string) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("discord rate limit wait: %w", err)
	}
	if !n.breaker.TryAcquirePermit() {
		return ErrCircuitOpen
	}

	body, err := json.Marshal(newPayload(content))
	if err != nil {
		return fmt.Errorf("encode discord payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		n.breaker.RecordSuccess()
		return fmt.Errorf("build discord request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.breaker.RecordError(err)
		return fmt.Errorf("post discord webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		n.breaker.RecordSuccess()
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	err = fmt.Errorf("discord webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	// a rejected payload or a deleted webhook says nothing about availability
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		n.breaker.RecordError(err)
	} else {
		n.breaker.RecordSuccess()
	}
	return err
}

func (n *Notifier) record(err error) {
	if n.metrics == nil {
		return
	}
	switch {
	case err == nil:
		n.metrics.NotificationSent("sent")
	case errors.Is(err, ErrCircuitOpen):
		n.metrics.NotificationSent("circuit_open")
	default:
		n.metrics.NotificationSent("error")
	}
}

func newPayload(content string) payload {
	if r := []rune(content); len(r) > maxContentRunes {
		content = string(r[:maxContentRunes-1]) + "…"
	}
	return payload{
		Username: username,
		Content:  content,
		AllowedMentions: allowedMentions{
			Parse: []string{},
			Roles: []string{},
			Users: []string{},
		},
	}
}
