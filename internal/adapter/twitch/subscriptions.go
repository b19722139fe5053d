package twitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/pscheid92/streamdvr/internal/platform/logging"
	"github.com/pscheid92/streamdvr/internal/platform/retry"
)

const (
	retryInitialBackoff   = 1 * time.Second
	retryRateLimitBackoff = 30 * time.Second
)

// subscriptionSet is created and removed together for every broadcaster.
var subscriptionSet = []struct{ typ, version string }{
	{helix.EventSubTypeChannelUpdate, "2"},
	{helix.EventSubTypeStreamOnline, "1"},
	{helix.EventSubTypeStreamOffline, "1"},
}

type subscriptionAPI interface {
	createSubscription(ctx context.Context, req subscriptionRequest) (*helix.EventSubSubscription, error)
	DeleteEventSubSubscription(ctx context.Context, id string) error
	EventSubSubscriptions(ctx context.Context, f SubscriptionFilter) (*helix.ManyEventSubSubscriptions, error)
}

// SubscriptionManager keeps the webhook subscription set of each broadcaster
// all-or-nothing.
type SubscriptionManager struct {
	client      subscriptionAPI
	callbackURL string
	secret      string
	policy      retry.Policy
	logger      *slog.Logger
}

type SubscriptionOption func(*SubscriptionManager)

// WithRetryPolicy overrides how transient API failures are retried per call.
func WithRetryPolicy(p retry.Policy) SubscriptionOption {
	return func(m *SubscriptionManager) { m.policy = p }
}

func WithSubscriptionLogger(logger *slog.Logger) SubscriptionOption {
	return func(m *SubscriptionManager) { m.logger = logging.WithComponent(logger, "twitch_subscriptions") }
}

func NewSubscriptionManager(client *Client, callbackURL, secret string, opts ...SubscriptionOption) *SubscriptionManager {
	m := &SubscriptionManager{
		client:      client,
		callbackURL: callbackURL,
		secret:      secret,
		policy: retry.Policy{
			MaxAttempts:      3,
			InitialBackoff:   retryInitialBackoff,
			RateLimitBackoff: retryRateLimitBackoff,
		},
		logger: logging.WithComponent(slog.Default(), "twitch_subscriptions"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SubscribeAll creates channel.update, stream.online and stream.offline for
// broadcasterID. If any of them fails, the ones created by this call are
// deleted again and the original error is returned.
func (m *SubscriptionManager) SubscribeAll(ctx context.Context, broadcasterID string) ([]domain.Subscription, error) {
	ctx = logging.WithAttrs(ctx, slog.String("broadcaster_id", broadcasterID))

	subs := make([]domain.Subscription, 0, len(subscriptionSet))
	// adopted subscriptions predate this call and survive a rollback
	var created []domain.Subscription
	for _, s := range subscriptionSet {
		sub, adopted, err := m.create(ctx, broadcasterID, s.typ, s.version)
		if err != nil {
			m.logger.ErrorContext(ctx, "EventSub subscribe failed, rolling back", "type", s.typ, "created", len(created), "adopted", len(subs)-len(created), "error", err)
			m.rollback(ctx, created)
			return nil, err
		}
		subs = append(subs, toDomainSubscription(*sub))
		if !adopted {
			created = append(created, toDomainSubscription(*sub))
		}
	}

	m.logger.InfoContext(ctx, "Subscribed to stream events", "subscriptions", len(subs), "adopted", len(subs)-len(created))
	return subs, nil
}

// create reports adopted when the subscription already existed and was
// looked up instead of created.
func (m *SubscriptionManager) create(ctx context.Context, broadcasterID, typ, version string) (*helix.EventSubSubscription, bool, error) {
	req := subscriptionRequest{
		Type:      typ,
		Version:   version,
		Condition: subscriptionCondition{BroadcasterUserID: broadcasterID},
		Transport: helix.EventSubTransport{
			Method:   "webhook",
			Callback: m.callbackURL,
			Secret:   m.secret,
		},
	}

	p := m.policy
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		m.logger.WarnContext(ctx, "EventSub subscribe failed, retrying", "type", typ, "attempt", attempt, "backoff_seconds", backoff.Seconds(), "error", err)
	}

	adopted := false
	sub, err := retry.Do(ctx, p, classifyError, func(ctx context.Context) (*helix.EventSubSubscription, error) {
		sub, err := m.client.createSubscription(ctx, req)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
			m.logger.InfoContext(ctx, "EventSub subscription already exists, adopting it", "type", typ)
			if existing, findErr := m.findExisting(ctx, broadcasterID, typ); findErr == nil {
				adopted = true
				return existing, nil
			}
		}
		return sub, err
	})
	if err != nil {
		return nil, false, unwrapPermanent(err)
	}
	return sub, adopted, nil
}

func (m *SubscriptionManager) findExisting(ctx context.Context, broadcasterID, typ string) (*helix.EventSubSubscription, error) {
	var found *helix.EventSubSubscription
	err := m.each(ctx, SubscriptionFilter{Type: typ}, func(sub helix.EventSubSubscription) {
		if found == nil && sub.Condition.BroadcasterUserID == broadcasterID && sub.Transport.Callback == m.callbackURL {
			found = &sub
		}
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("%s subscription for %s not found despite conflict", typ, broadcasterID)
	}
	return found, nil
}

func (m *SubscriptionManager) rollback(ctx context.Context, created []domain.Subscription) {
	// the caller's context may be the reason we are rolling back
	ctx = context.WithoutCancel(ctx)
	for _, sub := range created {
		if err := m.delete(ctx, sub.ID); err != nil {
			m.logger.ErrorContext(ctx, "Failed to roll back EventSub subscription, it may be orphaned", "subscription_id", sub.ID, "type", sub.Type, "error", err)
		}
	}
}

// UnsubscribeAll deletes every subscription held for broadcasterID. Single
// deletion failures are logged and do not stop the others.
func (m *SubscriptionManager) UnsubscribeAll(ctx context.Context, broadcasterID string) error {
	ctx = logging.WithAttrs(ctx, slog.String("broadcaster_id", broadcasterID))

	var ids []string
	err := m.each(ctx, SubscriptionFilter{}, func(sub helix.EventSubSubscription) {
		if sub.Condition.BroadcasterUserID == broadcasterID {
			ids = append(ids, sub.ID)
		}
	})
	if err != nil {
		return err
	}

	failed := 0
	for _, id := range ids {
		if err := m.delete(ctx, id); err != nil {
			failed++
			m.logger.ErrorContext(ctx, "EventSub unsubscribe failed, subscription may be orphaned", "subscription_id", id, "error", err)
		}
	}

	m.logger.InfoContext(ctx, "Unsubscribed from stream events", "deleted", len(ids)-failed, "failed", failed)
	return nil
}

// List returns every subscription of the application across all pages.
func (m *SubscriptionManager) List(ctx context.Context) ([]domain.Subscription, error) {
	out := []domain.Subscription{}
	err := m.each(ctx, SubscriptionFilter{}, func(sub helix.EventSubSubscription) {
		out = append(out, toDomainSubscription(sub))
	})
	return out, err
}

func (m *SubscriptionManager) each(ctx context.Context, f SubscriptionFilter, fn func(helix.EventSubSubscription)) error {
	for {
		page, err := m.client.EventSubSubscriptions(ctx, f)
		if err != nil {
			return fmt.Errorf("list EventSub subscriptions: %w", err)
		}
		for _, sub := range page.EventSubSubscriptions {
			fn(sub)
		}
		if page.Pagination.Cursor == "" || page.Pagination.Cursor == f.After {
			return nil
		}
		f.After = page.Pagination.Cursor
	}
}

func (m *SubscriptionManager) delete(ctx context.Context, id string) error {
	p := m.policy
	p.OnRetry = func(attempt int, err error, backoff time.Duration) {
		m.logger.WarnContext(ctx, "EventSub unsubscribe failed, retrying", "subscription_id", id, "attempt", attempt, "backoff_seconds", backoff.Seconds(), "error", err)
	}

	err := retry.DoVoid(ctx, p, classifyError, func(ctx context.Context) error {
		err := m.client.DeleteEventSubSubscription(ctx, id)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return err
	})
	return unwrapPermanent(err)
}

func classifyError(err error) retry.Action {
	if errors.Is(err, ErrUnauthorized) {
		return retry.Stop
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return retry.Retry
	}

	switch {
	case apiErr.StatusCode == http.StatusTooManyRequests:
		return retry.After
	case apiErr.StatusCode >= 500:
		return retry.Retry
	default:
		return retry.Stop
	}
}

// unwrapPermanent hands callers the platform error itself for non-retryable failures.
func unwrapPermanent(err error) error {
	var perm *retry.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

func toDomainSubscription(sub helix.EventSubSubscription) domain.Subscription {
	return domain.Subscription{
		ID:            sub.ID,
		Type:          sub.Type,
		Version:       sub.Version,
		Status:        sub.Status,
		BroadcasterID: sub.Condition.BroadcasterUserID,
		Callback:      sub.Transport.Callback,
		CreatedAt:     sub.CreatedAt.Time,
	}
}
