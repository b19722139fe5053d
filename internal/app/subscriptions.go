package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/pscheid92/streamdvr/internal/platform/logging"
)

// SubscriptionAdmin addresses EventSub subscriptions by broadcaster login.
type SubscriptionAdmin struct {
	users  domain.UserResolver
	subs   domain.SubscriptionService
	logger *slog.Logger
}

var _ domain.SubscriptionAdmin = (*SubscriptionAdmin)(nil)

func NewSubscriptionAdmin(users domain.UserResolver, subs domain.SubscriptionService, logger *slog.Logger) *SubscriptionAdmin {
	return &SubscriptionAdmin{
		users:  users,
		subs:   subs,
		logger: logging.WithComponent(logger, "subscription_admin"),
	}
}

func (a *SubscriptionAdmin) Subscribe(ctx context.Context, login string) ([]domain.Subscription, error) {
	id, err := a.users.IDForLogin(ctx, login)
	if err != nil {
		return nil, err
	}
	subs, err := a.subs.SubscribeAll(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", login, err)
	}
	a.logger.InfoContext(ctx, "Subscribed broadcaster", "login", login, "broadcaster_id", id, "subscriptions", len(subs))
	return subs, nil
}

func (a *SubscriptionAdmin) Unsubscribe(ctx context.Context, login string) error {
	id, err := a.users.IDForLogin(ctx, login)
	if err != nil {
		return err
	}
	if err := a.subs.UnsubscribeAll(ctx, id); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", login, err)
	}
	a.logger.InfoContext(ctx, "Unsubscribed broadcaster", "login", login, "broadcaster_id", id)
	return nil
}

func (a *SubscriptionAdmin) Subscriptions(ctx context.Context) ([]domain.Subscription, error) {
	return a.subs.List(ctx)
}

// SubscribeBroadcasters subscribes every login, continuing past failures.
// It returns the number of broadcasters that could not be subscribed.
func (a *SubscriptionAdmin) SubscribeBroadcasters(ctx context.Context, logins []string) int {
	failed := 0
	for _, login := range logins {
		login = strings.ToLower(strings.TrimSpace(login))
		if login == "" {
			continue
		}
		if _, err := a.Subscribe(ctx, login); err != nil {
			failed++
			a.logger.ErrorContext(ctx, "Failed to subscribe broadcaster", "login", login, "error", err)
		}
	}
	return failed
}
