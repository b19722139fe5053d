package domain

import "context"

// TwitchService backs the read-only Twitch lookup endpoints.
type TwitchService interface {
	StreamsForChannelURL(ctx context.Context, channelURL string) ([]Stream, error)
	VideoForURL(ctx context.Context, videoURL string) (*Video, error)
}

// SubscriptionAdmin backs the subscription admin endpoints, which address
// broadcasters by login.
type SubscriptionAdmin interface {
	Subscribe(ctx context.Context, login string) ([]Subscription, error)
	Unsubscribe(ctx context.Context, login string) error
	Subscriptions(ctx context.Context) ([]Subscription, error)
}

// SettingsService backs the settings admin endpoints. Values of keys
// containing "secret" are masked on read.
type SettingsService interface {
	All(ctx context.Context) (map[string]string, error)
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}
