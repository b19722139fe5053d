package domain

import (
	"context"
	"time"
)

// Stream is a live broadcast as reported by the Helix streams endpoint.
type Stream struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserLogin string    `json:"userLogin"`
	UserName  string    `json:"userName"`
	GameName  string    `json:"gameName"`
	Title     string    `json:"title"`
	Type      string    `json:"type"`
	Viewers   int       `json:"viewerCount"`
	StartedAt time.Time `json:"startedAt"`
}

// Video is an archived broadcast or upload.
type Video struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	UserLogin string `json:"userLogin"`
	UserName  string `json:"userName"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Type      string `json:"type"`
	Duration  string `json:"duration"`
	CreatedAt string `json:"createdAt"`
}

// Subscription is one EventSub subscription held by this application.
type Subscription struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Version       string    `json:"version"`
	Status        string    `json:"status"`
	BroadcasterID string    `json:"broadcasterId"`
	Callback      string    `json:"callback"`
	CreatedAt     time.Time `json:"createdAt"`
}

// StreamLookup resolves channels and videos against the platform API.
type StreamLookup interface {
	StreamsByLogin(ctx context.Context, login string) ([]Stream, error)
	VideoByID(ctx context.Context, id string) (*Video, error)
}

// UserResolver maps between broadcaster logins and ids.
type UserResolver interface {
	IDForLogin(ctx context.Context, login string) (string, error)
	LoginForID(ctx context.Context, id string) (string, error)
}

// SubscriptionService manages the EventSub subscription set per broadcaster.
type SubscriptionService interface {
	SubscribeAll(ctx context.Context, broadcasterID string) ([]Subscription, error)
	UnsubscribeAll(ctx context.Context, broadcasterID string) error
	List(ctx context.Context) ([]Subscription, error)
}

// Notifier posts human-readable messages to an outbound chat channel.
type Notifier interface {
	Notify(ctx context.Context, content string) error
}
