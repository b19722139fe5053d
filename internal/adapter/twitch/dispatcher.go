package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/pscheid92/streamdvr/internal/platform/logging"
)

const unknownTitle = "Unknown title"

// ChannelStatusCache remembers the latest channel.update per broadcaster so
// stream.online, which carries no title, can be enriched. Entries are never
// evicted; there is one per broadcaster that ever sent an update.
type ChannelStatusCache struct {
	mu       sync.RWMutex
	channels map[string]helix.EventSubChannelUpdateEvent
}

func NewChannelStatusCache() *ChannelStatusCache {
	return &ChannelStatusCache{channels: make(map[string]helix.EventSubChannelUpdateEvent)}
}

func (c *ChannelStatusCache) Put(update helix.EventSubChannelUpdateEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[update.BroadcasterUserID] = update
}

func (c *ChannelStatusCache) Get(broadcasterID string) (helix.EventSubChannelUpdateEvent, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.channels[broadcasterID]
	return u, ok
}

// Title returns the last known title of broadcasterID, or "Unknown title".
func (c *ChannelStatusCache) Title(broadcasterID string) string {
	if u, ok := c.Get(broadcasterID); ok {
		return u.Title
	}
	return unknownTitle
}

// Enqueuer accepts capture requests.
type Enqueuer interface {
	Enqueue(req domain.CaptureRequest) (bool, error)
}

// Dispatcher consumes webhook notifications on a single goroutine: it
// caches channel updates, queues captures for streams going online and
// sends chat notifications.
type Dispatcher struct {
	notifications <-chan Notification
	queue         Enqueuer
	notifier      domain.Notifier
	cache         *ChannelStatusCache
	logger        *slog.Logger

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher; notifier may be nil to disable chat notifications.
func NewDispatcher(notifications <-chan Notification, queue Enqueuer, notifier domain.Notifier, cache *ChannelStatusCache, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = NewChannelStatusCache()
	}
	return &Dispatcher{
		notifications: notifications,
		queue:         queue,
		notifier:      notifier,
		cache:         cache,
		logger:        logging.WithComponent(logger, "twitch_dispatcher"),
	}
}

// Run dispatches until ctx is cancelled or the notification channel closes,
// then waits for pending chat notifications.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer d.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n, ok := <-d.notifications:
			if !ok {
				return nil
			}
			d.handle(ctx, n)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, n Notification) {
	ctx = logging.WithAttrs(ctx,
		slog.String("message_id", n.MessageID),
		slog.String("broadcaster_id", n.Subscription.Condition.BroadcasterUserID))

	switch {
	case n.Revoked:
		d.logger.WarnContext(ctx, "Subscription revoked by Twitch", "subscription_id", n.Subscription.ID, "type", n.Subscription.Type, "status", n.Subscription.Status)

	case n.ChannelUpdate != nil:
		u := *n.ChannelUpdate
		d.cache.Put(u)
		d.logger.InfoContext(ctx, "Channel updated", "login", u.BroadcasterUserLogin, "title", u.Title, "category", u.CategoryName)
		d.notify(ctx, channelUpdatedMessage(u))

	case n.StreamOnline != nil:
		e := *n.StreamOnline
		req := domain.CaptureRequest{
			ID:          e.ID,
			Login:       e.BroadcasterUserLogin,
			DisplayName: e.BroadcasterUserName,
			Title:       d.cache.Title(e.BroadcasterUserID),
			StartedAt:   e.StartedAt.Time,
		}
		accepted, err := d.queue.Enqueue(req)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to queue capture for stream", "stream_id", e.ID, "login", e.BroadcasterUserLogin, "error", err)
			return
		}
		if !accepted {
			d.logger.InfoContext(ctx, "Stream already being captured", "stream_id", e.ID, "login", e.BroadcasterUserLogin)
		} else {
			d.logger.InfoContext(ctx, "Stream went online, capture queued", "stream_id", e.ID, "login", e.BroadcasterUserLogin, "title", req.Title)
		}
		d.notify(ctx, streamOnlineMessage(req))

	case n.StreamOffline != nil:
		e := *n.StreamOffline
		d.logger.InfoContext(ctx, "Stream went offline", "login", e.BroadcasterUserLogin)
		d.notify(ctx, streamOfflineMessage(e.BroadcasterUserName, e.BroadcasterUserLogin, d.cache.Title(e.BroadcasterUserID)))
	}
}

// notify sends in the background so a slow chat webhook never delays captures.
func (d *Dispatcher) notify(ctx context.Context, content string) {
	if d.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.notifier.Notify(ctx, content); err != nil {
			d.logger.ErrorContext(ctx, "Failed to send notification", "error", err)
		}
	}()
}

func channelUpdatedMessage(u helix.EventSubChannelUpdateEvent) string {
	payload, err := json.MarshalIndent(u, "", "  ")
	if err != nil {
		payload = []byte("{}")
	}
	return fmt.Sprintf("**%s channel updated!**\n\n```json\n%s\n```", u.BroadcasterUserName, payload)
}

func streamOnlineMessage(req domain.CaptureRequest) string {
	return fmt.Sprintf("**%s is live!**\n%s\n\nhttps://twitch.tv/%s", req.DisplayName, req.Title, req.Login)
}

func streamOfflineMessage(name, login, title string) string {
	return fmt.Sprintf("**%s has gone offline!**\n%s\n\nhttps://twitch.tv/%s", name, title, login)
}
