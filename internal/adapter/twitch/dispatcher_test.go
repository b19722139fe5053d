package twitch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingQueue struct {
	mu       sync.Mutex
	requests []domain.CaptureRequest
	accept   bool
	err      error
}

func (q *recordingQueue) Enqueue(req domain.CaptureRequest) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return false, q.err
	}
	q.requests = append(q.requests, req)
	return q.accept, nil
}

func (q *recordingQueue) captured() []domain.CaptureRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]domain.CaptureRequest(nil), q.requests...)
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(_ context.Context, content string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, content)
	return nil
}

func (n *recordingNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

func onlineNotification() Notification {
	return Notification{
		MessageID:    "m-online",
		Subscription: helix.EventSubSubscription{Type: helix.EventSubTypeStreamOnline, Condition: helix.EventSubCondition{BroadcasterUserID: "42"}},
		StreamOnline: &helix.EventSubStreamOnlineEvent{
			ID:                   "9001",
			BroadcasterUserID:    "42",
			BroadcasterUserLogin: "foo",
			BroadcasterUserName:  "Foo",
			Type:                 "live",
			StartedAt:            helix.Time{Time: time.Date(2024, 3, 9, 18, 30, 5, 0, time.UTC)},
		},
	}
}

func updateNotification(title string) Notification {
	return Notification{
		MessageID:    "m-update",
		Subscription: helix.EventSubSubscription{Type: helix.EventSubTypeChannelUpdate, Condition: helix.EventSubCondition{BroadcasterUserID: "42"}},
		ChannelUpdate: &helix.EventSubChannelUpdateEvent{
			BroadcasterUserID:    "42",
			BroadcasterUserLogin: "foo",
			BroadcasterUserName:  "Foo",
			Title:                title,
			CategoryName:         "Celeste",
		},
	}
}

// dispatchAll feeds notifications through Run and returns once every one
// has been handled and pending chat messages are sent.
func dispatchAll(t *testing.T, d *Dispatcher, in chan Notification, notifications ...Notification) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	for _, n := range notifications {
		in <- n
	}
	close(in)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after the channel closed")
	}
}

func TestDispatcher_QueuesCaptureWithCachedTitle(t *testing.T) {
	in := make(chan Notification)
	queue := &recordingQueue{accept: true}
	notifier := &recordingNotifier{}
	d := NewDispatcher(in, queue, notifier, nil, nil)

	dispatchAll(t, d, in, updateNotification("Speedrun: any%"), onlineNotification())

	reqs := queue.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.CaptureRequest{
		ID:          "9001",
		Login:       "foo",
		DisplayName: "Foo",
		Title:       "Speedrun: any%",
		StartedAt:   time.Date(2024, 3, 9, 18, 30, 5, 0, time.UTC),
	}, reqs[0])

	assert.Contains(t, notifier.sent(), "**Foo is live!**\nSpeedrun: any%\n\nhttps://twitch.tv/foo")
}

func TestDispatcher_UnknownTitleWithoutUpdate(t *testing.T) {
	in := make(chan Notification)
	queue := &recordingQueue{accept: true}
	d := NewDispatcher(in, queue, nil, nil, nil)

	dispatchAll(t, d, in, onlineNotification())

	reqs := queue.captured()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Unknown title", reqs[0].Title)
}

func TestDispatcher_LatestUpdateWins(t *testing.T) {
	in := make(chan Notification)
	queue := &recordingQueue{accept: true}
	cache := NewChannelStatusCache()
	d := NewDispatcher(in, queue, nil, cache, nil)

	dispatchAll(t, d, in, updateNotification("first"), updateNotification("second"), onlineNotification())

	assert.Equal(t, "second", queue.captured()[0].Title)
	assert.Equal(t, "second", cache.Title("42"))
	assert.Equal(t, "Unknown title", cache.Title("7"))
}

func TestDispatcher_NotifiesChannelUpdate(t *testing.T) {
	in := make(chan Notification)
	notifier := &recordingNotifier{}
	d := NewDispatcher(in, &recordingQueue{}, notifier, nil, nil)

	dispatchAll(t, d, in, updateNotification("Speedrun: any%"))

	sent := notifier.sent()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0], "**Foo channel updated!**\n\n```json\n{\n  ")
	assert.Contains(t, sent[0], `"title": "Speedrun: any%"`)
	assert.Contains(t, sent[0], "\n```")
}

func TestDispatcher_NotifiesOfflineWithLastTitle(t *testing.T) {
	in := make(chan Notification)
	notifier := &recordingNotifier{}
	d := NewDispatcher(in, &recordingQueue{}, notifier, nil, nil)

	offline := Notification{
		MessageID: "m-offline",
		StreamOffline: &helix.EventSubStreamOfflineEvent{
			BroadcasterUserID:    "42",
			BroadcasterUserLogin: "foo",
			BroadcasterUserName:  "Foo",
		},
	}
	dispatchAll(t, d, in, updateNotification("Speedrun: any%"), offline)

	assert.Contains(t, notifier.sent(), "**Foo has gone offline!**\nSpeedrun: any%\n\nhttps://twitch.tv/foo")
}

func TestDispatcher_AlreadyCapturingStillNotifies(t *testing.T) {
	in := make(chan Notification)
	notifier := &recordingNotifier{}
	d := NewDispatcher(in, &recordingQueue{accept: false}, notifier, nil, nil)

	dispatchAll(t, d, in, onlineNotification())

	assert.Len(t, notifier.sent(), 1)
}

func TestDispatcher_EnqueueErrorSkipsNotification(t *testing.T) {
	in := make(chan Notification)
	notifier := &recordingNotifier{}
	d := NewDispatcher(in, &recordingQueue{err: errors.New("queue closed")}, notifier, nil, nil)

	dispatchAll(t, d, in, onlineNotification())

	assert.Empty(t, notifier.sent())
}

func TestDispatcher_RevocationIsOnlyLogged(t *testing.T) {
	in := make(chan Notification)
	queue := &recordingQueue{accept: true}
	notifier := &recordingNotifier{}
	d := NewDispatcher(in, queue, notifier, nil, nil)

	dispatchAll(t, d, in, Notification{MessageID: "m-1", Revoked: true})

	assert.Empty(t, queue.captured())
	assert.Empty(t, notifier.sent())
}

func TestDispatcher_StopsOnCancel(t *testing.T) {
	in := make(chan Notification)
	d := NewDispatcher(in, &recordingQueue{}, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop on cancel")
	}
}
