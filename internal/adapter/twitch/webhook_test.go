package twitch

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const onlineBody = `{
	"subscription": {"id": "sub-1", "type": "stream.online", "version": "1", "status": "enabled",
		"condition": {"broadcaster_user_id": "42"},
		"transport": {"method": "webhook", "callback": "https://dvr.example.com/hook/twitch"}},
	"event": {"id": "9001", "broadcaster_user_id": "42", "broadcaster_user_login": "foo",
		"broadcaster_user_name": "Foo", "type": "live", "started_at": "2024-03-09T18:30:05Z"}
}`

type webhookFixture struct {
	clock   *clockwork.FakeClock
	handler *WebhookHandler
}

func newWebhookFixture(buffer int) *webhookFixture {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 9, 18, 31, 0, 0, time.UTC))
	return &webhookFixture{
		clock:   clock,
		handler: NewWebhookHandler(testSecret, buffer, WithWebhookClock(clock)),
	}
}

func sign(secret, id, timestamp, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(id + timestamp + body))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (f *webhookFixture) request(messageType, id, body string) *http.Request {
	return f.requestAt(messageType, id, body, f.clock.Now())
}

func (f *webhookFixture) requestAt(messageType, id, body string, at time.Time) *http.Request {
	ts := at.UTC().Format(time.RFC3339Nano)
	req := httptest.NewRequest(http.MethodPost, "/hook/twitch", strings.NewReader(body))
	req.Header.Set(headerMessageID, id)
	req.Header.Set(headerMessageType, messageType)
	req.Header.Set(headerMessageTimestamp, ts)
	req.Header.Set("Twitch-Eventsub-Message-Signature", sign(testSecret, id, ts, body))
	return req
}

func (f *webhookFixture) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestWebhook_AnswersVerificationChallenge(t *testing.T) {
	f := newWebhookFixture(1)
	body := `{"challenge":"pogchamp-kappa-360noscope","subscription":{"id":"sub-1","type":"stream.online"}}`

	rec := f.serve(f.request(messageTypeVerification, "m-1", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "pogchamp-kappa-360noscope", rec.Body.String())
	assert.Empty(t, f.handler.Notifications())
}

func TestWebhook_RejectsInvalidSignature(t *testing.T) {
	f := newWebhookFixture(1)
	req := f.request(messageTypeNotification, "m-1", onlineBody)
	req.Header.Set("Twitch-Eventsub-Message-Signature", sign("wrong-secret", "m-1", req.Header.Get(headerMessageTimestamp), onlineBody))

	rec := f.serve(req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, f.handler.Notifications())
}

func TestWebhook_RejectsStaleMessages(t *testing.T) {
	f := newWebhookFixture(1)

	rec := f.serve(f.requestAt(messageTypeNotification, "m-1", onlineBody, f.clock.Now().Add(-11*time.Minute)))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "stale message")
	assert.Empty(t, f.handler.Notifications())
}

func TestWebhook_DeliversStreamOnline(t *testing.T) {
	f := newWebhookFixture(1)

	rec := f.serve(f.request(messageTypeNotification, "m-1", onlineBody))
	require.Equal(t, http.StatusNoContent, rec.Code)

	n := <-f.handler.Notifications()
	assert.Equal(t, "m-1", n.MessageID)
	assert.Equal(t, "stream.online", n.Subscription.Type)
	require.NotNil(t, n.StreamOnline)
	assert.Nil(t, n.ChannelUpdate)
	assert.Nil(t, n.StreamOffline)
	assert.Equal(t, "9001", n.StreamOnline.ID)
	assert.Equal(t, "foo", n.StreamOnline.BroadcasterUserLogin)
	assert.Equal(t, "Foo", n.StreamOnline.BroadcasterUserName)
	assert.Equal(t, time.Date(2024, 3, 9, 18, 30, 5, 0, time.UTC), n.StreamOnline.StartedAt.UTC())
}

func TestWebhook_DeliversChannelUpdate(t *testing.T) {
	f := newWebhookFixture(1)
	body := `{"subscription":{"id":"sub-2","type":"channel.update","version":"2","condition":{"broadcaster_user_id":"42"}},
		"event":{"broadcaster_user_id":"42","broadcaster_user_login":"foo","broadcaster_user_name":"Foo",
		"title":"Speedrun: any%","language":"en","category_id":"1","category_name":"Celeste"}}`

	rec := f.serve(f.request(messageTypeNotification, "m-2", body))
	require.Equal(t, http.StatusNoContent, rec.Code)

	n := <-f.handler.Notifications()
	require.NotNil(t, n.ChannelUpdate)
	assert.Equal(t, "Speedrun: any%", n.ChannelUpdate.Title)
	assert.Equal(t, "Celeste", n.ChannelUpdate.CategoryName)
}

func TestWebhook_IgnoresRedelivery(t *testing.T) {
	f := newWebhookFixture(2)

	first := f.serve(f.request(messageTypeNotification, "m-1", onlineBody))
	second := f.serve(f.request(messageTypeNotification, "m-1", onlineBody))

	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, http.StatusNoContent, second.Code)
	assert.Len(t, f.handler.Notifications(), 1)
}

func TestWebhook_AcceptsRedeliveryAfterWindow(t *testing.T) {
	f := newWebhookFixture(2)

	f.serve(f.request(messageTypeNotification, "m-1", onlineBody))
	f.clock.Advance(maxMessageAge + time.Minute)
	f.serve(f.request(messageTypeNotification, "m-1", onlineBody))

	assert.Len(t, f.handler.Notifications(), 2)
}

func TestWebhook_IgnoresUnhandledTypes(t *testing.T) {
	f := newWebhookFixture(1)
	body := `{"subscription":{"id":"sub-3","type":"channel.follow","condition":{"broadcaster_user_id":"42"}},"event":{}}`

	rec := f.serve(f.request(messageTypeNotification, "m-1", body))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.handler.Notifications())
}

func TestWebhook_IgnoresUnknownMessageTypes(t *testing.T) {
	f := newWebhookFixture(1)

	rec := f.serve(f.request("something_new", "m-1", onlineBody))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, f.handler.Notifications())
}

func TestWebhook_DeliversRevocation(t *testing.T) {
	f := newWebhookFixture(1)
	body := `{"subscription":{"id":"sub-1","type":"stream.online","status":"authorization_revoked","condition":{"broadcaster_user_id":"42"}}}`

	rec := f.serve(f.request(messageTypeRevocation, "m-1", body))
	require.Equal(t, http.StatusNoContent, rec.Code)

	n := <-f.handler.Notifications()
	assert.True(t, n.Revoked)
	assert.Equal(t, "authorization_revoked", n.Subscription.Status)
}

func TestWebhook_RejectsMalformedEvents(t *testing.T) {
	f := newWebhookFixture(1)

	tests := []struct {
		name string
		body string
	}{
		{"broken envelope", `{"subscription":`},
		{"broken event", `{"subscription":{"type":"stream.online"},"event":{"started_at":"yesterday"}}`},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.serve(f.request(messageTypeNotification, "bad-"+string(rune('a'+i)), tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Empty(t, f.handler.Notifications())
}

func TestWebhook_MalformedEventIsNotMarkedSeen(t *testing.T) {
	f := newWebhookFixture(1)
	broken := `{"subscription":{"type":"stream.online"},"event":{"started_at":"yesterday"}}`

	require.Equal(t, http.StatusBadRequest, f.serve(f.request(messageTypeNotification, "m-1", broken)).Code)
	require.Equal(t, http.StatusNoContent, f.serve(f.request(messageTypeNotification, "m-1", onlineBody)).Code)
	assert.Len(t, f.handler.Notifications(), 1)
}

func TestWebhook_BusyDispatcherAsksForRedelivery(t *testing.T) {
	f := newWebhookFixture(0)

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- f.serve(f.request(messageTypeNotification, "m-1", onlineBody))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.clock.BlockUntilContext(ctx, 1))
	f.clock.Advance(deliveryTimeout)

	rec := <-done
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// the message was forgotten, so Twitch's redelivery goes through
	go func() {
		done <- f.serve(f.request(messageTypeNotification, "m-1", onlineBody))
	}()
	n := <-f.handler.Notifications()
	assert.Equal(t, "m-1", n.MessageID)
	assert.Equal(t, http.StatusNoContent, (<-done).Code)
}
