package twitch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/streamdvr/internal/domain"
)

const DefaultHelixURL = "https://api.twitch.tv/helix/"

// Client calls the Helix REST API through an authenticated Session.
type Client struct {
	session *Session
	baseURL string
}

type ClientOption func(*Client)

func WithHelixURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") + "/" }
}

func NewClient(session *Session, opts ...ClientOption) *Client {
	c := &Client{session: session, baseURL: DefaultHelixURL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Users looks up users by id and by login in one call.
func (c *Client) Users(ctx context.Context, ids, logins []string) ([]helix.User, error) {
	q := url.Values{}
	for _, id := range ids {
		q.Add("id", id)
	}
	for _, login := range logins {
		q.Add("login", login)
	}

	var out helix.ManyUsers
	if err := c.call(ctx, http.MethodGet, "users", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *Client) Streams(ctx context.Context, userLogins []string) ([]helix.Stream, error) {
	q := url.Values{}
	for _, login := range userLogins {
		q.Add("user_login", login)
	}

	var out helix.ManyStreams
	if err := c.call(ctx, http.MethodGet, "streams", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Streams, nil
}

func (c *Client) Videos(ctx context.Context, ids []string) ([]helix.Video, error) {
	q := url.Values{}
	for _, id := range ids {
		q.Add("id", id)
	}

	var out helix.ManyVideos
	if err := c.call(ctx, http.MethodGet, "videos", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Videos, nil
}

func (c *Client) Channels(ctx context.Context, broadcasterIDs []string) ([]helix.ChannelInformation, error) {
	q := url.Values{}
	for _, id := range broadcasterIDs {
		q.Add("broadcaster_id", id)
	}

	var out helix.ManyChannelInformation
	if err := c.call(ctx, http.MethodGet, "channels", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Channels, nil
}

// SubscriptionFilter narrows an EventSub subscription listing. Empty fields are omitted.
type SubscriptionFilter struct {
	Status string
	Type   string
	UserID string
	After  string
}

// EventSubSubscriptions returns one page of subscriptions.
func (c *Client) EventSubSubscriptions(ctx context.Context, f SubscriptionFilter) (*helix.ManyEventSubSubscriptions, error) {
	q := url.Values{}
	for k, v := range map[string]string{"status": f.Status, "type": f.Type, "user_id": f.UserID, "after": f.After} {
		if v != "" {
			q.Set(k, v)
		}
	}

	var out helix.ManyEventSubSubscriptions
	if err := c.call(ctx, http.MethodGet, "eventsub/subscriptions", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// subscriptionRequest is the create payload. helix.EventSubCondition would
// send every condition field, which Twitch rejects for these types.
type subscriptionRequest struct {
	Type      string                  `json:"type"`
	Version   string                  `json:"version"`
	Condition subscriptionCondition   `json:"condition"`
	Transport helix.EventSubTransport `json:"transport"`
}

type subscriptionCondition struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
}

func (c *Client) createSubscription(ctx context.Context, req subscriptionRequest) (*helix.EventSubSubscription, error) {
	var out helix.ManyEventSubSubscriptions
	if err := c.call(ctx, http.MethodPost, "eventsub/subscriptions", nil, req, &out); err != nil {
		return nil, err
	}
	if len(out.EventSubSubscriptions) == 0 {
		return nil, fmt.Errorf("create %s subscription: no subscription returned", req.Type)
	}
	return &out.EventSubSubscriptions[0], nil
}

func (c *Client) DeleteEventSubSubscription(ctx context.Context, id string) error {
	q := url.Values{}
	q.Set("id", id)
	return c.call(ctx, http.MethodDelete, "eventsub/subscriptions", q, nil, nil)
}

// StreamsByLogin returns the live streams of login.
func (c *Client) StreamsByLogin(ctx context.Context, login string) ([]domain.Stream, error) {
	streams, err := c.Streams(ctx, []string{login})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Stream, len(streams))
	for i, s := range streams {
		out[i] = toDomainStream(s)
	}
	return out, nil
}

// VideoByID returns nil without error when the platform knows no such video.
func (c *Client) VideoByID(ctx context.Context, id string) (*domain.Video, error) {
	videos, err := c.Videos(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(videos) == 0 {
		return nil, nil
	}
	v := toDomainVideo(videos[0])
	return &v, nil
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var payload []byte
	var body io.Reader
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.session.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(resp, payload)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func toDomainStream(s helix.Stream) domain.Stream {
	return domain.Stream{
		ID:        s.ID,
		UserID:    s.UserID,
		UserLogin: s.UserLogin,
		UserName:  s.UserName,
		GameName:  s.GameName,
		Title:     s.Title,
		Type:      s.Type,
		Viewers:   s.ViewerCount,
		StartedAt: s.StartedAt,
	}
}

func toDomainVideo(v helix.Video) domain.Video {
	return domain.Video{
		ID:        v.ID,
		UserID:    v.UserID,
		UserLogin: v.UserLogin,
		UserName:  v.UserName,
		Title:     v.Title,
		URL:       v.URL,
		Type:      v.Type,
		Duration:  v.Duration,
		CreatedAt: v.CreatedAt,
	}
}
