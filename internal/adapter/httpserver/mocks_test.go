package httpserver

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/pscheid92/streamdvr/internal/platform/config"
)

const testAPIKey = "test-api-key"

// --- Mock implementations ---

type mockCaptureService struct {
	forceCaptureFn func(ctx context.Context, channelURL string) (domain.CaptureRequest, error)
	captures       []domain.CaptureRequest
}

func (m *mockCaptureService) ForceCapture(ctx context.Context, channelURL string) (domain.CaptureRequest, error) {
	if m.forceCaptureFn != nil {
		return m.forceCaptureFn(ctx, channelURL)
	}
	return domain.CaptureRequest{}, errors.New("not implemented")
}

func (m *mockCaptureService) Captures() []domain.CaptureRequest {
	if m.captures == nil {
		return []domain.CaptureRequest{}
	}
	return m.captures
}

func (m *mockCaptureService) Capture(id string) (domain.CaptureRequest, error) {
	for _, c := range m.captures {
		if c.ID == id {
			return c, nil
		}
	}
	return domain.CaptureRequest{}, domain.ErrCaptureNotFound
}

type mockTwitchService struct {
	streamsFn func(ctx context.Context, channelURL string) ([]domain.Stream, error)
	videoFn   func(ctx context.Context, videoURL string) (*domain.Video, error)
}

func (m *mockTwitchService) StreamsForChannelURL(ctx context.Context, channelURL string) ([]domain.Stream, error) {
	if m.streamsFn != nil {
		return m.streamsFn(ctx, channelURL)
	}
	return []domain.Stream{}, nil
}

func (m *mockTwitchService) VideoForURL(ctx context.Context, videoURL string) (*domain.Video, error) {
	if m.videoFn != nil {
		return m.videoFn(ctx, videoURL)
	}
	return nil, domain.ErrVideoNotFound
}

type mockSubscriptionAdmin struct {
	subscribeFn   func(ctx context.Context, login string) ([]domain.Subscription, error)
	unsubscribeFn func(ctx context.Context, login string) error
	listFn        func(ctx context.Context) ([]domain.Subscription, error)
}

func (m *mockSubscriptionAdmin) Subscribe(ctx context.Context, login string) ([]domain.Subscription, error) {
	if m.subscribeFn != nil {
		return m.subscribeFn(ctx, login)
	}
	return nil, errors.New("not implemented")
}

func (m *mockSubscriptionAdmin) Unsubscribe(ctx context.Context, login string) error {
	if m.unsubscribeFn != nil {
		return m.unsubscribeFn(ctx, login)
	}
	return nil
}

func (m *mockSubscriptionAdmin) Subscriptions(ctx context.Context) ([]domain.Subscription, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return []domain.Subscription{}, nil
}

type mockSettingsService struct {
	values map[string]string
	setFn  func(ctx context.Context, key, value string) error
}

func (m *mockSettingsService) All(context.Context) (map[string]string, error) {
	return m.values, nil
}

func (m *mockSettingsService) Get(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", domain.ErrSettingNotFound
	}
	return v, nil
}

func (m *mockSettingsService) Set(ctx context.Context, key, value string) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value)
	}
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

// --- Test helpers ---

type testServer struct {
	*Server
	captures      *mockCaptureService
	twitch        *mockTwitchService
	subscriptions *mockSubscriptionAdmin
	settings      *mockSettingsService
	clock         *clockwork.FakeClock
	serverOpts    []Option
}

type testOption func(*testServer, *Handlers, *[]HealthCheck)

func withHealthChecks(checks ...HealthCheck) testOption {
	return func(_ *testServer, _ *Handlers, hc *[]HealthCheck) { *hc = checks }
}

func withWebhookHandler(h http.Handler) testOption {
	return func(_ *testServer, handlers *Handlers, _ *[]HealthCheck) { handlers.Webhook = h }
}

func withFeedHandler(h http.Handler) testOption {
	return func(_ *testServer, handlers *Handlers, _ *[]HealthCheck) { handlers.Feed = h }
}

func withServerOptions(opts ...Option) testOption {
	return func(ts *testServer, _ *Handlers, _ *[]HealthCheck) { ts.serverOpts = append(ts.serverOpts, opts...) }
}

func newTestServer(t *testing.T, opts ...testOption) *testServer {
	t.Helper()

	ts := &testServer{
		captures:      &mockCaptureService{},
		twitch:        &mockTwitchService{},
		subscriptions: &mockSubscriptionAdmin{},
		settings:      &mockSettingsService{values: map[string]string{}},
		clock:         clockwork.NewFakeClock(),
	}
	var handlers Handlers
	var checks []HealthCheck
	for _, opt := range opts {
		opt(ts, &handlers, &checks)
	}

	cfg := &config.Config{APIKey: testAPIKey, Port: "0"}
	ts.Server = NewServer(cfg, Services{
		Captures:      ts.captures,
		Twitch:        ts.twitch,
		Subscriptions: ts.subscriptions,
		Settings:      ts.settings,
	}, handlers, checks, append([]Option{WithClock(ts.clock)}, ts.serverOpts...)...)
	return ts
}

// do sends an authenticated request through the full router.
func (ts *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	return ts.doWithKey(method, target, body, testAPIKey)
}

func (ts *testServer) doWithKey(method, target, body, key string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}
