package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/pscheid92/streamdvr/internal/platform/logging"
	"github.com/pscheid92/streamdvr/internal/platform/version"
)

const (
	DefaultOAuthURL = "https://id.twitch.tv/oauth2/"

	// verifyInterval is how long a token is trusted between remote validations.
	verifyInterval = 60 * time.Minute
	httpTimeout    = 10 * time.Second
)

// SettingsReader supplies the app credentials, which operators may change at runtime.
type SettingsReader interface {
	Get(ctx context.Context, key string) (string, error)
}

// Metrics receives per-request outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	RequestCompleted(endpoint string, status int, elapsed time.Duration)
	TokenIssued(err error)
}

type accessToken struct {
	value     string
	clientID  string
	tokenType string
	expiresAt time.Time
}

// Session owns the app access token. All methods are safe for concurrent use.
type Session struct {
	settings   SettingsReader
	httpClient *http.Client
	oauthURL   string
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    Metrics

	mu           sync.RWMutex
	token        *accessToken
	lastVerified time.Time

	// verifyMu lets a single caller validate remotely at a time.
	verifyMu sync.Mutex
}

type SessionOption func(*Session)

func WithOAuthURL(u string) SessionOption {
	return func(s *Session) { s.oauthURL = strings.TrimRight(u, "/") + "/" }
}

func WithHTTPClient(c *http.Client) SessionOption {
	return func(s *Session) { s.httpClient = c }
}

func WithSessionClock(clock clockwork.Clock) SessionOption {
	return func(s *Session) { s.clock = clock }
}

func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logging.WithComponent(logger, "twitch_session") }
}

func WithMetrics(m Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

func NewSession(settings SettingsReader, opts ...SessionOption) *Session {
	s := &Session{
		settings:   settings,
		httpClient: &http.Client{Timeout: httpTimeout},
		oauthURL:   DefaultOAuthURL,
		clock:      clockwork.NewRealClock(),
		logger:     logging.WithComponent(slog.Default(), "twitch_session"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) usable(t *accessToken) bool {
	return t != nil && s.clock.Now().Before(t.expiresAt)
}

func (s *Session) snapshot() (*accessToken, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.lastVerified
}

// EnsureAuthenticated obtains a token unless an unexpired one is held.
// Concurrent callers share a single exchange.
func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	if t, _ := s.snapshot(); s.usable(t) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// another caller may have authenticated while we waited
	if s.usable(s.token) {
		return nil
	}

	t, err := s.requestToken(ctx)
	if s.metrics != nil {
		s.metrics.TokenIssued(err)
	}
	if err != nil {
		return err
	}
	s.token = t
	s.lastVerified = s.clock.Now()
	s.logger.InfoContext(ctx, "Obtained app access token", "expires_at", t.expiresAt)
	return nil
}

func (s *Session) requestToken(ctx context.Context) (*accessToken, error) {
	clientID, err := s.credential(ctx, domain.SettingTwitchClientID, "client id")
	if err != nil {
		return nil, err
	}
	clientSecret, err := s.credential(ctx, domain.SettingTwitchClientSecret, "client secret")
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("grant_type", "client_credentials")

	resp, err := s.postForm(ctx, "token", form, nil)
	if err != nil {
		return nil, fmt.Errorf("request app access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// the form carries the client secret, keep it out of the error
		return nil, newAPIError(resp, nil)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode app access token: %w", err)
	}
	if body.AccessToken == "" {
		return nil, errors.New("token endpoint returned an empty access token")
	}

	return &accessToken{
		value:     body.AccessToken,
		clientID:  clientID,
		tokenType: body.TokenType,
		expiresAt: s.clock.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}

func (s *Session) credential(ctx context.Context, key, name string) (string, error) {
	v, err := s.settings.Get(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrSettingNotFound) {
		return "", fmt.Errorf("read twitch %s: %w", name, err)
	}
	if strings.TrimSpace(v) == "" {
		return "", fmt.Errorf("twitch %s is not configured", name)
	}
	return v, nil
}

// Verify reports whether the held token is usable, asking the platform at
// most once per verifyInterval. A token the platform rejects is dropped.
func (s *Session) Verify(ctx context.Context) (bool, error) {
	t, last := s.snapshot()
	if !s.usable(t) {
		return false, nil
	}
	if s.clock.Since(last) <= verifyInterval {
		return true, nil
	}

	s.verifyMu.Lock()
	defer s.verifyMu.Unlock()

	t, last = s.snapshot()
	if !s.usable(t) {
		return false, nil
	}
	if s.clock.Since(last) <= verifyInterval {
		return true, nil
	}

	resp, err := s.postForm(ctx, "validate", nil, http.Header{"Authorization": {"OAuth " + t.value}})
	if err != nil {
		return false, fmt.Errorf("validate app access token: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		s.logger.WarnContext(ctx, "App access token rejected on validation, dropping it")
		s.invalidate(t)
		return false, nil
	}

	s.mu.Lock()
	if s.token == t {
		s.lastVerified = s.clock.Now()
	}
	s.mu.Unlock()
	return true, nil
}

// invalidate drops t unless it was already replaced.
func (s *Session) invalidate(t *accessToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == t {
		s.token = nil
	}
}

// Do sends req with the app token attached. A 401 replaces the token and
// retries once; a second 401 yields ErrUnauthorized. Requests with a body
// must set GetBody (http.NewRequest does this for in-memory readers).
func (s *Session) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	for attempt := 0; ; attempt++ {
		ok, err := s.Verify(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := s.EnsureAuthenticated(ctx); err != nil {
				return nil, err
			}
		}

		t, _ := s.snapshot()
		if t == nil {
			return nil, ErrUnauthorized
		}

		out, err := s.prepare(req, t, attempt)
		if err != nil {
			return nil, err
		}

		start := s.clock.Now()
		resp, err := s.httpClient.Do(out)
		if err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.RequestCompleted(endpointLabel(req.URL), resp.StatusCode, s.clock.Since(start))
		}

		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if attempt > 0 {
			return nil, ErrUnauthorized
		}
		s.logger.WarnContext(ctx, "Request unauthorized, replacing app access token", "path", req.URL.Path)
		s.invalidate(t)
		if err := s.EnsureAuthenticated(ctx); err != nil {
			return nil, err
		}
	}
}

func (s *Session) prepare(req *http.Request, t *accessToken, attempt int) (*http.Request, error) {
	out := req.Clone(req.Context())
	if attempt > 0 && req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, errors.New("request body cannot be replayed")
		}
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("replay request body: %w", err)
		}
		out.Body = body
	}
	out.Header.Set("Authorization", "Bearer "+t.value)
	out.Header.Set("Client-Id", t.clientID)
	if out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", version.UserAgent())
	}
	return out, nil
}

// Revoke drops the held token and asks the platform to revoke it. The
// response is ignored; the token is unusable either way.
func (s *Session) Revoke(ctx context.Context) error {
	s.mu.Lock()
	t := s.token
	s.token = nil
	s.mu.Unlock()

	if !s.usable(t) {
		return nil
	}

	form := url.Values{}
	form.Set("client_id", t.clientID)
	form.Set("token", t.value)

	resp, err := s.postForm(ctx, "revoke", form, nil)
	if err != nil {
		return fmt.Errorf("revoke app access token: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	s.logger.InfoContext(ctx, "Revoked app access token", "status", resp.StatusCode)
	return nil
}

func (s *Session) postForm(ctx context.Context, endpoint string, form url.Values, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.oauthURL+endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", version.UserAgent())

	start := s.clock.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RequestCompleted("oauth2/"+endpoint, resp.StatusCode, s.clock.Since(start))
	}
	return resp, nil
}

// endpointLabel keeps metric cardinality bounded: ids live in the query string.
func endpointLabel(u *url.URL) string {
	path := strings.Trim(u.Path, "/")
	if rest, ok := strings.CutPrefix(path, "helix/"); ok {
		return rest
	}
	return path
}
