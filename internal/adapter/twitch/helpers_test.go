package twitch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nicklaw5/helix/v2"
	"github.com/pscheid92/streamdvr/internal/domain"
	"github.com/pscheid92/streamdvr/internal/platform/retry"
	"github.com/stretchr/testify/require"
)

const (
	testClientID     = "client-id"
	testClientSecret = "client-secret"
	testCallback     = "https://dvr.example.com/hook/twitch"
	testSecret       = "test-webhook-secret-1234567890"
)

type mapSettings struct {
	mu     sync.Mutex
	values map[string]string
}

func newSettings() *mapSettings {
	return &mapSettings{values: map[string]string{
		domain.SettingTwitchClientID:     testClientID,
		domain.SettingTwitchClientSecret: testClientSecret,
	}}
}

func (m *mapSettings) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	if !ok {
		return "", domain.ErrSettingNotFound
	}
	return v, nil
}

func (m *mapSettings) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// fakeTwitch serves the OAuth and Helix endpoints the adapter uses.
type fakeTwitch struct {
	mu sync.Mutex

	tokenCalls    int
	validateCalls int
	revoked       []string
	tokenSeq      int
	tokenStatus   int
	expiresIn     int
	validate      int

	rejected  map[string]bool
	rejectAll bool
	lastAuth  string
	clientIDs []string

	subs       []helix.EventSubSubscription
	nextSubID  int
	failCreate map[string]int
	failDelete map[string]int
	pageSize   int
	createBody []subscriptionRequest

	streams    []helix.Stream
	videos     []helix.Video
	users      []helix.User
	usersCalls int

	server *httptest.Server
}

func newFakeTwitch(t *testing.T) *fakeTwitch {
	t.Helper()
	f := &fakeTwitch{
		expiresIn:  5 * 3600,
		rejected:   make(map[string]bool),
		failCreate: make(map[string]int),
		failDelete: make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth2/token", f.handleToken)
	mux.HandleFunc("POST /oauth2/validate", f.handleValidate)
	mux.HandleFunc("POST /oauth2/revoke", f.handleRevoke)
	mux.HandleFunc("/helix/", f.handleHelix)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeTwitch) session(settings SettingsReader, opts ...SessionOption) *Session {
	opts = append([]SessionOption{WithOAuthURL(f.server.URL + "/oauth2")}, opts...)
	return NewSession(settings, opts...)
}

func (f *fakeTwitch) client(s *Session) *Client {
	return NewClient(s, WithHelixURL(f.server.URL+"/helix"))
}

func (f *fakeTwitch) manager(t *testing.T) *SubscriptionManager {
	t.Helper()
	return NewSubscriptionManager(f.client(f.session(newSettings())), testCallback, testSecret,
		WithRetryPolicy(retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, Clock: clockwork.NewRealClock()}))
}

func (f *fakeTwitch) counts() (token, validate int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenCalls, f.validateCalls
}

func (f *fakeTwitch) subscriptions() []helix.EventSubSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]helix.EventSubSubscription(nil), f.subs...)
}

func (f *fakeTwitch) seed(broadcasterID, typ string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addSub(broadcasterID, typ, "1")
}

func (f *fakeTwitch) addSub(broadcasterID, typ, version string) string {
	f.nextSubID++
	id := "sub-" + strconv.Itoa(f.nextSubID)
	f.subs = append(f.subs, helix.EventSubSubscription{
		ID:        id,
		Type:      typ,
		Version:   version,
		Status:    "webhook_callback_verification_pending",
		Condition: helix.EventSubCondition{BroadcasterUserID: broadcasterID},
		Transport: helix.EventSubTransport{Method: "webhook", Callback: testCallback},
	})
	return id
}

func (f *fakeTwitch) handleToken(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.tokenCalls++
	status := f.tokenStatus
	if status == 0 {
		f.tokenSeq++
	}
	seq, expiresIn := f.tokenSeq, f.expiresIn
	f.mu.Unlock()

	// widen the window for concurrent callers
	time.Sleep(10 * time.Millisecond)

	if r.FormValue("client_id") != testClientID || r.FormValue("client_secret") != testClientSecret || r.FormValue("grant_type") != "client_credentials" {
		http.Error(w, `{"status":400,"message":"invalid client"}`, http.StatusBadRequest)
		return
	}
	if status != 0 {
		http.Error(w, `{"status":403,"message":"invalid client secret"}`, status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": fmt.Sprintf("token-%d", seq),
		"expires_in":   expiresIn,
		"token_type":   "bearer",
	})
}

func (f *fakeTwitch) handleValidate(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.validateCalls++
	status := f.validate
	f.mu.Unlock()

	if !strings.HasPrefix(r.Header.Get("Authorization"), "OAuth token-") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"client_id": testClientID, "expires_in": 3600})
}

func (f *fakeTwitch) handleRevoke(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, r.FormValue("client_id")+":"+r.FormValue("token"))
	w.WriteHeader(http.StatusOK)
}

func (f *fakeTwitch) handleHelix(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	f.lastAuth = r.Header.Get("Authorization")
	f.clientIDs = append(f.clientIDs, r.Header.Get("Client-Id"))
	if f.rejectAll || f.rejected[token] {
		http.Error(w, `{"error":"Unauthorized","status":401,"message":"Invalid OAuth token"}`, http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/helix/")
	switch {
	case path == "streams" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, helix.ManyStreams{Streams: f.streams})

	case path == "videos" && r.Method == http.MethodGet:
		var out []helix.Video
		for _, v := range f.videos {
			if v.ID == r.URL.Query().Get("id") {
				out = append(out, v)
			}
		}
		writeJSON(w, http.StatusOK, helix.ManyVideos{Videos: out})

	case path == "users" && r.Method == http.MethodGet:
		f.usersCalls++
		var out []helix.User
		for _, u := range f.users {
			if u.ID == r.URL.Query().Get("id") || u.Login == r.URL.Query().Get("login") {
				out = append(out, u)
			}
		}
		writeJSON(w, http.StatusOK, helix.ManyUsers{Users: out})

	case path == "eventsub/subscriptions" && r.Method == http.MethodGet:
		f.listSubs(w, r)

	case path == "eventsub/subscriptions" && r.Method == http.MethodPost:
		var req subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.createBody = append(f.createBody, req)
		if status, ok := f.failCreate[req.Type]; ok {
			http.Error(w, fmt.Sprintf(`{"error":"%s","status":%d,"message":"cannot create %s"}`, http.StatusText(status), status, req.Type), status)
			return
		}
		f.addSub(req.Condition.BroadcasterUserID, req.Type, req.Version)
		writeJSON(w, http.StatusAccepted, helix.ManyEventSubSubscriptions{
			Total:                 len(f.subs),
			EventSubSubscriptions: []helix.EventSubSubscription{f.subs[len(f.subs)-1]},
		})

	case path == "eventsub/subscriptions" && r.Method == http.MethodDelete:
		id := r.URL.Query().Get("id")
		if status, ok := f.failDelete[id]; ok {
			http.Error(w, `{"status":500,"message":"internal"}`, status)
			return
		}
		for i, s := range f.subs {
			if s.ID == id {
				f.subs = append(f.subs[:i], f.subs[i+1:]...)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		http.Error(w, `{"status":404,"message":"not found"}`, http.StatusNotFound)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeTwitch) listSubs(w http.ResponseWriter, r *http.Request) {
	typ := r.URL.Query().Get("type")
	var matching []helix.EventSubSubscription
	for _, s := range f.subs {
		if typ == "" || s.Type == typ {
			matching = append(matching, s)
		}
	}

	start := 0
	if after := r.URL.Query().Get("after"); after != "" {
		start, _ = strconv.Atoi(after)
	}
	end := len(matching)
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
	}

	page := helix.ManyEventSubSubscriptions{Total: len(matching), EventSubSubscriptions: matching[start:end]}
	if end < len(matching) {
		page.Pagination.Cursor = strconv.Itoa(end)
	}
	writeJSON(w, http.StatusOK, page)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requireNoSubscriptions(t *testing.T, f *fakeTwitch) {
	t.Helper()
	require.Empty(t, f.subscriptions())
}

func (f *fakeTwitch) auth() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuth
}

func (f *fakeTwitch) clientIDsSeen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.clientIDs...)
}

func (f *fakeTwitch) revokedTokens() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.revoked...)
}

func (f *fakeTwitch) creates() []subscriptionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subscriptionRequest(nil), f.createBody...)
}
