package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/afero"

	"aniflux/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func tokenJSON(access, refresh string) []byte {
	body, _ := json.Marshal(map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "Bearer",
		"expires_in":    3600,
		"scope":         "offline_access",
		"account_id":    "acct-1",
		"profile_id":    "prof-1",
	})
	return body
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStoreWithFs(afero.NewMemMapFs(), "/auth")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return store
}

func newTestSession(t *testing.T, serverURL string, clock *fakeClock) *Session {
	t.Helper()
	store := newTestStore(t)
	opts := []Option{WithBaseURL(serverURL)}
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	session, err := NewSession(Credentials{Email: "viewer@example.com", Password: "pw"}, store, "client-token", opts...)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return session
}

func TestLoginSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != tokenPath {
			t.Errorf("expected path %s, got %s", tokenPath, r.URL.Path)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "password" {
			t.Errorf("expected password grant, got %q", got)
		}
		if r.PostForm.Get("device_id") == "" {
			t.Error("expected device_id in login form")
		}
		if got := r.Header.Get("Authorization"); got != "Basic client-token" {
			t.Errorf("unexpected client authorization %q", got)
		}
		w.Write(tokenJSON("access-1", "refresh-1"))
	}))
	defer server.Close()

	session := newTestSession(t, server.URL, nil)
	if err := session.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}

	if !session.IsAuthenticated() {
		t.Error("expected authenticated session after login")
	}
	if session.Token().AccessToken != "access-1" {
		t.Errorf("unexpected access token %q", session.Token().AccessToken)
	}
	if session.AccountID() != "acct-1" {
		t.Errorf("unexpected account id %q", session.AccountID())
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example/content", nil)
	if err := session.Authorize(context.Background(), req); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer access-1" {
		t.Errorf("unexpected bearer header %q", got)
	}
}

func TestLoginInvalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "invalid_grant"}`))
	}))
	defer server.Close()

	session := newTestSession(t, server.URL, nil)
	err := session.Login(context.Background())
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if session.IsAuthenticated() {
		t.Error("session should not be authenticated after rejected login")
	}
}

func TestAuthorizeProactiveRefresh(t *testing.T) {
	var grants []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		grants = append(grants, r.PostForm.Get("grant_type"))
		w.Write(tokenJSON("access-"+r.PostForm.Get("grant_type"), "refresh-next"))
	}))
	defer server.Close()

	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	session := newTestSession(t, server.URL, clock)

	req, _ := http.NewRequest(http.MethodGet, "http://example/content", nil)
	if err := session.Authorize(context.Background(), req); err != nil {
		t.Fatalf("authorize (login): %v", err)
	}

	// Inside the proactive-refresh window: 75% of 3600s is 2700s.
	clock.Advance(2800 * time.Second)
	req2, _ := http.NewRequest(http.MethodGet, "http://example/content", nil)
	if err := session.Authorize(context.Background(), req2); err != nil {
		t.Fatalf("authorize (refresh): %v", err)
	}

	if len(grants) != 2 || grants[0] != "password" || grants[1] != "refresh_token" {
		t.Fatalf("unexpected grant sequence %v", grants)
	}
	if got := req2.Header.Get("Authorization"); got != "Bearer access-refresh_token" {
		t.Errorf("request should carry the refreshed token, got %q", got)
	}
}

func TestRefreshRejectedFallsBackToLogin(t *testing.T) {
	var grants []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		grant := r.PostForm.Get("grant_type")
		grants = append(grants, grant)
		if grant == "refresh_token" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "invalid_grant"}`))
			return
		}
		w.Write(tokenJSON("access-relogin", "refresh-new"))
	}))
	defer server.Close()

	session := newTestSession(t, server.URL, nil)
	if err := session.Login(context.Background()); err != nil {
		t.Fatalf("initial login: %v", err)
	}

	if err := session.ForceRefresh(context.Background()); err != nil {
		t.Fatalf("forced refresh should recover via login: %v", err)
	}
	if session.Token().AccessToken != "access-relogin" {
		t.Errorf("expected relogin token, got %q", session.Token().AccessToken)
	}
	// login, rejected refresh, fallback login
	want := []string{"password", "refresh_token", "password"}
	for i, g := range want {
		if grants[i] != g {
			t.Fatalf("unexpected grant sequence %v, want %v", grants, want)
		}
	}
}

func TestRefreshRetryCeiling(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "invalid_grant"}`))
	}))
	defer server.Close()

	store := newTestStore(t)
	if err := store.SaveToken("viewer@example.com", models.TokenState{
		AccessToken:  "stale",
		RefreshToken: "stale-refresh",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		IssuedAt:     time.Now().Add(-2 * time.Hour),
	}); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	session, err := NewSession(Credentials{Email: "viewer@example.com", Password: "pw"}, store, "client-token", WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// First attempt consumes the whole budget: refresh rejection plus the
	// bounded fallback login.
	if err := session.ForceRefresh(context.Background()); err == nil {
		t.Fatal("expected refresh failure")
	}
	if calls != maxAuthAttempts {
		t.Fatalf("expected %d token requests, got %d", maxAuthAttempts, calls)
	}

	// Further attempts fail hard without another network call.
	err = session.ForceRefresh(context.Background())
	if !errors.Is(err, ErrLoginLocked) {
		t.Fatalf("expected ErrLoginLocked, got %v", err)
	}
	if calls != maxAuthAttempts {
		t.Fatalf("locked session must not issue network calls, saw %d", calls)
	}
}

func TestTransientFailureDoesNotConsumeBudget(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls <= maxAuthAttempts {
			// Kill the connection mid-exchange: a transport error, not a
			// rejection by the token endpoint.
			conn, _, err := w.(http.Hijacker).Hijack()
			if err != nil {
				t.Fatalf("hijack: %v", err)
			}
			conn.Close()
			return
		}
		w.Write(tokenJSON("access-1", "refresh-1"))
	}))
	defer server.Close()

	session := newTestSession(t, server.URL, nil)
	for i := 0; i < maxAuthAttempts; i++ {
		err := session.Login(context.Background())
		if err == nil {
			t.Fatal("expected transport error")
		}
		if errors.Is(err, ErrLoginLocked) {
			t.Fatalf("transient failure %d locked the session: %v", i+1, err)
		}
	}

	// The budget is untouched, so a retry against a recovered server works.
	if err := session.Login(context.Background()); err != nil {
		t.Fatalf("login after recovery: %v", err)
	}
	if !session.IsAuthenticated() {
		t.Error("expected authenticated session after recovery")
	}
	if calls != maxAuthAttempts+1 {
		t.Errorf("expected %d token requests, got %d", maxAuthAttempts+1, calls)
	}
}

type fakePoster struct {
	calls  int
	status int
	body   []byte
}

func (p *fakePoster) PostForm(ctx context.Context, endpoint string, header http.Header, form url.Values) (int, []byte, error) {
	p.calls++
	return p.status, p.body, nil
}

func TestBotChallengeFallback(t *testing.T) {
	var primaryCalls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	fallback := &fakePoster{status: http.StatusOK, body: tokenJSON("access-fp", "refresh-fp")}
	store := newTestStore(t)
	session, err := NewSession(Credentials{Email: "viewer@example.com", Password: "pw"}, store, "client-token",
		WithBaseURL(server.URL), WithFallbackPoster(fallback))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if err := session.Login(context.Background()); err != nil {
		t.Fatalf("login via fingerprint fallback: %v", err)
	}
	if primaryCalls != 1 || fallback.calls != 1 {
		t.Errorf("expected one primary and one fallback call, got %d/%d", primaryCalls, fallback.calls)
	}
	if session.Token().AccessToken != "access-fp" {
		t.Errorf("unexpected token %q", session.Token().AccessToken)
	}
}

func TestBotChallengeFallbackAlsoBlocked(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	fallback := &fakePoster{status: http.StatusForbidden}
	store := newTestStore(t)
	session, err := NewSession(Credentials{Email: "viewer@example.com", Password: "pw"}, store, "client-token",
		WithBaseURL(server.URL), WithFallbackPoster(fallback))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	err = session.Login(context.Background())
	if !errors.Is(err, ErrBotChallenge) {
		t.Fatalf("expected ErrBotChallenge, got %v", err)
	}
}

func TestPersistedTokenSurvivesRestart(t *testing.T) {
	store := newTestStore(t)
	state := models.TokenState{
		AccessToken:  "persisted",
		RefreshToken: "persisted-refresh",
		TokenType:    "Bearer",
		ExpiresIn:    3600,
		IssuedAt:     time.Now(),
		AccountID:    "acct-9",
	}
	if err := store.SaveToken("viewer@example.com", state); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	session, err := NewSession(Credentials{Email: "viewer@example.com", Password: "pw"}, store, "client-token",
		WithBaseURL("http://unused.invalid"))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if !session.IsAuthenticated() {
		t.Error("persisted token should authenticate the restarted session")
	}

	req, _ := http.NewRequest(http.MethodGet, "http://example/content", nil)
	if err := session.Authorize(context.Background(), req); err != nil {
		t.Fatalf("authorize should not hit the network: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer persisted" {
		t.Errorf("unexpected header %q", got)
	}
}

func TestLogoutDeletesPersistedToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(tokenJSON("access-1", "refresh-1"))
	}))
	defer server.Close()

	store := newTestStore(t)
	session, err := NewSession(Credentials{Email: "viewer@example.com", Password: "pw"}, store, "client-token",
		WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := session.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := session.Logout(); err != nil {
		t.Fatalf("logout: %v", err)
	}

	if session.IsAuthenticated() {
		t.Error("session should be unauthenticated after logout")
	}
	if _, ok, _ := store.Token("viewer@example.com"); ok {
		t.Error("persisted token should be deleted on logout")
	}
}
