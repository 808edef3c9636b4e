// Package auth owns credentials, device identity, and the persisted
// access/refresh token pair for the catalog API. It exposes a single
// Authorize operation to attach a valid bearer token to outgoing requests,
// handling initial login, proactive refresh, and re-login on refresh-token
// rejection behind it.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"aniflux/models"
)

const (
	// DefaultBaseURL is the catalog API origin.
	DefaultBaseURL = "https://api.service.example.com"

	tokenPath = "/auth/v1/token"

	authTimeout = 10 * time.Second

	// maxAuthAttempts is the auth attempt budget: consecutive token-endpoint
	// rejections allowed before the session locks out. Transport failures do
	// not count. Exceeding it fails hard instead of retrying, since the
	// upstream invalidates a refresh token after first use and a retry storm
	// would only burn credentials.
	maxAuthAttempts = 2
)

// Credentials are the user-supplied login pair, immutable for the session's
// lifetime.
type Credentials struct {
	Email    string
	Password string
}

// Session manages the token lifecycle for one account. Safe for concurrent
// use: refresh is serialized so two callers cannot race each other's
// single-use refresh token.
type Session struct {
	mu       sync.Mutex
	creds    Credentials
	store    *Store
	device   models.DeviceIdentity
	token    models.TokenState
	attempts int // consecutive token-endpoint rejections

	baseURL     string
	clientToken string // Basic credential identifying this client build
	httpClient  *http.Client
	poster      formPoster
	fallback    formPoster
	newFallback func() (formPoster, error)
	now         func() time.Time
	log         *slog.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithBaseURL overrides the API origin. Tests point this at a local server.
func WithBaseURL(baseURL string) Option {
	return func(s *Session) { s.baseURL = baseURL }
}

// WithHTTPClient overrides the token-endpoint HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) {
		s.httpClient = client
		s.poster = &httpPoster{client: client}
	}
}

// WithClock overrides the time source for token expiry math.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithFallbackPoster overrides the browser-fingerprint fallback transport.
func WithFallbackPoster(poster formPoster) Option {
	return func(s *Session) { s.fallback = poster }
}

// NewSession creates an auth session for the given account. Any token state
// previously persisted for the email is picked up so a restart does not force
// a fresh login.
func NewSession(creds Credentials, store *Store, clientToken string, opts ...Option) (*Session, error) {
	device, err := store.DeviceIdentity()
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: authTimeout}
	s := &Session{
		creds:       creds,
		store:       store,
		device:      device,
		baseURL:     DefaultBaseURL,
		clientToken: clientToken,
		httpClient:  client,
		poster:      &httpPoster{client: client},
		newFallback: func() (formPoster, error) {
			return newFingerprintPoster(int(authTimeout / time.Second))
		},
		now: time.Now,
		log: slog.Default().With("component", "auth"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if state, ok, err := store.Token(creds.Email); err != nil {
		return nil, err
	} else if ok {
		s.token = state
	}
	return s, nil
}

// IsAuthenticated reports whether the current access token is valid now.
func (s *Session) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.IsAuthenticated(s.now())
}

// NeedsRefresh reports whether a proactive refresh is due.
func (s *Session) NeedsRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.NeedsRefresh(s.now())
}

// AccountID returns the account id from the current token state, empty before
// first login.
func (s *Session) AccountID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.AccountID
}

// RequireAccountID returns the account id for building per-account API
// paths, logging in or refreshing first when the token state demands it.
func (s *Session) RequireAccountID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureTokenLocked(ctx); err != nil {
		return "", err
	}
	if s.token.AccountID == "" {
		return "", ErrNotAuthenticated
	}
	return s.token.AccountID, nil
}

// Token returns a copy of the current token state.
func (s *Session) Token() models.TokenState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Authorize ensures the token state is valid, logging in or refreshing as
// needed, then sets the Authorization header on the request.
func (s *Session) Authorize(ctx context.Context, req *http.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureTokenLocked(ctx); err != nil {
		return err
	}
	req.Header.Set("Authorization", s.token.TokenType+" "+s.token.AccessToken)
	return nil
}

// Login performs a fresh password-grant login, replacing any current token.
func (s *Session) Login(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginLocked(ctx)
}

// ForceRefresh refreshes the token regardless of expiry. The catalog client
// calls this on a 401 before its single retry.
func (s *Session) ForceRefresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

// Logout drops the in-memory token, deletes the persisted record, and resets
// the attempt budget.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = models.TokenState{}
	s.attempts = 0
	return s.store.DeleteToken(s.creds.Email)
}

func (s *Session) ensureTokenLocked(ctx context.Context) error {
	now := s.now()
	switch {
	case s.token.IsZero():
		return s.loginLocked(ctx)
	case s.token.NeedsRefresh(now):
		// Covers hard expiry too: an expired token is always past the
		// refresh threshold.
		return s.refreshLocked(ctx)
	}
	return nil
}

func (s *Session) loginLocked(ctx context.Context) error {
	if s.attempts >= maxAuthAttempts {
		return fmt.Errorf("login: %w", ErrLoginLocked)
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", s.creds.Email)
	form.Set("password", s.creds.Password)
	form.Set("scope", "offline_access")
	s.addDeviceFields(form)

	status, body, err := s.postToken(ctx, form)
	if err != nil {
		// Transport failure, not a rejection: the caller may retry, so the
		// budget stays untouched.
		return err
	}
	if status >= 400 && status < 500 {
		s.attempts++
	}

	switch {
	case status >= 200 && status < 300:
		return s.applyTokenLocked(body)
	case status == http.StatusUnauthorized:
		return fmt.Errorf("login rejected (%d): %w", status, ErrInvalidCredentials)
	case status == http.StatusForbidden:
		return fmt.Errorf("login: %w", ErrBotChallenge)
	default:
		return fmt.Errorf("login failed: status %d: %s", status, serverMessage(body))
	}
}

func (s *Session) refreshLocked(ctx context.Context) error {
	if s.attempts >= maxAuthAttempts {
		return fmt.Errorf("refresh: %w", ErrLoginLocked)
	}
	if s.token.RefreshToken == "" {
		return s.loginLocked(ctx)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", s.token.RefreshToken)
	form.Set("scope", "offline_access")
	s.addDeviceFields(form)

	status, body, err := s.postToken(ctx, form)
	if err != nil {
		return err
	}
	if status >= 400 && status < 500 {
		s.attempts++
	}

	switch {
	case status >= 200 && status < 300:
		return s.applyTokenLocked(body)
	case status == http.StatusBadRequest, status == http.StatusUnauthorized:
		// Refresh token expired or already consumed. Clear state and fall
		// back to a full login, bounded by the shared attempt budget.
		s.log.Warn("refresh token rejected, falling back to login", "status", status)
		s.token = models.TokenState{}
		if err := s.store.DeleteToken(s.creds.Email); err != nil {
			return err
		}
		return s.loginLocked(ctx)
	case status == http.StatusForbidden:
		return fmt.Errorf("refresh: %w", ErrBotChallenge)
	default:
		return fmt.Errorf("refresh failed: status %d: %s", status, serverMessage(body))
	}
}

// postToken sends one token-endpoint request. A 403 is interpreted as a bot
// challenge and replayed once through the browser-fingerprint client.
func (s *Session) postToken(ctx context.Context, form url.Values) (int, []byte, error) {
	endpoint := s.baseURL + tokenPath
	header := http.Header{}
	header.Set("Authorization", "Basic "+s.clientToken)

	status, body, err := s.poster.PostForm(ctx, endpoint, header, form)
	if err != nil {
		return 0, nil, err
	}
	if status != http.StatusForbidden {
		return status, body, nil
	}

	s.log.Warn("token endpoint returned 403, replaying with browser fingerprint")
	if s.fallback == nil {
		fallback, ferr := s.newFallback()
		if ferr != nil {
			s.log.Error("fingerprint client unavailable", "error", ferr)
			return status, body, nil
		}
		s.fallback = fallback
	}
	return s.fallback.PostForm(ctx, endpoint, header, form)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	AccountID    string `json:"account_id"`
	ProfileID    string `json:"profile_id"`
}

func (s *Session) applyTokenLocked(body []byte) error {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	if resp.AccessToken == "" {
		return fmt.Errorf("token response missing access_token")
	}
	if resp.TokenType == "" {
		resp.TokenType = "Bearer"
	}

	s.token = models.TokenState{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
		ExpiresIn:    resp.ExpiresIn,
		IssuedAt:     s.now(),
		Scope:        resp.Scope,
		AccountID:    resp.AccountID,
		ProfileID:    resp.ProfileID,
	}
	s.attempts = 0

	if err := s.store.SaveToken(s.creds.Email, s.token); err != nil {
		return err
	}
	return nil
}

func (s *Session) addDeviceFields(form url.Values) {
	form.Set("device_id", s.device.UUID)
	form.Set("device_type", s.device.Type)
	form.Set("device_name", s.device.Name)
}

// serverMessage extracts a human-readable message from a token error body.
func serverMessage(body []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return string(body)
	}
	if parsed.Message != "" {
		return parsed.Message
	}
	if parsed.Error != "" {
		return parsed.Error
	}
	return string(body)
}
