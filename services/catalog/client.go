// Package catalog turns the versioned catalog REST surface into a small set
// of stable, paginated, typed operations. Every call goes through one request
// core that attaches the bearer token, the client identity, and — for
// CDN-scoped endpoints — the signed CMS credential.
package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"aniflux/config"
	"aniflux/models"
	"aniflux/utils"
)

const (
	// DefaultBaseURL is the catalog API origin.
	DefaultBaseURL = "https://api.service.example.com"
	// DefaultStaticURL is the asset host serving skip-event data.
	DefaultStaticURL = "https://static.service.example.com"

	catalogTimeout = 30 * time.Second
	userAgent      = "aniflux/1.0"

	cacheTTL     = 5 * time.Minute
	cacheCleanup = 10 * time.Minute
)

// Authorizer supplies bearer tokens for outgoing requests. *auth.Session
// implements it.
type Authorizer interface {
	// Authorize ensures a valid token and sets the Authorization header.
	Authorize(ctx context.Context, req *http.Request) error
	// ForceRefresh refreshes the token regardless of expiry.
	ForceRefresh(ctx context.Context) error
	// RequireAccountID returns the account id, logging in first if needed.
	RequireAccountID(ctx context.Context) (string, error)
}

// APIError is a non-2xx response from the catalog API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Message)
}

// Client issues authenticated calls against the catalog API. One instance is
// constructed per process/session and passed by reference to all consumers.
type Client struct {
	session    Authorizer
	httpClient *http.Client
	baseURL    string
	staticURL  string
	locale     string
	audio      string // preferred audio locale or "original"
	subtitle   string // preferred subtitle locale, empty for none
	pageSize   int
	limiter    *rate.Limiter
	cache      *gocache.Cache

	cmsMu sync.Mutex
	cms   models.CmsCredential

	log *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithBaseURL overrides the API origin. Tests point this at a local server.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithStaticURL overrides the skip-event asset host.
func WithStaticURL(staticURL string) ClientOption {
	return func(c *Client) { c.staticURL = strings.TrimRight(staticURL, "/") }
}

// WithHTTPClient overrides the HTTP client used for catalog calls.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLocale sets the locale used for localized titles and descriptions.
func WithLocale(locale string) ClientOption {
	return func(c *Client) { c.locale = locale }
}

// WithPreferredAudio sets the preferred audio locale, or "original".
func WithPreferredAudio(audio string) ClientOption {
	return func(c *Client) { c.audio = audio }
}

// WithPageSize sets the default page size for listing operations.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithPreferredSubtitle sets the preferred subtitle locale; GetStreamInfo
// flags the matching track.
func WithPreferredSubtitle(subtitle string) ClientOption {
	return func(c *Client) { c.subtitle = subtitle }
}

// WithSettings applies the persisted user settings: preferred audio and
// subtitle locales and page size.
func WithSettings(s config.Settings) ClientOption {
	return func(c *Client) {
		if s.PreferredAudio != "" {
			c.audio = s.PreferredAudio
		}
		c.subtitle = s.PreferredSubtitle
		if s.PageSize > 0 {
			c.pageSize = s.PageSize
		}
	}
}

// WithRateLimit bounds outgoing request rate. Zero limit disables throttling.
func WithRateLimit(r rate.Limit, burst int) ClientOption {
	return func(c *Client) {
		if r > 0 {
			c.limiter = rate.NewLimiter(r, burst)
		} else {
			c.limiter = nil
		}
	}
}

// NewClient creates a catalog client bound to one auth session.
func NewClient(session Authorizer, opts ...ClientOption) *Client {
	c := &Client{
		session:    session,
		httpClient: &http.Client{Timeout: catalogTimeout},
		baseURL:    DefaultBaseURL,
		staticURL:  DefaultStaticURL,
		locale:     "en-US",
		audio:      "original",
		pageSize:   20,
		limiter:    rate.NewLimiter(rate.Limit(10), 20),
		cache:      gocache.New(cacheTTL, cacheCleanup),
		log:        slog.Default().With("component", "catalog"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// apiRequest describes one catalog call for the request core.
type apiRequest struct {
	method string
	path   string // for cdn requests, relative to the signed cms root
	query  url.Values
	body   any
	cdn    bool // attach the CMS credential and sign under the cms root
}

// do runs one request with the standard attach/validate/retry rules: a 401
// (or a 403 on a CDN-scoped call) triggers exactly one transparent session
// refresh and retry; a second failure is returned as an APIError.
func (c *Client) do(ctx context.Context, req apiRequest, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	for attempt := 0; ; attempt++ {
		status, body, err := c.roundTrip(ctx, req)
		if err != nil {
			return err
		}

		if status >= 200 && status < 300 {
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}

		authFailure := status == http.StatusUnauthorized ||
			(req.cdn && status == http.StatusForbidden)
		if authFailure && attempt == 0 {
			c.log.Warn("auth failure, refreshing session and retrying once", "status", status)
			if err := c.session.ForceRefresh(ctx); err != nil {
				return err
			}
			if req.cdn {
				// The CMS credential is derived from the session; a refreshed
				// session gets a fresh one.
				c.invalidateCms()
			}
			continue
		}

		return &APIError{StatusCode: status, Message: apiMessage(body)}
	}
}

// roundTrip performs a single HTTP exchange and returns status and body.
func (c *Client) roundTrip(ctx context.Context, req apiRequest) (int, []byte, error) {
	query := url.Values{}
	for key, values := range req.query {
		query[key] = values
	}
	if c.locale != "" {
		query.Set("locale", c.locale)
	}

	path := req.path
	if req.cdn {
		cms, err := c.cmsCredential(ctx)
		if err != nil {
			return 0, nil, err
		}
		path = "/cms/v2" + cms.Bucket + "/" + strings.TrimLeft(req.path, "/")
		query.Set("Policy", cms.Policy)
		query.Set("Signature", cms.Signature)
		query.Set("Key-Pair-Id", cms.KeyPairID)
	}
	target := utils.JoinURL(c.baseURL, path, query)

	var reqBody io.Reader
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return 0, nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if err := c.session.Authorize(ctx, httpReq); err != nil {
		return 0, nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("catalog api request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// cmsCredential returns the signed CDN credential, fetching it from the index
// endpoint on first use. Serialized so concurrent CDN calls share one fetch.
func (c *Client) cmsCredential(ctx context.Context) (models.CmsCredential, error) {
	c.cmsMu.Lock()
	defer c.cmsMu.Unlock()

	if !c.cms.IsZero() && (c.cms.Expires.IsZero() || time.Now().Before(c.cms.Expires)) {
		return c.cms, nil
	}

	var resp struct {
		Cms struct {
			Bucket    string `json:"bucket"`
			Policy    string `json:"policy"`
			Signature string `json:"signature"`
			KeyPairID string `json:"key_pair_id"`
			Expires   string `json:"expires"`
		} `json:"cms"`
	}
	if err := c.do(ctx, apiRequest{method: http.MethodGet, path: "/index/v2"}, &resp); err != nil {
		return models.CmsCredential{}, fmt.Errorf("fetch cms credential: %w", err)
	}
	if resp.Cms.Signature == "" {
		return models.CmsCredential{}, fmt.Errorf("index response missing cms credential")
	}

	c.cms = models.CmsCredential{
		Bucket:    resp.Cms.Bucket,
		Policy:    resp.Cms.Policy,
		Signature: resp.Cms.Signature,
		KeyPairID: resp.Cms.KeyPairID,
	}
	if resp.Cms.Expires != "" {
		if t, err := time.Parse(time.RFC3339, resp.Cms.Expires); err == nil {
			c.cms.Expires = t
		}
	}
	return c.cms, nil
}

func (c *Client) invalidateCms() {
	c.cmsMu.Lock()
	c.cms = models.CmsCredential{}
	c.cmsMu.Unlock()
}

// apiMessage extracts the server error message from a response body.
func apiMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Error   string `json:"error"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return strings.TrimSpace(string(body))
	}
	switch {
	case parsed.Message != "":
		return parsed.Message
	case parsed.Error != "":
		return parsed.Error
	case parsed.Code != "":
		return parsed.Code
	}
	return strings.TrimSpace(string(body))
}
