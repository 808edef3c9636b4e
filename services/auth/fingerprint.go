package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	fhttp "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// formPoster posts a URL-encoded form to the token endpoint and returns the
// response status and body.
type formPoster interface {
	PostForm(ctx context.Context, endpoint string, header http.Header, form url.Values) (int, []byte, error)
}

// httpPoster is the regular token-endpoint transport.
type httpPoster struct {
	client *http.Client
}

func (p *httpPoster) PostForm(ctx context.Context, endpoint string, header http.Header, form url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("create token request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read token response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// fingerprintPoster replays the token request through a client that emulates
// a desktop browser TLS fingerprint. Used when the token endpoint answers 403,
// which the upstream bot detection hands out to non-browser clients.
type fingerprintPoster struct {
	client tls_client.HttpClient
}

func newFingerprintPoster(timeoutSeconds int) (*fingerprintPoster, error) {
	client, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(),
		tls_client.WithTimeoutSeconds(timeoutSeconds),
		tls_client.WithClientProfile(profiles.Chrome_120),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithNotFollowRedirects(),
	)
	if err != nil {
		return nil, fmt.Errorf("create fingerprint client: %w", err)
	}
	return &fingerprintPoster{client: client}, nil
}

func (p *fingerprintPoster) PostForm(ctx context.Context, endpoint string, header http.Header, form url.Values) (int, []byte, error) {
	req, err := fhttp.NewRequestWithContext(ctx, fhttp.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("create fingerprint token request: %w", err)
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("fingerprint token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read fingerprint token response: %w", err)
	}
	return resp.StatusCode, body, nil
}
