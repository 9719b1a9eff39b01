package chromium

import (
	"context"
	"fmt"
	"io"
	"time"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"

	"extwatch/internal/platform"
)

const maxManifestBytes = 1 << 20

// HTTPDoer is the part of tls_client.HttpClient used by the fetcher and downloader.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewTLSClient returns an HTTP client that presents a Chrome TLS fingerprint.
// Store endpoints answer browser-like clients the same way they answer the browser.
// A zero timeout leaves the client without an overall deadline.
func NewTLSClient(timeout time.Duration) (tls_client.HttpClient, error) {
	if timeout < 0 {
		timeout = 0
	}
	// The option is always passed: without it tls_client falls back to its own default.
	options := []tls_client.HttpClientOption{
		tls_client.WithClientProfile(profiles.Chrome_120),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithTimeoutMilliseconds(int(timeout / time.Millisecond)),
	}
	c, err := tls_client.NewHttpClient(tls_client.NewNoopLogger(), options...)
	if err != nil {
		return nil, fmt.Errorf("create tls client: %w", err)
	}
	return c, nil
}

// HTTPFetcher implements platform.Fetcher for update manifests.
type HTTPFetcher struct {
	client    HTTPDoer
	userAgent string
}

// NewHTTPFetcher wraps client. userAgent is sent when non-empty.
func NewHTTPFetcher(client HTTPDoer, userAgent string) *HTTPFetcher {
	return &HTTPFetcher{client: client, userAgent: userAgent}
}

// Fetch GETs url and returns the body. Non-200 responses are *platform.StatusError.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := newGet(ctx, url, f.userAgent)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxManifestBytes))
		return nil, &platform.StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
}

func newGet(ctx context.Context, url, userAgent string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header = http.Header{
		"accept":          {"*/*"},
		"accept-language": {"en-US,en;q=0.9"},
	}
	if userAgent != "" {
		req.Header.Set("user-agent", userAgent)
	}
	return req, nil
}
