package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"extwatch/internal/badge"
	appErrors "extwatch/internal/errors"
	"extwatch/internal/platform"
)

// ErrRejected wraps a message the daemon answered with ok=false.
var ErrRejected = errors.New("daemon rejected request")

// Client talks to a running daemon.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the API listening on addr (host:port or URL).
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		// check-updates answers after the whole pass, so allow for slow manifests.
		http: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Send posts msg and returns the daemon's response.
func (c *Client) Send(ctx context.Context, msg platform.Message) (platform.Response, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return platform.Response{}, fmt.Errorf("encode message: %w", err)
	}
	var resp platform.Response
	if err := c.do(ctx, http.MethodPost, PathMessage, bytes.NewReader(body), &resp); err != nil {
		return platform.Response{}, err
	}
	return resp, nil
}

// Call sends msg and turns an ok=false answer into an error.
func (c *Client) Call(ctx context.Context, msg platform.Message) error {
	resp, err := c.Send(ctx, msg)
	if err != nil {
		return err
	}
	if !resp.OK {
		if resp.Error == "" {
			return ErrRejected
		}
		return fmt.Errorf("%w: %s", ErrRejected, resp.Error)
	}
	return nil
}

// Pending lists extensions with a discovered update.
func (c *Client) Pending(ctx context.Context) ([]badge.PendingUpdate, error) {
	var out []badge.PendingUpdate
	if err := c.do(ctx, http.MethodGet, PathUpdates, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Badge returns the badge the daemon last published.
func (c *Client) Badge(ctx context.Context) (platform.Badge, error) {
	var out platform.Badge
	err := c.do(ctx, http.MethodGet, PathBadge, nil, &out)
	return out, err
}

// Health reports whether the daemon answers and which version it runs.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, PathHealth, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, dst any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return appErrors.New(appErrors.CodeInvalidArgument, "build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return appErrors.New(appErrors.CodePlatformUnavailable, "daemon unreachable at "+c.base, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var e errorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)
		if e.Message == "" {
			e.Message = resp.Status
		}
		return appErrors.New(appErrors.CodeUnknown, fmt.Sprintf("%s %s: %s", method, path, e.Message), nil)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
