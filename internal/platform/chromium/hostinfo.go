package chromium

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	cache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"extwatch/internal/debug"
	"extwatch/internal/version"
)

const (
	productVersionKey = "prodversion"
	lastVersionFile   = "Last Version"
	defaultHostTTL    = 10 * time.Minute
	probeTimeout      = 10 * time.Second
)

var chromeToken = regexp.MustCompile(`(?:Chrome|Chromium|Edg)/([\d.]+)`)

// ErrNoProductVersion is returned when no source yields a browser version.
var ErrNoProductVersion = errors.New("browser version unavailable")

// VersionProbe asks a running browser for its product string.
type VersionProbe func(ctx context.Context) (string, error)

// HostInfo resolves the browser version, trying in order: the configured
// version, the configured user agent, the profile's Last Version file and a
// DevTools probe.
type HostInfo struct {
	configured string
	userAgent  string
	userData   string
	probe      VersionProbe

	cache *cache.Cache
	group singleflight.Group
}

// HostInfoOption configures HostInfo.
type HostInfoOption func(*HostInfo)

// WithConfiguredVersion pins the version.
func WithConfiguredVersion(v string) HostInfoOption {
	return func(h *HostInfo) { h.configured = strings.TrimSpace(v) }
}

// WithUserAgentString parses the version out of ua.
func WithUserAgentString(ua string) HostInfoOption {
	return func(h *HostInfo) { h.userAgent = ua }
}

// WithUserDataDir reads <dir>/Last Version. The file sits next to the profile
// directories, so both the profile and its parent are tried.
func WithUserDataDir(dir string) HostInfoOption {
	return func(h *HostInfo) { h.userData = dir }
}

// WithProbe sets the last-resort lookup.
func WithProbe(p VersionProbe) HostInfoOption {
	return func(h *HostInfo) { h.probe = p }
}

// WithCacheTTL sets how long a resolved version is reused.
func WithCacheTTL(ttl time.Duration) HostInfoOption {
	return func(h *HostInfo) { h.cache = cache.New(ttl, 2*ttl) }
}

// NewHostInfo creates a resolver.
func NewHostInfo(opts ...HostInfoOption) *HostInfo {
	h := &HostInfo{cache: cache.New(defaultHostTTL, 2*defaultHostTTL)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ProductVersion implements platform.HostInfo. Concurrent callers share one lookup.
func (h *HostInfo) ProductVersion(ctx context.Context) (string, error) {
	if v, ok := h.cache.Get(productVersionKey); ok {
		return v.(string), nil
	}
	v, err, _ := h.group.Do(productVersionKey, func() (any, error) {
		v, err := h.resolve(ctx)
		if err != nil {
			return "", err
		}
		h.cache.SetDefault(productVersionKey, v)
		return v, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached version.
func (h *HostInfo) Invalidate() {
	h.cache.Delete(productVersionKey)
}

func (h *HostInfo) resolve(ctx context.Context) (string, error) {
	if h.configured != "" {
		return h.configured, nil
	}
	if v := VersionFromUserAgent(h.userAgent); v != "" {
		return v, nil
	}
	if h.userData != "" {
		for _, dir := range []string{h.userData, filepath.Dir(h.userData)} {
			if v := readLastVersion(dir); v != "" {
				return v, nil
			}
		}
	}
	if h.probe != nil {
		v, err := h.probe(ctx)
		if err == nil && version.Valid(v) {
			return v, nil
		}
		if err != nil {
			debug.Warnf("browser version probe: %v", err)
		}
	}
	return "", ErrNoProductVersion
}

// VersionFromUserAgent extracts the Chrome version from a user agent or product string.
func VersionFromUserAgent(ua string) string {
	m := chromeToken.FindStringSubmatch(ua)
	if m == nil {
		return ""
	}
	return m[1]
}

func readLastVersion(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, lastVersionFile))
	if err != nil {
		return ""
	}
	v := strings.TrimSpace(string(data))
	if !version.Valid(v) {
		return ""
	}
	return v
}

// DevToolsProbe asks the browser listening at devtoolsURL (for example
// ws://127.0.0.1:9222/devtools/browser/<id> or http://127.0.0.1:9222) for its version.
func DevToolsProbe(devtoolsURL string) VersionProbe {
	return func(ctx context.Context) (string, error) {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()

		allocCtx, cancelAlloc := chromedp.NewRemoteAllocator(ctx, devtoolsURL)
		defer cancelAlloc()
		bctx, cancelBrowser := chromedp.NewContext(allocCtx)
		defer cancelBrowser()

		var product string
		err := chromedp.Run(bctx, chromedp.ActionFunc(func(ctx context.Context) error {
			_, p, _, _, _, err := browser.GetVersion().Do(ctx)
			product = p
			return err
		}))
		if err != nil {
			return "", fmt.Errorf("devtools %s: %w", devtoolsURL, err)
		}
		v := VersionFromUserAgent(product)
		if v == "" {
			return "", fmt.Errorf("devtools %s: unexpected product %q", devtoolsURL, product)
		}
		return v, nil
	}
}
