package update

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"extwatch/internal/debug"
	"extwatch/internal/domain"
	appErrors "extwatch/internal/errors"
	"extwatch/internal/platform"
	"extwatch/internal/storage"
	"extwatch/internal/version"
)

// Default configuration values.
const (
	DefaultConcurrency    = 4
	DefaultRetries        = 2
	DefaultFetchTimeout   = 30 * time.Second
	defaultBackoffInitial = 500 * time.Millisecond
)

// CheckOptions configures one check pass.
type CheckOptions struct {
	// Manual marks a user-triggered check. Manual checks do not schedule a retry
	// for entries that were skipped because an update was in flight.
	Manual bool
}

// CheckSummary contains the result of a check pass.
type CheckSummary struct {
	Checked int `json:"checked"`
	Updates int `json:"updates"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// CheckRecorder observes finished passes.
type CheckRecorder interface {
	RecordCheck(manual bool, summary CheckSummary, elapsed time.Duration)
}

// Checker polls update manifests for tracked extensions.
type Checker struct {
	store   *storage.Store
	host    platform.HostInfo
	fetcher platform.Fetcher
	alarms  platform.Alarms

	clock          clockwork.Clock
	concurrency    int
	retries        uint64
	retryDelay     time.Duration
	fetchTimeout   time.Duration
	backoffInitial time.Duration
	recorder       CheckRecorder
}

// CheckerOption configures a Checker.
type CheckerOption func(*Checker)

// WithConcurrency bounds how many manifests are fetched at once.
func WithConcurrency(n int) CheckerOption {
	return func(c *Checker) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithRetries sets how many times a failed fetch is retried.
func WithRetries(n int) CheckerOption {
	return func(c *Checker) {
		if n >= 0 {
			c.retries = uint64(n)
		}
	}
}

// WithRetryDelay sets the delay of the retry alarm scheduled for skipped entries.
func WithRetryDelay(d time.Duration) CheckerOption {
	return func(c *Checker) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithFetchTimeout bounds a single manifest fetch.
func WithFetchTimeout(d time.Duration) CheckerOption {
	return func(c *Checker) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithBackoff sets the first retry interval.
func WithBackoff(initial time.Duration) CheckerOption {
	return func(c *Checker) {
		if initial > 0 {
			c.backoffInitial = initial
		}
	}
}

// WithCheckerClock sets the clock used for lastCheck timestamps.
func WithCheckerClock(clock clockwork.Clock) CheckerOption {
	return func(c *Checker) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithCheckRecorder reports each finished pass to r.
func WithCheckRecorder(r CheckRecorder) CheckerOption {
	return func(c *Checker) {
		c.recorder = r
	}
}

// NewChecker creates a checker over store.
func NewChecker(store *storage.Store, host platform.HostInfo, fetcher platform.Fetcher, alarms platform.Alarms, opts ...CheckerOption) *Checker {
	c := &Checker{
		store:          store,
		host:           host,
		fetcher:        fetcher,
		alarms:         alarms,
		clock:          clockwork.NewRealClock(),
		concurrency:    DefaultConcurrency,
		retries:        DefaultRetries,
		retryDelay:     DefaultRetryDelay,
		fetchTimeout:   DefaultFetchTimeout,
		backoffInitial: defaultBackoffInitial,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type checkResult struct {
	id       string
	manifest Manifest
	err      error
}

// CheckForUpdates runs one pass over every checkable extension.
//
// Entries with an update in flight are skipped. Manifests are fetched without
// holding any lock; results are merged into the current store contents under
// the extensions lock in a single write. Per-entry failures only mark that
// entry Failed. The returned error reports store failures.
func (c *Checker) CheckForUpdates(ctx context.Context, opts CheckOptions) (CheckSummary, error) {
	started := c.clock.Now()
	var summary CheckSummary

	snapshot, err := c.store.Extensions(ctx)
	if err != nil {
		return summary, err
	}

	var candidates []domain.TrackedExtension
	for _, id := range snapshot.IDs() {
		ext := snapshot[id]
		if !ext.Checkable() {
			continue
		}
		if ext.Pending() {
			summary.Skipped++
			continue
		}
		candidates = append(candidates, ext)
	}

	if summary.Skipped > 0 && !opts.Manual {
		if err := c.alarms.Create(ctx, AlarmCheckUpdatesRetry, platform.AlarmInfo{Delay: c.retryDelay}); err != nil {
			debug.Warnf("schedule %s: %v", AlarmCheckUpdatesRetry, err)
		}
	}

	if len(candidates) == 0 {
		summary.Updates = countUpdates(snapshot)
		c.record(opts, summary, started)
		return summary, nil
	}

	results := c.fetchAll(ctx, candidates)
	now := c.clock.Now()

	merged, err := c.store.UpdateExtensions(ctx, func(exts domain.Extensions) error {
		for _, res := range results {
			cur, ok := exts[res.id]
			if !ok {
				continue
			}
			if res.err != nil {
				cur.MarkChecked(now, domain.CheckFailed)
			} else {
				cur.MarkChecked(now, domain.CheckOK)
				if !cur.Pending() {
					applyManifest(&cur, res.manifest)
				}
			}
			exts[res.id] = cur
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	summary.Checked = len(candidates)
	for _, res := range results {
		if res.err != nil {
			summary.Failed++
		}
	}
	summary.Updates = countUpdates(merged)
	c.record(opts, summary, started)
	return summary, nil
}

func (c *Checker) fetchAll(ctx context.Context, candidates []domain.TrackedExtension) []checkResult {
	results := make([]checkResult, len(candidates))

	prodVersion, err := c.host.ProductVersion(ctx)
	if err != nil {
		err = appErrors.New(appErrors.CodePlatformUnavailable, fmt.Sprintf("resolve browser version: %v", err), err)
		debug.Warnf("update check: %v", err)
		for i, ext := range candidates {
			results[i] = checkResult{id: ext.ID, err: err}
		}
		return results
	}

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for i, ext := range candidates {
		g.Go(func() error {
			m, err := c.checkOne(ctx, ext, prodVersion)
			if err != nil {
				debug.Warnf("update check %s (%s): %v", ext.DisplayName(), ext.ID, err)
			}
			results[i] = checkResult{id: ext.ID, manifest: m, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Checker) checkOne(ctx context.Context, ext domain.TrackedExtension, prodVersion string) (Manifest, error) {
	checkURL, err := UpdateCheckURL(ext.UpdateURL, ext.ID, ext.Version, prodVersion)
	if err != nil {
		return Manifest{}, err
	}
	body, err := c.fetch(ctx, checkURL)
	if err != nil {
		return Manifest{}, err
	}
	m, err := ParseManifest(string(body))
	if err != nil {
		return Manifest{}, err
	}
	debug.Logf("update check %s: remote version=%q codebase=%q", ext.ID, m.Version, m.Codebase)
	return m, nil
}

// fetch retries transient failures with exponential backoff. Client errors are not retried.
func (c *Checker) fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	op := func() error {
		fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
		b, err := c.fetcher.Fetch(fctx, url)
		if err != nil {
			var statusErr *platform.StatusError
			if errors.As(err, &statusErr) && statusErr.Permanent() {
				return backoff.Permanent(err)
			}
			return err
		}
		body = b
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.backoffInitial
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, c.retries), ctx)); err != nil {
		return nil, appErrors.New(appErrors.CodeNetworkFailure, fmt.Sprintf("fetch update manifest: %v", err), err)
	}
	return body, nil
}

func (c *Checker) record(opts CheckOptions, summary CheckSummary, started time.Time) {
	if c.recorder != nil {
		c.recorder.RecordCheck(opts.Manual, summary, c.clock.Since(started))
	}
}

// applyManifest sets or clears the update fields of ext from m.
func applyManifest(ext *domain.TrackedExtension, m Manifest) {
	upToDate := true
	if m.HasUpdate() {
		upToDate = ext.Version == m.Version || version.IsUpToDate(ext.Version, m.Version)
	}
	if upToDate {
		ext.ClearUpdate()
		return
	}
	ext.SetUpdate(m.Version, m.Codebase)
}

func countUpdates(exts domain.Extensions) int {
	return lo.CountBy(lo.Values(exts), func(ext domain.TrackedExtension) bool {
		return ext.HasUpdate()
	})
}
