// Package daemon assembles the update monitor and runs it until shutdown.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"extwatch/internal/badge"
	"extwatch/internal/debug"
	appErrors "extwatch/internal/errors"
	"extwatch/internal/locks"
	"extwatch/internal/metrics"
	"extwatch/internal/platform"
	"extwatch/internal/platform/chromium"
	"extwatch/internal/router"
	"extwatch/internal/rpc"
	"extwatch/internal/scheduler"
	"extwatch/internal/storage"
	"extwatch/internal/update"
)

const shutdownTimeout = 10 * time.Second

// Daemon owns every long-lived component.
type Daemon struct {
	settings Settings

	store      *storage.Store
	sched      *scheduler.Scheduler
	profile    *chromium.Profile
	watcher    *chromium.Watcher
	downloader *chromium.Downloader
	alarms     *chromium.Alarms
	host       *chromium.HostInfo
	badgeFile  *chromium.BadgeFile
	metrics    *metrics.Metrics

	checker     *update.Checker
	inventory   *update.Inventory
	coordinator *update.Coordinator
	reporter    *badge.Reporter
	router      *router.Router
	server      *rpc.Server
	listener    net.Listener

	runCtx context.Context
}

// Option configures a Daemon.
type Option func(*options)

type options struct {
	clock          clockwork.Clock
	client         chromium.HTTPDoer
	downloadClient chromium.HTTPDoer
	version        string
}

// newTLSClient builds the fingerprinted clients; tests replace it.
var newTLSClient = func(timeout time.Duration) (chromium.HTTPDoer, error) {
	return chromium.NewTLSClient(timeout)
}

// WithVersion is the build version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithClock drives alarms and timestamps from clock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithHTTPClient replaces the browser-fingerprinted client used for manifests
// and packages.
func WithHTTPClient(client chromium.HTTPDoer) Option {
	return func(o *options) {
		o.client = client
		o.downloadClient = client
	}
}

// buildClients fills in the clients not injected. Manifest fetches are bounded
// by FetchTimeout; package transfers get no overall deadline and are ended by
// the download-timeout alarm instead.
func (o *options) buildClients(settings Settings) error {
	if o.client == nil {
		client, err := newTLSClient(settings.FetchTimeout)
		if err != nil {
			return err
		}
		o.client = client
	}
	if o.downloadClient == nil {
		client, err := newTLSClient(0)
		if err != nil {
			return err
		}
		o.downloadClient = client
	}
	return nil
}

// New opens the store, builds every component and binds the API listener.
func New(ctx context.Context, settings Settings, opts ...Option) (*Daemon, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}

	backend, err := openBackend(ctx, settings.StatePath)
	if err != nil {
		return nil, err
	}
	if err := o.buildClients(settings); err != nil {
		_ = backend.Close()
		return nil, appErrors.New(appErrors.CodeConfigurationError, "create http client", err)
	}

	listen := settings.Listen
	if listen == "" {
		listen = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		_ = backend.Close()
		return nil, appErrors.New(appErrors.CodeConfigurationError, "listen on "+listen, err)
	}

	d := &Daemon{settings: settings, listener: ln}
	d.store = storage.New(backend, locks.NewManager())
	d.sched = scheduler.New(o.clock)
	d.metrics = metrics.New(prometheus.NewRegistry())

	d.profile = chromium.NewProfile(settings.ProfileDir, settings.SelfID)
	d.watcher = chromium.NewWatcher(d.profile, chromium.WithWatcherClock(o.clock))

	dlOpts := []chromium.DownloaderOption{chromium.WithUserAgent(settings.UserAgent)}
	if settings.OpenWithBrowser {
		dlOpts = append(dlOpts, chromium.WithOpener(chromium.OpenWithBrowser))
	}
	d.downloader = chromium.NewDownloader(o.downloadClient, settings.DownloadDir, dlOpts...)
	d.alarms = chromium.NewAlarms(d.store, d.sched, d.onAlarm)

	hostOpts := []chromium.HostInfoOption{
		chromium.WithConfiguredVersion(settings.BrowserVersion),
		chromium.WithUserAgentString(settings.UserAgent),
		chromium.WithUserDataDir(settings.ProfileDir),
	}
	if settings.DevToolsURL != "" {
		hostOpts = append(hostOpts, chromium.WithProbe(chromium.DevToolsProbe(settings.DevToolsURL)))
	}
	d.host = chromium.NewHostInfo(hostOpts...)
	d.badgeFile = chromium.NewBadgeFile(settings.BadgePath, d.metrics.ObserveBadge)

	fetcher := chromium.NewHTTPFetcher(o.client, settings.UserAgent)
	d.checker = update.NewChecker(d.store, d.host, fetcher, d.alarms,
		update.WithConcurrency(settings.CheckConcurrency),
		update.WithRetries(settings.CheckRetries),
		update.WithRetryDelay(settings.CheckRetryDelay),
		update.WithFetchTimeout(settings.FetchTimeout),
		update.WithCheckerClock(o.clock),
		update.WithCheckRecorder(d.metrics),
	)
	d.inventory = update.NewInventory(d.store, d.profile, d.alarms)
	d.coordinator = update.NewCoordinator(d.store, d.inventory, d.profile, d.downloader, d.alarms, d.host,
		update.WithDownloadTimeout(settings.DownloadTimeout),
		update.WithConfirmTimeout(settings.ConfirmTimeout),
		update.WithTransferRecorder(d.metrics),
		update.WithCoordinatorClock(o.clock),
	)
	d.reporter = badge.New(d.store, d.badgeFile)

	d.router = router.New(router.Handlers{
		Setup:             d.setup,
		Refresh:           d.inventory.Refresh,
		Remove:            d.inventory.Remove,
		CheckForUpdates:   d.checkForUpdates,
		Update:            d.coordinator.Update,
		Install:           d.coordinator.Install,
		OnDownloadTimeout: d.coordinator.OnDownloadTimeout,
		OnPendingTimeout:  d.coordinator.OnPendingTimeout,
		RefreshBadge:      d.reporter.Refresh,
	}, settings.SelfID)

	d.server = rpc.NewServer(d.router, d.reporter,
		rpc.WithBadge(d.badgeFile.Current),
		rpc.WithMetrics(d.metrics.Handler(), d.metrics),
		rpc.WithVersion(o.version),
	)
	return d, nil
}

func openBackend(ctx context.Context, path string) (storage.Backend, error) {
	if path == "" {
		debug.Infof("state: in memory")
		return storage.NewMemoryBackend(), nil
	}
	backend, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		return nil, appErrors.New(appErrors.CodeStorage, "open state "+path, err)
	}
	debug.Infof("state: %s", path)
	return backend, nil
}

// Addr is the address the API listens on.
func (d *Daemon) Addr() net.Addr {
	return d.listener.Addr()
}

// Store exposes the state store.
func (d *Daemon) Store() *storage.Store {
	return d.store
}

// Run restores alarms, performs setup, then serves events and API requests
// until ctx is done. Resources are released before it returns.
func (d *Daemon) Run(ctx context.Context) (err error) {
	d.runCtx = ctx
	defer func() {
		if cerr := d.close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	unsubscribe := d.store.OnChanged(func(keys []string) {
		d.router.Go(ctx, platform.Event{Kind: platform.EventStorageChanged, Keys: keys})
	})
	defer unsubscribe()

	n, err := d.alarms.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore alarms: %w", err)
	}
	debug.Logf("restored %d alarms", n)

	if err := d.watcher.Start(ctx); err != nil {
		return appErrors.New(appErrors.CodePlatformUnavailable, "watch profile "+d.settings.ProfileDir, err)
	}

	if err := d.router.Dispatch(ctx, platform.Event{Kind: platform.EventStartup}); err != nil {
		debug.Errorf("setup: %v", err)
	}

	debug.WithFields(logrus.Fields{
		"profile": d.settings.ProfileDir,
		"api":     d.listener.Addr().String(),
		"pid":     os.Getpid(),
	}).Info("daemon started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return d.server.Serve(d.listener)
	})
	g.Go(func() error {
		d.router.Run(gctx, d.watcher.Events())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return d.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (d *Daemon) close() error {
	var result *multierror.Error
	d.watcher.Wait()
	// No alarm may dispatch new work while the router drains.
	d.sched.Stop()
	d.router.Wait()
	d.downloader.Shutdown()
	if err := d.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		result = multierror.Append(result, fmt.Errorf("close listener: %w", err))
	}
	if err := d.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close store: %w", err))
	}
	debug.Infof("daemon stopped")
	return result.ErrorOrNil()
}

func (d *Daemon) onAlarm(name string) {
	ctx := d.runCtx
	if ctx == nil {
		ctx = context.Background()
	}
	d.router.Go(ctx, platform.Event{Kind: platform.EventAlarm, Name: name})
}

func (d *Daemon) checkForUpdates(ctx context.Context, manual bool) error {
	summary, err := d.checker.CheckForUpdates(ctx, update.CheckOptions{Manual: manual})
	if err != nil {
		return err
	}
	debug.Infof("check (manual=%v): %d checked, %d updates, %d failed, %d skipped",
		manual, summary.Checked, summary.Updates, summary.Failed, summary.Skipped)
	return nil
}

// setup rebuilds the inventory, recovers entries stuck mid-update and makes
// sure the periodic check is scheduled.
func (d *Daemon) setup(ctx context.Context, reason string) error {
	debug.Infof("setup (%s)", reason)
	var result *multierror.Error
	if err := d.inventory.Refresh(ctx, "", false); err != nil {
		result = multierror.Append(result, err)
	}
	if n, err := d.inventory.RecoverStale(ctx); err != nil {
		result = multierror.Append(result, err)
	} else if n > 0 {
		debug.Infof("recovered %d entries left mid-update", n)
	}
	if err := d.reporter.Refresh(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	_, exists, err := d.alarms.Get(ctx, update.AlarmCheckUpdates)
	if err != nil {
		return multierror.Append(result, err)
	}
	if !exists {
		info := platform.AlarmInfo{Delay: d.settings.CheckInitialDelay, Period: d.settings.CheckPeriod}
		if err := d.alarms.Create(ctx, update.AlarmCheckUpdates, info); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
