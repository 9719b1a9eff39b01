package chromium

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	http "github.com/bogdanfinn/fhttp"
	"github.com/pkg/browser"
	"github.com/rs/xid"

	"extwatch/internal/debug"
	"extwatch/internal/platform"
)

// Interruption reasons reported in TransferDelta.Error.
const (
	ReasonUserCanceled  = "USER_CANCELED"
	ReasonNetworkFailed = "NETWORK_FAILED"
	ReasonServerFailed  = "SERVER_FAILED"
	ReasonFileFailed    = "FILE_FAILED"
)

const subscriberBuffer = 16

// Opener hands a finished package to the browser.
type Opener func(path string) error

// OpenWithBrowser opens path with the system handler, which for .crx files is the browser.
func OpenWithBrowser(path string) error {
	return browser.OpenFile(path)
}

type transfer struct {
	id       platform.TransferID
	url      string
	state    platform.TransferState
	filename string
	cancel   context.CancelFunc
}

type subscriber struct {
	ch   chan platform.TransferDelta
	done chan struct{}
}

// Downloader is an in-process transfer manager implementing platform.Downloads.
// Packages are written to dir through a temp file and renamed into place.
type Downloader struct {
	client    HTTPDoer
	dir       string
	userAgent string
	open      Opener

	mu        sync.Mutex
	transfers map[platform.TransferID]*transfer
	subs      map[int]*subscriber
	nextSub   int
	wg        sync.WaitGroup
}

// DownloaderOption configures a Downloader.
type DownloaderOption func(*Downloader)

// WithOpener hands each completed package to open.
func WithOpener(open Opener) DownloaderOption {
	return func(d *Downloader) {
		d.open = open
	}
}

// WithUserAgent sets the user agent sent with package requests.
func WithUserAgent(ua string) DownloaderOption {
	return func(d *Downloader) {
		d.userAgent = ua
	}
}

// NewDownloader creates a transfer manager writing into dir.
func NewDownloader(client HTTPDoer, dir string, opts ...DownloaderOption) *Downloader {
	d := &Downloader{
		client:    client,
		dir:       dir,
		transfers: make(map[platform.TransferID]*transfer),
		subs:      make(map[int]*subscriber),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download starts a transfer in the background.
func (d *Downloader) Download(_ context.Context, rawURL string) (platform.TransferID, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") {
		return "", fmt.Errorf("invalid download url %q", rawURL)
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	// Transfers outlive the request that started them; Cancel stops them.
	ctx, cancel := context.WithCancel(context.Background())
	t := &transfer{
		id:     platform.TransferID(xid.New().String()),
		url:    rawURL,
		state:  platform.TransferInProgress,
		cancel: cancel,
	}
	d.mu.Lock()
	d.transfers[t.id] = t
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		d.run(ctx, t)
	}()
	return t.id, nil
}

func (d *Downloader) run(ctx context.Context, t *transfer) {
	filename, err := d.fetch(ctx, t)
	if err != nil {
		reason := ReasonNetworkFailed
		var statusErr *platform.StatusError
		switch {
		case ctx.Err() != nil:
			reason = ReasonUserCanceled
		case errors.As(err, &statusErr):
			reason = ReasonServerFailed
		case errors.Is(err, errFile):
			reason = ReasonFileFailed
		}
		debug.Warnf("transfer %s interrupted (%s): %v", t.id, reason, err)
		d.finish(t, platform.TransferInterrupted, "", reason)
		return
	}

	if d.open != nil {
		if err := d.open(filename); err != nil {
			debug.Warnf("transfer %s: hand %s to browser: %v", t.id, filename, err)
		}
	}
	d.finish(t, platform.TransferComplete, filename, "")
}

var errFile = errors.New("write package")

func (d *Downloader) fetch(ctx context.Context, t *transfer) (string, error) {
	req, err := newGet(ctx, t.url, d.userAgent)
	if err != nil {
		return "", err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", &platform.StatusError{URL: t.url, StatusCode: resp.StatusCode}
	}

	final := filepath.Join(d.dir, packageName(t, resp))
	tmp, err := os.CreateTemp(d.dir, ".extwatch-*.part")
	if err != nil {
		return "", fmt.Errorf("%w: %v", errFile, err)
	}
	tmpPath := tmp.Name()
	removeTmp := true
	defer func() {
		if removeTmp {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", errFile, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, final); err != nil {
		return "", fmt.Errorf("%w: %v", errFile, err)
	}
	removeTmp = false
	return final, nil
}

// packageName derives a file name from the final response URL. Store redirects
// end at .../<name>.crx; anything else is named after the transfer.
func packageName(t *transfer, resp *http.Response) string {
	name := ""
	if resp.Request != nil && resp.Request.URL != nil {
		name = path.Base(resp.Request.URL.Path)
	}
	if name == "" || name == "." || name == "/" || !strings.Contains(name, ".") {
		name = string(t.id) + ".crx"
	}
	return string(t.id) + "-" + filepath.Base(name)
}

func (d *Downloader) finish(t *transfer, state platform.TransferState, filename, reason string) {
	d.mu.Lock()
	t.state = state
	t.filename = filename
	d.mu.Unlock()
	d.emit(platform.TransferDelta{ID: t.id, State: state, Filename: filename, Error: reason})
}

// Subscribe implements platform.Downloads.
func (d *Downloader) Subscribe() (<-chan platform.TransferDelta, func()) {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	sub := &subscriber{ch: make(chan platform.TransferDelta, subscriberBuffer), done: make(chan struct{})}
	d.subs[id] = sub
	d.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, id)
			d.mu.Unlock()
			close(sub.done)
		})
	}
}

// emit delivers delta to every subscriber. A full subscriber blocks the
// transfer until it reads or unsubscribes, so deltas are never dropped.
func (d *Downloader) emit(delta platform.TransferDelta) {
	d.mu.Lock()
	subs := make([]*subscriber, 0, len(d.subs))
	for _, s := range d.subs {
		subs = append(subs, s)
	}
	d.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- delta:
		case <-s.done:
		}
	}
}

// Cancel stops a running transfer. It ends as interrupted with USER_CANCELED.
func (d *Downloader) Cancel(_ context.Context, id platform.TransferID) error {
	d.mu.Lock()
	t, ok := d.transfers[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("no transfer %q", id)
	}
	t.cancel()
	return nil
}

// Erase forgets a transfer. The downloaded file is left in place.
func (d *Downloader) Erase(_ context.Context, id platform.TransferID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.transfers[id]; ok && !t.state.Terminal() {
		t.cancel()
	}
	delete(d.transfers, id)
	return nil
}

// State reports the current state of a known transfer.
func (d *Downloader) State(id platform.TransferID) (platform.TransferState, string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.transfers[id]
	if !ok {
		return "", "", false
	}
	return t.state, t.filename, true
}

// Wait blocks until every running transfer has finished.
func (d *Downloader) Wait() {
	d.wg.Wait()
}

// Shutdown cancels every running transfer and waits for them.
func (d *Downloader) Shutdown() {
	d.mu.Lock()
	for _, t := range d.transfers {
		t.cancel()
	}
	d.mu.Unlock()
	d.wg.Wait()
}
