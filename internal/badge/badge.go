// Package badge derives the pending-update indicator from the store.
package badge

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/samber/lo"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"extwatch/internal/debug"
	"extwatch/internal/domain"
	"extwatch/internal/platform"
	"extwatch/internal/storage"
)

// Badge colors.
const (
	Color     = "crimson"
	TextColor = "#fff"
)

// PendingUpdate is one entry of the pending list.
type PendingUpdate struct {
	ID         string `json:"id"`
	ShortName  string `json:"shortName"`
	Name       string `json:"name"`
	Version    string `json:"version"`
	NewVersion string `json:"newVersion"`
	Pending    bool   `json:"pending"`
	State      string `json:"state"`
	LastCheck  int64  `json:"lastCheck,omitempty" hash:"ignore"`
}

// Reporter publishes the badge and answers pending-list queries.
type Reporter struct {
	store *storage.Store
	sink  platform.BadgeSink
	lang  language.Tag

	mu         sync.Mutex
	lastDigest uint64
	published  bool
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLanguage sets the collation used to order the pending list.
func WithLanguage(tag language.Tag) Option {
	return func(r *Reporter) { r.lang = tag }
}

// New creates a reporter. sink may be nil for read-only use.
func New(store *storage.Store, sink platform.BadgeSink, opts ...Option) *Reporter {
	r := &Reporter{store: store, sink: sink, lang: language.English}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// For returns the badge shown for count pending updates.
func For(count int) platform.Badge {
	text := ""
	if count > 0 {
		text = strconv.Itoa(count)
	}
	return platform.Badge{Text: text, Color: Color, TextColor: TextColor}
}

// Count returns the number of entries with a discovered update.
func (r *Reporter) Count(ctx context.Context) (int, error) {
	exts, err := r.store.Extensions(ctx)
	if err != nil {
		return 0, err
	}
	return lo.CountBy(lo.Values(exts), domain.TrackedExtension.HasUpdate), nil
}

// Pending lists entries with a discovered update ordered by short name.
func (r *Reporter) Pending(ctx context.Context) ([]PendingUpdate, error) {
	exts, err := r.store.Extensions(ctx)
	if err != nil {
		return nil, err
	}
	return r.pendingFrom(exts), nil
}

func (r *Reporter) pendingFrom(exts domain.Extensions) []PendingUpdate {
	withUpdate := lo.Filter(lo.Values(exts), func(ext domain.TrackedExtension, _ int) bool {
		return ext.HasUpdate()
	})
	out := lo.Map(withUpdate, func(ext domain.TrackedExtension, _ int) PendingUpdate {
		return PendingUpdate{
			ID:         ext.ID,
			ShortName:  ext.DisplayName(),
			Name:       ext.Name,
			Version:    ext.Version,
			NewVersion: ext.NewVersion,
			Pending:    ext.Pending(),
			State:      string(ext.State),
			LastCheck:  ext.LastCheck,
		}
	})

	c := collate.New(r.lang, collate.IgnoreCase, collate.Numeric)
	sort.SliceStable(out, func(i, j int) bool {
		if cmp := c.CompareString(out[i].ShortName, out[j].ShortName); cmp != 0 {
			return cmp < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Refresh pushes the current badge to the sink. Nothing is pushed when the
// pending list is unchanged since the last push.
func (r *Reporter) Refresh(ctx context.Context) error {
	if r.sink == nil {
		return nil
	}
	pending, err := r.Pending(ctx)
	if err != nil {
		return err
	}
	digest, err := hashstructure.Hash(pending, hashstructure.FormatV2, nil)
	if err != nil {
		return fmt.Errorf("hash pending list: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.published && digest == r.lastDigest {
		return nil
	}
	if err := r.sink.SetBadge(ctx, For(len(pending))); err != nil {
		return fmt.Errorf("set badge: %w", err)
	}
	r.lastDigest = digest
	r.published = true
	debug.Logf("badge: %d pending", len(pending))
	return nil
}
