package chromium

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"extwatch/internal/platform"
)

// BadgeFile publishes the badge as a JSON status file that status bars and
// scripts can poll.
type BadgeFile struct {
	path    string
	observe func(platform.Badge)

	mu   sync.Mutex
	last platform.Badge
}

type badgeDocument struct {
	platform.Badge
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewBadgeFile writes to path. observe, if set, sees every badge after it is written.
func NewBadgeFile(path string, observe func(platform.Badge)) *BadgeFile {
	return &BadgeFile{path: path, observe: observe}
}

// SetBadge implements platform.BadgeSink. The file is replaced atomically.
func (b *BadgeFile) SetBadge(_ context.Context, badge platform.Badge) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := json.MarshalIndent(badgeDocument{Badge: badge, UpdatedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create badge dir: %w", err)
	}
	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write badge: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write badge: %w", err)
	}
	b.last = badge
	if b.observe != nil {
		b.observe(badge)
	}
	return nil
}

// Current returns the last badge written by this process.
func (b *BadgeFile) Current() platform.Badge {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// ReadBadgeFile loads a badge written by SetBadge.
func ReadBadgeFile(path string) (platform.Badge, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return platform.Badge{}, err
	}
	var doc badgeDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return platform.Badge{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc.Badge, nil
}
