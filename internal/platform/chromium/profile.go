// Package chromium implements the platform capabilities against a Chromium
// profile directory on disk.
package chromium

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"extwatch/internal/debug"
	"extwatch/internal/platform"
	"extwatch/internal/version"
)

const (
	extensionsDirName = "Extensions"
	manifestFileName  = "manifest.json"
	stagingDirName    = "Temp"
)

// Item types reported for non-extension packages.
const (
	TypeTheme        = "theme"
	TypeHostedApp    = "hosted_app"
	TypePackagedApp  = "packaged_app"
	defaultUILocale  = "en"
	fallbackUILocale = "en_US"
)

var (
	messagePlaceholder = regexp.MustCompile(`^__MSG_([A-Za-z0-9_@]+)__$`)
	utf8BOM            = []byte("\xef\xbb\xbf")
	preferenceFiles    = []string{"Secure Preferences", "Preferences"}
)

// ErrNotInstalled is returned by Get for an id with no readable package.
var ErrNotInstalled = errors.New("extension not installed")

// Profile reads installed packages from <dir>/Extensions/<id>/<version>/manifest.json.
type Profile struct {
	dir    string
	selfID string
}

// NewProfile returns a reader for the profile at dir. selfID is reported by
// SelfID and may be empty.
func NewProfile(dir, selfID string) *Profile {
	return &Profile{dir: dir, selfID: selfID}
}

// Dir is the profile directory.
func (p *Profile) Dir() string { return p.dir }

// ExtensionsDir is the directory holding one subdirectory per installed id.
func (p *Profile) ExtensionsDir() string {
	return filepath.Join(p.dir, extensionsDirName)
}

// SelfID implements platform.Management.
func (p *Profile) SelfID() string { return p.selfID }

// GetAll lists every readable package. Unreadable entries are skipped.
func (p *Profile) GetAll(ctx context.Context) ([]platform.ExtensionInfo, error) {
	entries, err := os.ReadDir(p.ExtensionsDir())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.ExtensionsDir(), err)
	}
	states := p.enabledStates()

	items := make([]platform.ExtensionInfo, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() || entry.Name() == stagingDirName {
			continue
		}
		info, err := p.read(entry.Name(), states)
		if err != nil {
			debug.Warnf("profile: skip %s: %v", entry.Name(), err)
			continue
		}
		items = append(items, info)
	}
	return items, nil
}

// Get reads one package.
func (p *Profile) Get(_ context.Context, id string) (platform.ExtensionInfo, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return platform.ExtensionInfo{}, fmt.Errorf("invalid id %q", id)
	}
	return p.read(id, p.enabledStates())
}

type manifestFile struct {
	Name          string          `json:"name"`
	ShortName     string          `json:"short_name"`
	Version       string          `json:"version"`
	UpdateURL     string          `json:"update_url"`
	DefaultLocale string          `json:"default_locale"`
	Theme         json.RawMessage `json:"theme"`
	App           *struct {
		Background json.RawMessage `json:"background"`
	} `json:"app"`
}

func (p *Profile) read(id string, states map[string]bool) (platform.ExtensionInfo, error) {
	idDir := filepath.Join(p.ExtensionsDir(), id)
	versionDir, err := latestVersionDir(idDir)
	if err != nil {
		return platform.ExtensionInfo{}, err
	}

	data, err := os.ReadFile(filepath.Join(versionDir, manifestFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return platform.ExtensionInfo{}, fmt.Errorf("%s: %w", id, ErrNotInstalled)
		}
		return platform.ExtensionInfo{}, err
	}
	var m manifestFile
	if err := json.Unmarshal(bytes.TrimPrefix(data, utf8BOM), &m); err != nil {
		return platform.ExtensionInfo{}, fmt.Errorf("parse manifest of %s: %w", id, err)
	}

	messages := loadMessages(versionDir, m.DefaultLocale)
	enabled, known := states[id]
	info := platform.ExtensionInfo{
		ID:        id,
		Name:      localize(m.Name, messages),
		ShortName: localize(m.ShortName, messages),
		Version:   strings.TrimSpace(m.Version),
		UpdateURL: strings.TrimSpace(m.UpdateURL),
		Type:      itemType(m),
		Enabled:   enabled || !known,
	}
	if info.ShortName == "" {
		info.ShortName = info.Name
	}
	return info, nil
}

func itemType(m manifestFile) string {
	switch {
	case len(m.Theme) > 0 && string(m.Theme) != "null":
		return TypeTheme
	case m.App != nil && len(m.App.Background) > 0:
		return TypePackagedApp
	case m.App != nil:
		return TypeHostedApp
	default:
		return platform.TypeExtension
	}
}

// latestVersionDir picks the highest version subdirectory. Chromium names them
// <version>_<n>; the suffix breaks ties.
func latestVersionDir(idDir string) (string, error) {
	entries, err := os.ReadDir(idDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", filepath.Base(idDir), ErrNotInstalled)
		}
		return "", err
	}
	best := ""
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if best == "" || versionDirLess(best, entry.Name()) {
			best = entry.Name()
		}
	}
	if best == "" {
		return "", fmt.Errorf("%s: %w", filepath.Base(idDir), ErrNotInstalled)
	}
	return filepath.Join(idDir, best), nil
}

func versionDirLess(a, b string) bool {
	av, asuf, _ := strings.Cut(a, "_")
	bv, bsuf, _ := strings.Cut(b, "_")
	pa, errA := version.Parse(av)
	pb, errB := version.Parse(bv)
	switch {
	case errA == nil && errB == nil:
		if c := pa.Compare(pb); c != 0 {
			return c < 0
		}
		return asuf < bsuf
	case errA == nil:
		return false
	case errB == nil:
		return true
	default:
		return a < b
	}
}

// loadMessages reads _locales/<locale>/messages.json, falling back to English.
// Keys are matched case-insensitively.
func loadMessages(versionDir, defaultLocale string) map[string]string {
	seen := map[string]bool{}
	for _, locale := range []string{defaultLocale, defaultUILocale, fallbackUILocale} {
		if locale == "" || seen[locale] {
			continue
		}
		seen[locale] = true
		data, err := os.ReadFile(filepath.Join(versionDir, "_locales", locale, "messages.json"))
		if err != nil {
			continue
		}
		var raw map[string]struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(bytes.TrimPrefix(data, utf8BOM), &raw); err != nil {
			debug.Warnf("profile: parse messages in %s (%s): %v", versionDir, locale, err)
			continue
		}
		out := make(map[string]string, len(raw))
		for k, v := range raw {
			out[strings.ToLower(k)] = v.Message
		}
		return out
	}
	return nil
}

func localize(s string, messages map[string]string) string {
	s = strings.TrimSpace(s)
	m := messagePlaceholder.FindStringSubmatch(s)
	if m == nil {
		return s
	}
	if msg, ok := messages[strings.ToLower(m[1])]; ok {
		return msg
	}
	return s
}

type preferences struct {
	Extensions struct {
		Settings map[string]struct {
			State          *int            `json:"state"`
			DisableReasons json.RawMessage `json:"disable_reasons"`
		} `json:"settings"`
	} `json:"extensions"`
}

// enabledStates reads per-id enabled flags from the profile preferences.
// Ids absent from every preferences file are not in the map.
func (p *Profile) enabledStates() map[string]bool {
	states := map[string]bool{}
	for _, name := range preferenceFiles {
		data, err := os.ReadFile(filepath.Join(p.dir, name))
		if err != nil {
			continue
		}
		var prefs preferences
		if err := json.Unmarshal(data, &prefs); err != nil {
			debug.Warnf("profile: parse %s: %v", name, err)
			continue
		}
		for id, s := range prefs.Extensions.Settings {
			if _, done := states[id]; done {
				continue
			}
			enabled := !hasDisableReasons(s.DisableReasons)
			if s.State != nil && *s.State == 0 {
				enabled = false
			}
			states[id] = enabled
		}
	}
	return states
}

// hasDisableReasons accepts the bitmask form and the newer list form.
func hasDisableReasons(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return false
	}
	var mask int
	if err := json.Unmarshal(raw, &mask); err == nil {
		return mask != 0
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return len(list) > 0
	}
	return false
}
