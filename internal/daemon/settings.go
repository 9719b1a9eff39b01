package daemon

import (
	"path/filepath"
	"strings"
	"time"

	"extwatch/internal/config"
	appErrors "extwatch/internal/errors"
)

// Settings is everything the daemon reads from configuration.
type Settings struct {
	// StatePath is the SQLite file. Empty keeps state in memory.
	StatePath string

	ProfileDir     string
	SelfID         string
	BrowserVersion string
	UserAgent      string
	DevToolsURL    string

	CheckPeriod       time.Duration
	CheckInitialDelay time.Duration
	CheckRetryDelay   time.Duration
	CheckConcurrency  int
	CheckRetries      int
	FetchTimeout      time.Duration

	DownloadDir     string
	DownloadTimeout time.Duration
	OpenWithBrowser bool
	ConfirmTimeout  time.Duration

	Listen    string
	BadgePath string
}

// SettingsFromConfig reads Settings from the initialized config. ephemeral
// drops the state path.
func SettingsFromConfig(ephemeral bool) Settings {
	s := Settings{
		StatePath:         strings.TrimSpace(config.GetString(config.KeyStatePath)),
		ProfileDir:        strings.TrimSpace(config.GetString(config.KeyBrowserProfile)),
		SelfID:            strings.TrimSpace(config.GetString(config.KeyBrowserSelfID)),
		BrowserVersion:    strings.TrimSpace(config.GetString(config.KeyBrowserVersion)),
		UserAgent:         config.GetString(config.KeyBrowserUserAgent),
		DevToolsURL:       strings.TrimSpace(config.GetString(config.KeyBrowserDevToolsURL)),
		CheckPeriod:       config.GetMinutes(config.KeyCheckPeriodMinutes),
		CheckInitialDelay: config.GetMinutes(config.KeyCheckInitialDelayMinutes),
		CheckRetryDelay:   config.GetMinutes(config.KeyCheckRetryMinutes),
		CheckConcurrency:  config.GetInt(config.KeyCheckConcurrency),
		CheckRetries:      config.GetInt(config.KeyCheckRetries),
		FetchTimeout:      config.GetSeconds(config.KeyCheckTimeoutSeconds),
		DownloadDir:       strings.TrimSpace(config.GetString(config.KeyDownloadDir)),
		DownloadTimeout:   config.GetMinutes(config.KeyDownloadTimeoutMinutes),
		OpenWithBrowser:   config.GetBool(config.KeyDownloadOpenWithBrowser),
		ConfirmTimeout:    config.GetMinutes(config.KeyInstallConfirmMinutes),
		Listen:            strings.TrimSpace(config.GetString(config.KeyAPIListen)),
	}
	if dir, err := config.StateDir(); err == nil {
		s.BadgePath = filepath.Join(dir, "badge.json")
	}
	if ephemeral {
		s.StatePath = ""
	}
	return s
}

// Validate rejects settings the daemon cannot start with.
func (s Settings) Validate() error {
	if s.ProfileDir == "" {
		return appErrors.New(appErrors.CodeConfigurationError, config.KeyBrowserProfile+" is not set", nil)
	}
	if s.DownloadDir == "" {
		return appErrors.New(appErrors.CodeConfigurationError, config.KeyDownloadDir+" is not set", nil)
	}
	if s.BadgePath == "" {
		return appErrors.New(appErrors.CodeConfigurationError, "badge path is not set", nil)
	}
	if s.CheckPeriod <= 0 {
		return appErrors.New(appErrors.CodeConfigurationError, config.KeyCheckPeriodMinutes+" must be positive", nil)
	}
	return nil
}
