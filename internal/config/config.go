package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	KeyStatePath = "state.path"

	KeyBrowserProfile     = "browser.profile"
	KeyBrowserVersion     = "browser.version"
	KeyBrowserUserAgent   = "browser.user-agent"
	KeyBrowserDevToolsURL = "browser.devtools-url"
	KeyBrowserSelfID      = "browser.self-id"

	KeyCheckPeriodMinutes       = "check.period-minutes"
	KeyCheckInitialDelayMinutes = "check.initial-delay-minutes"
	KeyCheckRetryMinutes        = "check.retry-minutes"
	KeyCheckConcurrency         = "check.concurrency"
	KeyCheckRetries             = "check.retries"
	KeyCheckTimeoutSeconds      = "check.timeout-seconds"

	KeyDownloadDir             = "download.dir"
	KeyDownloadTimeoutMinutes  = "download.timeout-minutes"
	KeyDownloadOpenWithBrowser = "download.open-with-browser"

	KeyInstallConfirmMinutes = "install.confirm-minutes"

	KeyAPIListen = "api.listen"

	KeyLogLevel = "log.level"
	KeyLogPath  = "log.path"
)

const (
	// DefaultAPIListen is where the daemon serves its local API.
	DefaultAPIListen = "127.0.0.1:17890"

	// DirName is the per-user and per-project configuration directory.
	DirName = ".extwatch"

	envPrefix = "EXTWATCH"
)

type initSettings struct {
	workingDir        string
	projectConfigPath string
	userConfigPath    string
	dotEnvPath        string
}

// Option configures Initialize behaviour. Useful for tests to override paths.
type Option func(*initSettings)

// WithWorkingDir overrides the directory used for project config discovery.
func WithWorkingDir(dir string) Option {
	return func(cfg *initSettings) {
		cfg.workingDir = dir
	}
}

// WithProjectConfig explicitly sets the project config path instead of discovery.
func WithProjectConfig(path string) Option {
	return func(cfg *initSettings) {
		cfg.projectConfigPath = path
	}
}

// WithUserConfig overrides the default user config path.
func WithUserConfig(path string) Option {
	return func(cfg *initSettings) {
		cfg.userConfigPath = path
	}
}

// WithDotEnv overrides the .env file loaded before the environment is read.
// Defaults to .env in the working directory.
func WithDotEnv(path string) Option {
	return func(cfg *initSettings) {
		cfg.dotEnvPath = path
	}
}

var (
	configOnce sync.Once
	configMu   sync.RWMutex
	configInst *viper.Viper
	initErr    error
)

// Initialize loads configuration using the precedence:
// defaults < user config < project config < environment variables < overrides.
func Initialize(opts ...Option) error {
	configOnce.Do(func() {
		settings := initSettings{}
		for _, opt := range opts {
			opt(&settings)
		}
		initErr = configure(&settings)
	})
	return initErr
}

// ApplyOverrides injects values typically coming from CLI flags.
func ApplyOverrides(overrides map[string]any) error {
	if len(overrides) == 0 {
		return nil
	}
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	for k, v := range overrides {
		configInst.Set(k, v)
	}
	return nil
}

// GetString fetches a string configuration value, initializing on demand.
func GetString(key string) string {
	v, err := getViper()
	if err != nil {
		return ""
	}
	return v.GetString(key)
}

// GetBool fetches a bool configuration value, initializing on demand.
func GetBool(key string) bool {
	v, err := getViper()
	if err != nil {
		return false
	}
	return v.GetBool(key)
}

// GetInt fetches an integer configuration value, initializing on demand.
func GetInt(key string) int {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetInt(key)
}

// GetDuration fetches a duration configuration value, initializing on demand.
func GetDuration(key string) time.Duration {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return v.GetDuration(key)
}

// GetMinutes reads an integer minutes key as a duration. Fractions are accepted.
func GetMinutes(key string) time.Duration {
	v, err := getViper()
	if err != nil {
		return 0
	}
	return time.Duration(v.GetFloat64(key) * float64(time.Minute))
}

// GetSeconds reads an integer seconds key as a duration.
func GetSeconds(key string) time.Duration {
	return time.Duration(GetInt(key)) * time.Second
}

// Set updates a configuration key at runtime, initializing on demand.
func Set(key string, value any) error {
	if err := Initialize(); err != nil {
		return err
	}
	configMu.Lock()
	defer configMu.Unlock()
	if configInst == nil {
		return fmt.Errorf("configuration not initialized")
	}
	configInst.Set(key, value)
	return nil
}

// StateDir is the per-user directory holding the state database and logs.
func StateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

func configure(settings *initSettings) error {
	workingDir := strings.TrimSpace(settings.workingDir)
	if workingDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determine working directory: %w", err)
		}
		workingDir = wd
	}

	dotEnvPath := strings.TrimSpace(settings.dotEnvPath)
	if dotEnvPath == "" {
		dotEnvPath = filepath.Join(workingDir, ".env")
	}
	if err := loadDotEnv(dotEnvPath); err != nil {
		return err
	}

	userConfigPath := strings.TrimSpace(settings.userConfigPath)
	if userConfigPath == "" {
		path, err := defaultUserConfigPath()
		if err != nil {
			return err
		}
		userConfigPath = path
	}

	projectConfigPath := strings.TrimSpace(settings.projectConfigPath)
	if projectConfigPath == "" {
		path, err := findProjectConfig(workingDir, userConfigPath)
		if err != nil {
			return err
		}
		projectConfigPath = path
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := setDefaults(v); err != nil {
		return err
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := mergeConfigFile(v, userConfigPath); err != nil {
		return fmt.Errorf("load user config: %w", err)
	}
	if err := mergeConfigFile(v, projectConfigPath); err != nil {
		return fmt.Errorf("load project config: %w", err)
	}

	configMu.Lock()
	defer configMu.Unlock()
	configInst = v
	return nil
}

// loadDotEnv exports variables from path that are not already set.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config path %s is a directory", path)
	}
	//nolint:gosec // G304: Config loader intentionally reads user and project config files
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// findProjectConfig walks up from startDir. The user config is skipped so a
// working directory under $HOME does not load it twice.
func findProjectConfig(startDir, userConfigPath string) (string, error) {
	if strings.TrimSpace(startDir) == "" {
		return "", nil
	}
	dir := startDir
	for {
		candidate := filepath.Join(dir, DirName, "config.yaml")
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config path %s is a directory", candidate)
			}
			if candidate != filepath.Clean(userConfigPath) {
				return candidate, nil
			}
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func setDefaults(v *viper.Viper) error {
	stateDir, err := StateDir()
	if err != nil {
		return err
	}
	v.SetDefault(KeyStatePath, filepath.Join(stateDir, "state.db"))

	v.SetDefault(KeyBrowserProfile, "")
	v.SetDefault(KeyBrowserVersion, "")
	v.SetDefault(KeyBrowserUserAgent, "")
	v.SetDefault(KeyBrowserDevToolsURL, "")
	v.SetDefault(KeyBrowserSelfID, "")

	v.SetDefault(KeyCheckPeriodMinutes, 180)
	v.SetDefault(KeyCheckInitialDelayMinutes, 1)
	v.SetDefault(KeyCheckRetryMinutes, 1)
	v.SetDefault(KeyCheckConcurrency, 4)
	v.SetDefault(KeyCheckRetries, 2)
	v.SetDefault(KeyCheckTimeoutSeconds, 30)

	v.SetDefault(KeyDownloadDir, filepath.Join(stateDir, "downloads"))
	v.SetDefault(KeyDownloadTimeoutMinutes, 1)
	v.SetDefault(KeyDownloadOpenWithBrowser, true)

	v.SetDefault(KeyInstallConfirmMinutes, 2)

	v.SetDefault(KeyAPIListen, DefaultAPIListen)

	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogPath, "")
	return nil
}

func getViper() (*viper.Viper, error) {
	if err := Initialize(); err != nil {
		return nil, err
	}
	configMu.RLock()
	defer configMu.RUnlock()
	if configInst == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return configInst, nil
}

// reset clears package state for tests.
func reset() {
	configMu.Lock()
	defer configMu.Unlock()
	configInst = nil
	initErr = nil
	configOnce = sync.Once{}
}

// ResetForTesting clears package state for tests in other packages.
// Returns a cleanup function that should be deferred.
func ResetForTesting(t interface{ TempDir() string }) func() {
	reset()
	tmp := t.TempDir()
	_ = Initialize(WithWorkingDir(tmp), WithUserConfig(filepath.Join(tmp, "user.yaml")))
	return reset
}
