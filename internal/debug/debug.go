// Package debug provides logging infrastructure for extwatch.
//
// Warnings, errors and info messages are always written once Init has run.
// Log and Logf are debug-level and only emitted when debug logging is enabled
// with --debug. Logs go to ~/.extwatch/extwatch.log and are rotated by size.
// Before Init every call is a no-op.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// LogFileName is the name of the log file.
	LogFileName = "extwatch.log"
	// LogDirName is the name of the directory containing the log file.
	LogDirName = ".extwatch"
)

// Options configures Setup.
type Options struct {
	// Debug enables Log/Logf output.
	Debug bool
	// Path overrides the log file location.
	Path string
	// Level overrides the minimum level ("debug", "info", "warn", "error").
	Level string
	// Stderr mirrors log output to stderr.
	Stderr bool
}

var (
	mu      sync.RWMutex
	enabled bool
	logger  = newDiscardLogger()
	rotator *lumberjack.Logger

	// getLogPath is a function variable to allow overriding in tests.
	getLogPath = defaultGetLogPath
)

func newDiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return l
}

// Init initializes logging with default options.
// If enable is true, debug-level messages are written as well.
func Init(enable bool) error {
	return Setup(Options{Debug: enable})
}

// Setup initializes logging. Calling it again replaces the previous configuration.
func Setup(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	logPath := strings.TrimSpace(opts.Path)
	if logPath == "" {
		p, err := getLogPath()
		if err != nil {
			return fmt.Errorf("determine log path: %w", err)
		}
		logPath = p
	}

	//nolint:gosec // G301: User config directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	level := logrus.InfoLevel
	if opts.Debug {
		level = logrus.DebugLevel
	}
	if opts.Level != "" {
		parsed, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		if !opts.Debug || parsed > level {
			level = parsed
		}
	}

	closeLocked()
	rotator = &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	var out io.Writer = rotator
	if opts.Stderr {
		out = io.MultiWriter(rotator, os.Stderr)
	}

	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000000Z07:00",
		DisableColors:   true,
	})
	logger = l
	enabled = level >= logrus.DebugLevel

	logger.Infof("=== extwatch log started at %s ===", time.Now().Format(time.RFC3339))
	return nil
}

// Close flushes and closes the log file. Safe to call even if logging was never set up.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
	logger = newDiscardLogger()
	enabled = false
}

func closeLocked() {
	if rotator != nil {
		_ = rotator.Close()
		rotator = nil
	}
}

func current() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// Log writes a debug message if debug logging is enabled.
// Arguments are handled in the manner of fmt.Print.
func Log(v ...any) {
	current().Debug(v...)
}

// Logf writes a formatted debug message if debug logging is enabled.
// Arguments are handled in the manner of fmt.Printf.
func Logf(format string, v ...any) {
	current().Debugf(format, v...)
}

// Infof writes an informational message.
func Infof(format string, v ...any) {
	current().Infof(format, v...)
}

// Warnf writes a warning.
func Warnf(format string, v ...any) {
	current().Warnf(format, v...)
}

// Errorf writes an error.
func Errorf(format string, v ...any) {
	current().Errorf(format, v...)
}

// WithFields returns an entry carrying structured fields.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return current().WithFields(fields)
}

// Enabled returns whether debug logging is currently enabled.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// defaultGetLogPath returns the path to the log file.
func defaultGetLogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine user home: %w", err)
	}
	return filepath.Join(home, LogDirName, LogFileName), nil
}

// GetLogPath returns the default path to the log file.
// Exported for use by other packages that need to know where logs are.
func GetLogPath() (string, error) {
	return getLogPath()
}
