package debug

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func useTempLogPath(t *testing.T) string {
	t.Helper()
	resetForTest()

	tmpDir := t.TempDir()
	logPath := filepath.Join(tmpDir, LogDirName, LogFileName)
	origGetLogPath := getLogPath
	getLogPath = func() (string, error) { return logPath, nil }
	t.Cleanup(func() {
		getLogPath = origGetLogPath
		Close()
		resetForTest()
	})
	return logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(content)
}

func TestBeforeInitIsNoop(t *testing.T) {
	resetForTest()

	if Enabled() {
		t.Error("Enabled() should be false before Init")
	}
	Log("test message")
	Logf("test %s", "formatted")
	Warnf("warn %d", 1)
	Errorf("error %d", 2)
}

func TestInit_Disabled(t *testing.T) {
	logPath := useTempLogPath(t)

	if err := Init(false); err != nil {
		t.Fatalf("Init(false) failed: %v", err)
	}
	if Enabled() {
		t.Error("Enabled() should return false when initialized with false")
	}

	Logf("debug detail %d", 7)
	Warnf("manifest fetch failed for %s", "abc")

	content := readLog(t, logPath)
	if strings.Contains(content, "debug detail 7") {
		t.Error("debug-level messages should be suppressed without --debug")
	}
	if !strings.Contains(content, "manifest fetch failed for abc") {
		t.Error("warnings should always be written")
	}
}

func TestInit_Enabled(t *testing.T) {
	logPath := useTempLogPath(t)

	if err := Init(true); err != nil {
		t.Fatalf("Init(true) failed: %v", err)
	}
	if !Enabled() {
		t.Error("Enabled() should return true when initialized with true")
	}

	Log("test message")
	Logf("test %s %d", "formatted", 42)
	WithFields(logrus.Fields{"id": "abc"}).Info("refreshed")

	content := readLog(t, logPath)
	for _, want := range []string{"log started", "test message", "test formatted 42", "id=abc"} {
		if !strings.Contains(content, want) {
			t.Errorf("log file should contain %q, got:\n%s", want, content)
		}
	}
}

func TestSetup_ExplicitPathAndLevel(t *testing.T) {
	useTempLogPath(t)
	custom := filepath.Join(t.TempDir(), "logs", "daemon.log")

	if err := Setup(Options{Path: custom, Level: "error"}); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	Warnf("hidden warning")
	Errorf("visible error")

	content := readLog(t, custom)
	if strings.Contains(content, "hidden warning") {
		t.Error("warn should be filtered at error level")
	}
	if !strings.Contains(content, "visible error") {
		t.Error("error should be written")
	}
}

func TestSetup_RejectsBadLevel(t *testing.T) {
	useTempLogPath(t)
	if err := Setup(Options{Level: "chatty"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestClose(t *testing.T) {
	useTempLogPath(t)

	if err := Init(true); err != nil {
		t.Fatalf("Init(true) failed: %v", err)
	}

	// Multiple closes should be safe
	Close()
	Close()

	if Enabled() {
		t.Error("Enabled() should be false after Close")
	}
	Logf("after close %d", 1)
}

func TestGetLogPath(t *testing.T) {
	path, err := GetLogPath()
	if err != nil {
		t.Fatalf("GetLogPath() failed: %v", err)
	}

	if !strings.HasSuffix(path, filepath.Join(LogDirName, LogFileName)) {
		t.Errorf("GetLogPath() = %q, want suffix %q", path, filepath.Join(LogDirName, LogFileName))
	}
}

// resetForTest resets the package state for testing.
func resetForTest() {
	mu.Lock()
	defer mu.Unlock()

	closeLocked()
	enabled = false
	logger = newDiscardLogger()
}
