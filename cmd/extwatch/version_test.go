package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestPrintVersion(t *testing.T) {
	tests := []struct {
		name          string
		version       string
		build         string
		buildTime     string
		expectContain []string
	}{
		{
			name:          "dev build",
			version:       "dev",
			build:         "unknown",
			expectContain: []string{"extwatch version dev", "Go version:", "OS/Arch:"},
		},
		{
			name:          "release build with commit",
			version:       "0.3.0",
			build:         "abc1234",
			buildTime:     "2026-03-02_12:00:00",
			expectContain: []string{"extwatch version 0.3.0", "(build: abc1234)", "[2026-03-02_12:00:00]"},
		},
		{
			name:          "release build without buildtime",
			version:       "1.0.0",
			build:         "def5678",
			expectContain: []string{"extwatch version 1.0.0", "(build: def5678)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			origVersion, origBuild, origBuildTime := Version, Build, BuildTime
			defer func() {
				Version, Build, BuildTime = origVersion, origBuild, origBuildTime
			}()
			Version, Build, BuildTime = tt.version, tt.build, tt.buildTime

			var buf bytes.Buffer
			printVersion(&buf)
			output := buf.String()
			for _, expected := range tt.expectContain {
				if !strings.Contains(output, expected) {
					t.Errorf("Expected output to contain %q, but got:\n%s", expected, output)
				}
			}
		})
	}
}

func TestVersionCommandSkipsSetup(t *testing.T) {
	var stdout bytes.Buffer
	root := newRootCmd(&stdout, &bytes.Buffer{})
	// An unreadable config path would fail setup if it ran.
	root.SetArgs([]string{"--config", "/nonexistent/dir/config.yaml", "version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(stdout.String(), "extwatch version") {
		t.Fatalf("output = %q", stdout.String())
	}
}
