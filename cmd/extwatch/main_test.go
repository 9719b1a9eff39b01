package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"

	"extwatch/internal/badge"
	"extwatch/internal/config"
	"extwatch/internal/debug"
	"extwatch/internal/platform"
	"extwatch/internal/rpc"
	"extwatch/internal/ui"
)

// fakeDaemon answers messages and serves a pending list that a check can grow.
type fakeDaemon struct {
	mu        sync.Mutex
	messages  []platform.Message
	pending   []badge.PendingUpdate
	afterScan []badge.PendingUpdate
	fail      error
}

func (f *fakeDaemon) HandleMessage(_ context.Context, msg platform.Message) platform.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	if f.fail != nil {
		return platform.Fail(f.fail)
	}
	if msg.Action == platform.ActionCheckUpdates && f.afterScan != nil {
		f.pending = f.afterScan
	}
	return platform.OK()
}

func (f *fakeDaemon) Pending(context.Context) ([]badge.PendingUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]badge.PendingUpdate(nil), f.pending...), nil
}

func (f *fakeDaemon) received() []platform.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]platform.Message(nil), f.messages...)
}

func startFakeDaemon(t *testing.T, f *fakeDaemon) string {
	t.Helper()
	ts := httptest.NewServer(rpc.NewServer(f, f, rpc.WithVersion(Version)))
	t.Cleanup(ts.Close)
	return ts.URL
}

// execute runs the CLI with args against a fresh config and log file.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Cleanup(config.ResetForTesting(t))
	t.Cleanup(debug.Close)

	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	logFile := filepath.Join(t.TempDir(), "extwatch.log")
	root.SetArgs(append([]string{"--log-file", logFile}, args...))
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestCheckCommandPrintsSummary(t *testing.T) {
	f := &fakeDaemon{afterScan: []badge.PendingUpdate{
		{ID: "abcdefghijklmnopabcdefghijklmnop", ShortName: "Tabs", Version: "1.0", NewVersion: "1.1"},
	}}
	addr := startFakeDaemon(t, f)

	out, _, err := execute(t, "--api", addr, "check")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	for _, want := range []string{"1 update available", "(+1)", "Tabs", "1.0 → 1.1", "abcdefghijklmnopabcdefghijklmnop"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if got := f.received(); len(got) != 1 || got[0].Action != platform.ActionCheckUpdates {
		t.Fatalf("messages = %+v", got)
	}
}

func TestCheckCommandUpToDate(t *testing.T) {
	addr := startFakeDaemon(t, &fakeDaemon{})

	out, _, err := execute(t, "--api", addr, "check")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !strings.Contains(out, "All extensions are up to date.") {
		t.Fatalf("output = %q", out)
	}
}

func TestUpdateAndInstallSendMessages(t *testing.T) {
	f := &fakeDaemon{}
	addr := startFakeDaemon(t, f)

	out, _, err := execute(t, "--api", addr, "update", "abc")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !strings.Contains(out, "Downloaded abc") {
		t.Fatalf("update output = %q", out)
	}

	if _, _, err := execute(t, "--api", addr, "install", "https://chromewebstore.google.com/detail/x/abc"); err != nil {
		t.Fatalf("install: %v", err)
	}

	want := []platform.Message{
		{Action: platform.ActionUpdateExt, Args: platform.MessageArgs{ID: "abc"}},
		{Action: platform.ActionInstallExt, Args: platform.MessageArgs{URL: "https://chromewebstore.google.com/detail/x/abc"}},
	}
	if diff := cmp.Diff(want, f.received()); diff != "" {
		t.Fatalf("messages (-want +got):\n%s", diff)
	}
}

func TestUpdateRejected(t *testing.T) {
	addr := startFakeDaemon(t, &fakeDaemon{fail: errors.New("No update available")})

	_, _, err := execute(t, "--api", addr, "update", "abc")
	if !errors.Is(err, rpc.ErrRejected) || !strings.Contains(err.Error(), "No update available") {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateRequiresID(t *testing.T) {
	if _, _, err := execute(t, "update"); err == nil {
		t.Fatal("update without an id succeeded")
	}
}

func TestListJSON(t *testing.T) {
	items := []badge.PendingUpdate{{ID: "abc", ShortName: "A", Version: "1", NewVersion: "2"}}
	addr := startFakeDaemon(t, &fakeDaemon{pending: items})

	out, _, err := execute(t, "--api", addr, "list", "--json")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var got []badge.PendingUpdate
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if diff := cmp.Diff(items, got); diff != "" {
		t.Fatalf("list (-want +got):\n%s", diff)
	}

	out, _, err = execute(t, "--api", addr, "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "1 → 2") {
		t.Fatalf("list output = %q", out)
	}
}

func TestDaemonNotRunning(t *testing.T) {
	_, stderr, err := execute(t, "--api", "127.0.0.1:1", "list")
	if !errors.Is(err, errReported) {
		t.Fatalf("err = %v", err)
	}
	if !strings.Contains(stderr, "daemon is not running") || !strings.Contains(stderr, "extwatch daemon") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestDaemonCommandRejectsMissingProfile(t *testing.T) {
	_, _, err := execute(t, "daemon", "--ephemeral", "--download-dir", t.TempDir())
	if err == nil || !strings.Contains(err.Error(), config.KeyBrowserProfile) {
		t.Fatalf("err = %v", err)
	}
}

func TestFlagOverrides(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("api", config.DefaultAPIListen, "")
	fs.String("profile", "", "")
	fs.Bool("debug", false, "")
	if err := fs.Parse([]string{"--profile", "/tmp/p", "--debug"}); err != nil {
		t.Fatalf("parse: %v", err)
	}

	want := map[string]any{config.KeyBrowserProfile: "/tmp/p"}
	if diff := cmp.Diff(want, flagOverrides(fs)); diff != "" {
		t.Fatalf("overrides (-want +got):\n%s", diff)
	}
}

type fakeProgram struct {
	ran bool
	err error
}

func (p *fakeProgram) Run() (tea.Model, error) {
	p.ran = true
	return nil, p.err
}

func TestRunProgram(t *testing.T) {
	client := rpc.NewClient("127.0.0.1:1")

	prog := &fakeProgram{}
	var built *ui.App
	err := runProgram(ui.Config{Client: client, Version: "1.0"}, func(app *ui.App) programRunner {
		built = app
		return prog
	})
	if err != nil || !prog.ran || built == nil {
		t.Fatalf("err = %v, ran = %v, built = %v", err, prog.ran, built != nil)
	}

	prog = &fakeProgram{err: errors.New("no tty")}
	err = runProgram(ui.Config{Client: client}, func(*ui.App) programRunner { return prog })
	if err == nil || !strings.Contains(err.Error(), "no tty") {
		t.Fatalf("err = %v", err)
	}

	if err := runProgram(ui.Config{}, func(*ui.App) programRunner { return prog }); err == nil {
		t.Fatal("nil client accepted")
	}
	if err := runProgram(ui.Config{Client: client}, nil); err == nil {
		t.Fatal("nil factory accepted")
	}
}
