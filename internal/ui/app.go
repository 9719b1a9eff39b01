// Package ui is the terminal popup listing pending extension updates.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"extwatch/internal/badge"
	"extwatch/internal/platform"
)

const (
	defaultRefreshInterval = 5 * time.Second
	requestTimeout         = 5 * time.Minute
)

// copyToClipboard is a variable so tests can run without a clipboard.
var copyToClipboard = clipboard.WriteAll

// Client is the daemon API the popup drives.
type Client interface {
	Pending(ctx context.Context) ([]badge.PendingUpdate, error)
	Call(ctx context.Context, msg platform.Message) error
}

// Config configures the popup.
type Config struct {
	Client          Client
	Version         string
	RefreshInterval time.Duration
}

// App is the popup model.
type App struct {
	client          Client
	keys            KeyMap
	spinner         spinner.Model
	version         string
	refreshInterval time.Duration

	items  []badge.PendingUpdate
	cursor int
	loaded bool
	width  int

	busy      string
	status    string
	statusErr bool
}

// NewApp creates the popup model.
func NewApp(cfg Config) *App {
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = defaultRefreshInterval
	}
	return &App{
		client:          cfg.Client,
		keys:            DefaultKeyMap(),
		spinner:         spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(stylePending)),
		version:         cfg.Version,
		refreshInterval: interval,
	}
}

// Init implements tea.Model.
func (m *App) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.loadCmd(), scheduleTick(m.refreshInterval))
}

// Items returns the displayed entries.
func (m *App) Items() []badge.PendingUpdate {
	return m.items
}

// Selected returns the entry under the cursor.
func (m *App) Selected() (badge.PendingUpdate, bool) {
	if m.cursor < 0 || m.cursor >= len(m.items) {
		return badge.PendingUpdate{}, false
	}
	return m.items[m.cursor], true
}

// Status returns the last status line and whether it reports an error.
func (m *App) Status() (string, bool) {
	return m.status, m.statusErr
}

// Busy reports the action in flight, if any.
func (m *App) Busy() string {
	return m.busy
}

// Update implements tea.Model.
func (m *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case pendingLoadedMsg:
		m.loaded = true
		if msg.err != nil {
			m.setStatus("Could not load updates: "+msg.err.Error(), true)
			return m, nil
		}
		m.items = msg.items
		m.clampCursor()
		return m, nil

	case actionDoneMsg:
		m.busy = ""
		if msg.err != nil {
			m.setStatus(msg.err.Error(), true)
		} else {
			m.setStatus(msg.success, false)
		}
		return m, m.loadCmd()

	case tickMsg:
		if m.busy != "" {
			return m, scheduleTick(m.refreshInterval)
		}
		return m, tea.Batch(m.loadCmd(), scheduleTick(m.refreshInterval))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.items)-1 {
			m.cursor++
		}
	case key.Matches(msg, m.keys.Refresh):
		return m, m.loadCmd()
	case key.Matches(msg, m.keys.Check):
		if m.busy != "" {
			return m, nil
		}
		m.busy = "Checking for updates"
		return m, m.callCmd(platform.Message{Action: platform.ActionCheckUpdates}, "Check finished")
	case key.Matches(msg, m.keys.Update):
		item, ok := m.Selected()
		if !ok || m.busy != "" {
			return m, nil
		}
		if item.Pending {
			m.setStatus(fmt.Sprintf("%s is already %s", item.ShortName, item.State), false)
			return m, nil
		}
		m.busy = "Updating " + item.ShortName
		req := platform.Message{Action: platform.ActionUpdateExt, Args: platform.MessageArgs{ID: item.ID}}
		return m, m.callCmd(req, fmt.Sprintf("Downloaded %s %s; waiting for install", item.ShortName, item.NewVersion))
	case key.Matches(msg, m.keys.Copy):
		item, ok := m.Selected()
		if !ok {
			return m, nil
		}
		if err := copyToClipboard(item.ID); err != nil {
			m.setStatus("Copy failed: "+err.Error(), true)
		} else {
			m.setStatus("Copied "+item.ID, false)
		}
	}
	return m, nil
}

func (m *App) setStatus(text string, isErr bool) {
	m.status = text
	m.statusErr = isErr
}

func (m *App) clampCursor() {
	if m.cursor >= len(m.items) {
		m.cursor = len(m.items) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// View implements tea.Model.
func (m *App) View() string {
	var b strings.Builder

	header := styleAppHeader.Render("extwatch")
	if m.version != "" {
		header += styleDim.Render(" v" + m.version)
	}
	if m.loaded {
		header += styleDim.Render(fmt.Sprintf("  %d pending", len(m.items)))
	}
	b.WriteString(header)
	b.WriteString("\n\n")

	switch {
	case !m.loaded:
		b.WriteString(m.spinner.View() + " Loading…")
	case len(m.items) == 0:
		b.WriteString(styleSuccess.Render("All extensions are up to date."))
	default:
		b.WriteString(RenderPending(m.items, RenderOptions{Width: m.width, Cursor: m.cursor}))
	}
	b.WriteString("\n\n")

	switch {
	case m.busy != "":
		b.WriteString(m.spinner.View() + " " + m.busy + "…")
	case m.status != "" && m.statusErr:
		b.WriteString(styleError.Render(m.status))
	case m.status != "":
		b.WriteString(styleSuccess.Render(m.status))
	}
	b.WriteString("\n")
	b.WriteString(renderFooter(m.width))
	return b.String()
}
