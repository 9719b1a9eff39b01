package ui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"extwatch/internal/badge"
	"extwatch/internal/platform"
)

type tickMsg struct{}

type pendingLoadedMsg struct {
	items []badge.PendingUpdate
	err   error
}

type actionDoneMsg struct {
	action  string
	success string
	err     error
}

func scheduleTick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m *App) loadCmd() tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		items, err := client.Pending(ctx)
		return pendingLoadedMsg{items: items, err: err}
	}
}

func (m *App) callCmd(msg platform.Message, success string) tea.Cmd {
	client := m.client
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		err := client.Call(ctx, msg)
		return actionDoneMsg{action: msg.Action, success: success, err: err}
	}
}
