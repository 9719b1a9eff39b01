package ui

import "github.com/charmbracelet/bubbles/key"

// KeyMap defines the popup's keyboard shortcuts.
type KeyMap struct {
	Up   key.Binding
	Down key.Binding

	Update  key.Binding
	Check   key.Binding
	Copy    key.Binding
	Refresh key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the default keybindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/↓  j/k", "Move up/down"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↑/↓  j/k", "Move up/down"),
		),
		Update: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("⏎", "Update"),
		),
		Check: key.NewBinding(
			key.WithKeys("c"),
			key.WithHelp("c", "Check now"),
		),
		Copy: key.NewBinding(
			key.WithKeys("y"),
			key.WithHelp("y", "Copy ID"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "Reload"),
		),
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "Quit"),
		),
	}
}
