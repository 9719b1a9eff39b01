package ui

import "github.com/charmbracelet/lipgloss"

var (
	cPurple     = lipgloss.Color("99")
	cCyan       = lipgloss.Color("39")
	cNeonGreen  = lipgloss.Color("118")
	cRed        = lipgloss.Color("203")
	cGold       = lipgloss.Color("220")
	cBrightGray = lipgloss.Color("246")
	cWhite      = lipgloss.Color("255")
	cHighlight  = lipgloss.Color("57")

	styleAppHeader = lipgloss.NewStyle().
			Foreground(cWhite).
			Background(cPurple).
			Bold(true).
			Padding(0, 1)

	styleDim      = lipgloss.NewStyle().Foreground(cBrightGray)
	styleName     = lipgloss.NewStyle().Foreground(cWhite)
	styleVersion  = lipgloss.NewStyle().Foreground(cBrightGray)
	styleNewer    = lipgloss.NewStyle().Foreground(cNeonGreen).Bold(true)
	stylePending  = lipgloss.NewStyle().Foreground(cCyan).Bold(true)
	styleID       = lipgloss.NewStyle().Foreground(cGold)
	styleSuccess  = lipgloss.NewStyle().Foreground(cNeonGreen)
	styleError    = lipgloss.NewStyle().Foreground(cRed).Bold(true)
	styleSelected = lipgloss.NewStyle().
			Background(cHighlight).
			Foreground(cWhite).
			Bold(true)

	styleKeyPill = lipgloss.NewStyle().
			Background(cPurple).
			Foreground(cWhite).
			Bold(true)

	styleKeyDesc = lipgloss.NewStyle().
			Foreground(cBrightGray)
)
