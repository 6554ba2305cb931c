// Package ui provides the user-facing shells for the DataGate shell.
// This file contains the terminal colors and styles.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/yllada/datagate-shell/common"
)

// Theme is the terminal palette. Colors are ANSI 256-color codes.
type Theme struct {
	NormalText lipgloss.Color
	FaintText  lipgloss.Color
	Title      lipgloss.Color
	Border     lipgloss.Color
	BadgeText  lipgloss.Color

	Idle          lipgloss.Color
	Connecting    lipgloss.Color
	Connected     lipgloss.Color
	Disconnecting lipgloss.Color
}

// DarkTheme suits dark terminal backgrounds.
var DarkTheme = Theme{
	NormalText:    lipgloss.Color("252"),
	FaintText:     lipgloss.Color("243"),
	Title:         lipgloss.Color("75"),
	Border:        lipgloss.Color("238"),
	BadgeText:     lipgloss.Color("232"),
	Idle:          lipgloss.Color("246"),
	Connecting:    lipgloss.Color("214"),
	Connected:     lipgloss.Color("78"),
	Disconnecting: lipgloss.Color("209"),
}

// LightTheme suits light terminal backgrounds.
var LightTheme = Theme{
	NormalText:    lipgloss.Color("235"),
	FaintText:     lipgloss.Color("245"),
	Title:         lipgloss.Color("25"),
	Border:        lipgloss.Color("250"),
	BadgeText:     lipgloss.Color("255"),
	Idle:          lipgloss.Color("242"),
	Connecting:    lipgloss.Color("130"),
	Connected:     lipgloss.Color("28"),
	Disconnecting: lipgloss.Color("160"),
}

// ThemeFor resolves a configured theme name. "auto" follows the terminal.
func ThemeFor(name string) Theme {
	switch name {
	case common.ThemeLight:
		return LightTheme
	case common.ThemeDark:
		return DarkTheme
	default:
		if lipgloss.HasDarkBackground() {
			return DarkTheme
		}
		return LightTheme
	}
}

// StateColor returns the accent color for a connection state.
func (theme Theme) StateColor(status common.ConnectionStatus) lipgloss.Color {
	switch status {
	case common.StatusConnecting:
		return theme.Connecting
	case common.StatusConnected:
		return theme.Connected
	case common.StatusDisconnecting:
		return theme.Disconnecting
	default:
		return theme.Idle
	}
}

// Styles are the lipgloss styles the terminal shell renders with.
type Styles struct {
	theme  Theme
	Title  lipgloss.Style
	Status lipgloss.Style
	Detail lipgloss.Style
	Help   lipgloss.Style
	Log    lipgloss.Style
}

// NewStyles builds the styles for theme.
func NewStyles(theme Theme) Styles {
	return Styles{
		theme:  theme,
		Title:  lipgloss.NewStyle().Bold(true).Foreground(theme.Title),
		Status: lipgloss.NewStyle().Foreground(theme.NormalText),
		Detail: lipgloss.NewStyle().Foreground(theme.FaintText).Italic(true),
		Help:   lipgloss.NewStyle().Foreground(theme.FaintText),
		Log: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border).
			Padding(0, 1),
	}
}

// Badge renders the state label in its accent color.
func (s Styles) Badge(status common.ConnectionStatus) string {
	label := "IDLE"
	switch status {
	case common.StatusConnecting:
		label = "CONNECTING"
	case common.StatusConnected:
		label = "CONNECTED"
	case common.StatusDisconnecting:
		label = "DISCONNECTING"
	}
	return lipgloss.NewStyle().
		Bold(true).
		Padding(0, 1).
		Foreground(s.theme.BadgeText).
		Background(s.theme.StateColor(status)).
		Render(label)
}
