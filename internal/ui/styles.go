// Package ui renders run reports and history listings for the terminal.
package ui

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

// Theme is the single source of truth for all output styling.
type Theme struct {
	Primary lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Dim     lipgloss.Style
	Header  lipgloss.Style
}

// DefaultTheme returns the default color theme.
func DefaultTheme() *Theme {
	return &Theme{
		Primary: lipgloss.NewStyle().Foreground(lipgloss.Color("12")), // Blue
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("10")), // Green
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),  // Red
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")), // Yellow
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("8")),  // Gray
		Header:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
	}
}

// PlainTheme returns a theme with no styling, for non-TTY output.
func PlainTheme() *Theme {
	return &Theme{}
}

var theme = autoTheme()

// autoTheme picks the default theme on a terminal and the plain theme
// when output is piped or NO_COLOR is set.
func autoTheme() *Theme {
	if os.Getenv("NO_COLOR") != "" {
		return PlainTheme()
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return PlainTheme()
	}
	return DefaultTheme()
}

// SetTheme changes the global theme.
func SetTheme(t *Theme) {
	theme = t
}

// Success renders text in the success color.
func Success(text string) string {
	return theme.Success.Render(text)
}

// Error renders text in the error color.
func Error(text string) string {
	return theme.Error.Render(text)
}

// Warning renders text in the warning color.
func Warning(text string) string {
	return theme.Warning.Render(text)
}

// Dim renders text in a dimmed color.
func Dim(text string) string {
	return theme.Dim.Render(text)
}

// Header renders bold header text.
func Header(text string) string {
	return theme.Header.Render(text)
}
