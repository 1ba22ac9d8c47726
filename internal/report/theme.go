package report

import (
	"os"

	"github.com/charmbracelet/lipgloss"
)

// Theme styles terminal output.
type Theme struct {
	Title   lipgloss.Style
	Dim     lipgloss.Style
	Error   lipgloss.Style
	Success lipgloss.Style
	Warning lipgloss.Style
}

// NoColorRequested reports whether the NO_COLOR convention is in effect.
func NoColorRequested() bool {
	return os.Getenv("NO_COLOR") != ""
}

// DefaultTheme returns the colored theme, or Plain when noColor is set.
func DefaultTheme(noColor bool) Theme {
	if noColor {
		return Plain()
	}
	return Theme{
		Title:   lipgloss.NewStyle().Foreground(lipgloss.Color("#8EEBFF")).Bold(true),
		Dim:     lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6F93")),
		Error:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F56")).Bold(true),
		Success: lipgloss.NewStyle().Foreground(lipgloss.Color("#5CFF5C")).Bold(true),
		Warning: lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD166")).Bold(true),
	}
}

// Plain uses no color at all, for NO_COLOR terminals and tests.
func Plain() Theme {
	reset := lipgloss.NewStyle()
	return Theme{
		Title:   reset,
		Dim:     reset,
		Error:   reset,
		Success: reset,
		Warning: reset,
	}
}
