// Package ui holds terminal styles for the driftsync CLI.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888888"))

	onlineStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00CC66"))

	offlineStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF5F5F"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFAA00"))

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF0000"))
)

// Title renders a section heading.
func Title(s string) string {
	return titleStyle.Render(s)
}

// Label renders a dim field label.
func Label(s string) string {
	return labelStyle.Render(s)
}

// ConnState renders online/offline with the matching color.
func ConnState(online bool) string {
	if online {
		return onlineStyle.Render("online")
	}
	return offlineStyle.Render("offline")
}

// Pending renders a pending-operation count, highlighted when nonzero.
func Pending(n int) string {
	if n == 0 {
		return fmt.Sprintf("%d", n)
	}
	return warnStyle.Render(fmt.Sprintf("%d", n))
}

// Errorf renders an error line.
func Errorf(format string, args ...any) string {
	return errorStyle.Render(fmt.Sprintf(format, args...))
}
