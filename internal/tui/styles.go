package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorText     = lipgloss.Color("#e0def4")
	colorSubtext  = lipgloss.Color("#908caa")
	colorOverlay  = lipgloss.Color("#6e6a86")
	colorLavender = lipgloss.Color("#c4a7e7")
	colorTeal     = lipgloss.Color("#9ccfd8")
	colorPeach    = lipgloss.Color("#f6c177")
	colorRed      = lipgloss.Color("#eb6f92")
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorLavender).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(colorOverlay)

	userStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorTeal)

	assistantStyle = lipgloss.NewStyle().
			Foreground(colorText)

	askStyle = lipgloss.NewStyle().
			Foreground(colorPeach)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorSubtext)
)
