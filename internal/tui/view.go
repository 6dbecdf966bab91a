package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(m.title))
	b.WriteString("\n")
	b.WriteString(m.Viewport.View())
	b.WriteString("\n")
	if m.Busy {
		b.WriteString(m.Spinner.View() + helpStyle.Render(" thinking… ctrl+c to cancel"))
	} else {
		b.WriteString(helpStyle.Render("enter send · /help · /clear · esc quit"))
	}
	b.WriteString("\n")
	b.WriteString(m.Input.View())
	return b.String()
}

// refresh re-renders the transcript into the viewport and scrolls to the
// newest line.
func (m *Model) refresh() {
	m.Viewport.SetContent(m.transcript())
	m.Viewport.GotoBottom()
}

func (m Model) transcript() string {
	width := max(m.Viewport.Width-2, 20)
	wrap := lipgloss.NewStyle().Width(width)

	blocks := make([]string, 0, len(m.History))
	for _, e := range m.History {
		var s lipgloss.Style
		text := e.text
		switch e.role {
		case roleUser:
			s = userStyle
			text = "you: " + text
		case roleAsk:
			s = askStyle
		case roleError:
			s = errorStyle
		default:
			s = assistantStyle
		}
		blocks = append(blocks, s.Inherit(wrap).Render(text))
	}
	return strings.Join(blocks, "\n\n")
}
