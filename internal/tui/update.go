package tui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/starford/vaultkeeper/internal/router"
)

const cancelledText = "Cancelled. Nothing was written."

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		m.Viewport.Width = msg.Width
		// Header (2 lines), status line and input line.
		m.Viewport.Height = max(msg.Height-4, 1)
		m.Input.Width = max(msg.Width-4, 10)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case responseMsg:
		m.Busy = false
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.record(msg)
		m.refresh()
		return m, nil

	case spinner.TickMsg:
		if !m.Busy {
			return m, nil
		}
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		// Ctrl+C cancels the utterance in flight; when idle it quits.
		if m.Busy {
			if m.cancel != nil {
				m.cancel()
			}
			return m, nil
		}
		return m, tea.Quit

	case "esc":
		if !m.Busy {
			return m, tea.Quit
		}
		return m, nil

	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.Viewport, cmd = m.Viewport.Update(msg)
		return m, cmd

	case "enter":
		if m.Busy {
			return m, nil
		}
		text := strings.TrimSpace(m.Input.Value())
		if text == "" {
			return m, nil
		}
		m.Input.Reset()
		m.History = append(m.History, entry{role: roleUser, text: text})
		m.refresh()

		ctx, cancel := context.WithCancel(m.ctx)
		m.Busy = true
		m.cancel = cancel
		return m, tea.Batch(m.Spinner.Tick, m.handle(ctx, text))
	}

	var cmd tea.Cmd
	m.Input, cmd = m.Input.Update(msg)
	return m, cmd
}

func (m *Model) record(msg responseMsg) {
	switch {
	case errors.Is(msg.err, context.Canceled):
		m.History = append(m.History, entry{role: roleError, text: cancelledText})
	case msg.err != nil:
		m.History = append(m.History, entry{role: roleError, text: "Error: " + msg.err.Error()})
	case msg.resp.Kind == router.KindClear:
		m.History = nil
	case msg.resp.Kind == router.KindClarify, msg.resp.Kind == router.KindDisambiguate:
		m.History = append(m.History, entry{role: roleAsk, text: msg.resp.Text})
	default:
		m.History = append(m.History, entry{role: roleAssistant, text: msg.resp.Text})
	}
}
