// Package tui implements the Bubbletea chat interface: one input line, a
// scrolling transcript, and a spinner while an utterance is in flight.
package tui

import (
	"context"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/starford/vaultkeeper/internal/router"
)

// Handler answers one line of input.
type Handler interface {
	Handle(ctx context.Context, text string) (*router.Response, error)
}

type role int

const (
	roleUser role = iota
	roleAssistant
	roleAsk
	roleError
)

type entry struct {
	role role
	text string
}

type responseMsg struct {
	resp *router.Response
	err  error
}

// Model holds all chat state.
type Model struct {
	handler Handler
	ctx     context.Context
	title   string

	Width  int
	Height int

	Input    textinput.Model
	Spinner  spinner.Model
	Viewport viewport.Model

	History []entry
	Busy    bool
	cancel  context.CancelFunc
}

// New creates a chat model. Every utterance runs under a context derived
// from ctx.
func New(ctx context.Context, h Handler, title string) Model {
	ti := textinput.New()
	ti.Placeholder = "remember that I like cookies"
	ti.Prompt = "› "
	ti.CharLimit = 4000
	ti.Width = 60
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorLavender)

	m := Model{
		handler:  h,
		ctx:      ctx,
		title:    title,
		Input:    ti,
		Spinner:  sp,
		Viewport: viewport.New(80, 20),
		History:  []entry{{role: roleAssistant, text: router.HelpText}},
	}
	m.refresh()
	return m
}

// Init starts the cursor blinking.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Run starts the program and blocks until the user quits or ctx ends.
func Run(ctx context.Context, h Handler, title string) error {
	p := tea.NewProgram(New(ctx, h, title), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m Model) handle(ctx context.Context, text string) tea.Cmd {
	return func() tea.Msg {
		resp, err := m.handler.Handle(ctx, text)
		return responseMsg{resp: resp, err: err}
	}
}
