package tui

import (
	"context"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/vaultkeeper/internal/router"
)

type blockingHandler struct{}

func (blockingHandler) Handle(ctx context.Context, _ string) (*router.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type echoHandler struct{}

func (echoHandler) Handle(_ context.Context, text string) (*router.Response, error) {
	return &router.Response{Kind: router.KindRemembered, Text: "Remembered: " + text}, nil
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func submit(t *testing.T, m Model, text string) (Model, tea.Cmd) {
	t.Helper()
	m.Input.SetValue(text)
	return update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
}

// responseOf runs the utterance command out of the batch returned by Enter.
func responseOf(t *testing.T, cmd tea.Cmd) tea.Cmd {
	t.Helper()
	require.NotNil(t, cmd)
	batch, ok := cmd().(tea.BatchMsg)
	require.True(t, ok)
	require.Len(t, batch, 2)
	return batch[1]
}

func TestSubmitAndRender(t *testing.T) {
	m := New(context.Background(), echoHandler{}, "vaultkeeper")
	m, cmd := submit(t, m, "Michael likes flowers")
	assert.True(t, m.Busy)
	assert.Equal(t, "", m.Input.Value())
	assert.Equal(t, entry{role: roleUser, text: "Michael likes flowers"}, m.History[len(m.History)-1])

	m, _ = update(t, m, responseOf(t, cmd)())
	assert.False(t, m.Busy)
	assert.Equal(t, "Remembered: Michael likes flowers", m.History[len(m.History)-1].text)
	assert.Contains(t, m.View(), "Remembered: Michael likes flowers")
}

func TestEmptyInputIgnored(t *testing.T) {
	m := New(context.Background(), echoHandler{}, "vaultkeeper")
	before := len(m.History)
	m, cmd := submit(t, m, "   ")
	assert.Nil(t, cmd)
	assert.False(t, m.Busy)
	assert.Len(t, m.History, before)
}

func TestCtrlCCancelsInFlight(t *testing.T) {
	m := New(context.Background(), blockingHandler{}, "vaultkeeper")
	m, cmd := submit(t, m, "Michael likes flowers")
	run := responseOf(t, cmd)

	done := make(chan tea.Msg, 1)
	go func() { done <- run() }()

	m, quit := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	assert.Nil(t, quit, "ctrl+c while busy must not quit")

	var msg tea.Msg
	select {
	case msg = <-done:
	case <-time.After(time.Second):
		t.Fatal("utterance was not cancelled")
	}
	m, _ = update(t, m, msg)
	assert.False(t, m.Busy)
	assert.Equal(t, cancelledText, m.History[len(m.History)-1].text)
}

func TestCtrlCQuitsWhenIdle(t *testing.T) {
	m := New(context.Background(), echoHandler{}, "vaultkeeper")
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestClearResponseEmptiesTranscript(t *testing.T) {
	m := New(context.Background(), echoHandler{}, "vaultkeeper")
	require.NotEmpty(t, m.History)
	m, _ = update(t, m, responseMsg{resp: &router.Response{Kind: router.KindClear}})
	assert.Empty(t, m.History)
}

func TestClarifyAndErrorsAreStyledApart(t *testing.T) {
	m := New(context.Background(), echoHandler{}, "vaultkeeper")
	m, _ = update(t, m, responseMsg{resp: &router.Response{Kind: router.KindDisambiguate, Text: "which one?"}})
	assert.Equal(t, roleAsk, m.History[len(m.History)-1].role)

	m, _ = update(t, m, responseMsg{err: assert.AnError})
	last := m.History[len(m.History)-1]
	assert.Equal(t, roleError, last.role)
	assert.Contains(t, last.text, assert.AnError.Error())
}

func TestWindowResize(t *testing.T) {
	m := New(context.Background(), echoHandler{}, "vaultkeeper")
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 40})
	assert.Equal(t, 100, m.Viewport.Width)
	assert.Equal(t, 36, m.Viewport.Height)
}
