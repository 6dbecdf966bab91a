package capability

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/vaultkeeper/internal/apperr"
	"github.com/starford/vaultkeeper/internal/models"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type scriptedCompleter struct {
	replies []string
	err     error
	systems []string
}

func (s *scriptedCompleter) Name() string { return "scripted" }

func (s *scriptedCompleter) Complete(_ context.Context, system, _ string) (string, error) {
	s.systems = append(s.systems, system)
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func TestLLMClassify(t *testing.T) {
	cases := []struct {
		reply string
		want  models.Intent
	}{
		{`{"intent": "remember"}`, models.IntentRemember},
		{"```json\n{\"intent\": \"query\"}\n```", models.IntentQuery},
		{`Sure! {"intent": "chit-chat"}`, models.IntentUnknown},
	}
	for _, tc := range cases {
		l := NewLLM(&scriptedCompleter{replies: []string{tc.reply}}, "", quiet)
		got, err := l.Classify(context.Background(), "anything")
		require.NoError(t, err, tc.reply)
		assert.Equal(t, tc.want, got, tc.reply)
	}
}

func TestLLMClassifyFailureIsClassificationError(t *testing.T) {
	l := NewLLM(&scriptedCompleter{replies: []string{"no idea"}}, "", quiet)
	_, err := l.Classify(context.Background(), "hm")
	assert.True(t, apperr.Is(err, apperr.ErrClassification))

	l = NewLLM(&scriptedCompleter{err: errors.New("boom")}, "", quiet)
	_, err = l.Classify(context.Background(), "hm")
	assert.True(t, apperr.Is(err, apperr.ErrClassification))
}

func TestLLMExtractFacts(t *testing.T) {
	reply := `{"facts": [{"entity": "Michael", "predicate": "likes", "value": "flowers", "confidence": 0.9}]}`
	l := NewLLM(&scriptedCompleter{replies: []string{reply}}, "", quiet)
	got, err := l.ExtractFacts(context.Background(), "Michael likes flowers")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.Candidate{Entity: "Michael", Predicate: "likes", Value: "flowers", Confidence: 0.9}, got[0])
}

func TestLLMExtractFactsKeepsRawText(t *testing.T) {
	l := NewLLM(&scriptedCompleter{replies: []string{"I could not do that"}}, "", quiet)
	_, err := l.ExtractFacts(context.Background(), "the raw utterance")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrExtraction))
	assert.Equal(t, "the raw utterance", apperr.RawText(err))
}

func TestLLMExtractQueryTarget(t *testing.T) {
	l := NewLLM(&scriptedCompleter{replies: []string{`{"entity": "Melanie"}`, `{"entity": null}`, `garbage`}}, "", quiet)
	ctx := context.Background()

	name, ok, err := l.ExtractQueryTarget(ctx, "what do I know about Melanie?")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Melanie", name)

	_, ok, err = l.ExtractQueryTarget(ctx, "compare everyone")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = l.ExtractQueryTarget(ctx, "??")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLLMAppendsInstructions(t *testing.T) {
	c := &scriptedCompleter{replies: []string{`{"intent":"query"}`}}
	l := NewLLM(c, "Always call my partner Sam.", quiet)
	_, err := l.Classify(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, c.systems, 1)
	assert.Contains(t, c.systems[0], "Always call my partner Sam.")
}

func TestRulesExtract(t *testing.T) {
	cases := []struct {
		text string
		want models.Candidate
	}{
		{"Michael likes flowers", models.Candidate{Entity: "Michael", Predicate: "likes", Value: "flowers"}},
		{"remember that I like cookies", models.Candidate{Entity: "I", Predicate: "likes", Value: "cookies"}},
		{"my sister is Anna", models.Candidate{Entity: "I", Predicate: "sister", Value: "Anna", ValueIsEntity: true}},
		{"Michael's sister is Anna", models.Candidate{Entity: "Michael", Predicate: "sister", Value: "Anna", ValueIsEntity: true}},
		{"Anna is my sister", models.Candidate{Entity: "I", Predicate: "sister", Value: "Anna", ValueIsEntity: true}},
		{"Michael lives in Paris", models.Candidate{Entity: "Michael", Predicate: "lives_in", Value: "Paris", ValueIsEntity: true}},
		{"Zoe loves [[Rex]]", models.Candidate{Entity: "Zoe", Predicate: "loves", Value: "Rex", ValueIsEntity: true}},
	}
	r := NewRules()
	for _, tc := range cases {
		got, err := r.ExtractFacts(context.Background(), tc.text)
		require.NoError(t, err, tc.text)
		require.Len(t, got, 1, tc.text)
		tc.want.Confidence = got[0].Confidence
		assert.Equal(t, tc.want, got[0], tc.text)
	}
}

func TestRulesExtractSeveralSentences(t *testing.T) {
	got, err := NewRules().ExtractFacts(context.Background(), "Michael likes flowers. Michael lives in Paris.")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "likes", got[0].Predicate)
	assert.Equal(t, "lives_in", got[1].Predicate)
}

func TestRulesClassify(t *testing.T) {
	cases := map[string]models.Intent{
		"remember that I like cookies":  models.IntentRemember,
		"Michael likes flowers":         models.IntentRemember,
		"what do I know about Melanie?": models.IntentQuery,
		"Does Michael like flowers":     models.IntentQuery,
		"hello there":                   models.IntentUnknown,
		"":                              models.IntentUnknown,
	}
	r := NewRules()
	for text, want := range cases {
		got, err := r.Classify(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, want, got, text)
	}
}

func TestRulesQueryTarget(t *testing.T) {
	cases := []struct {
		text string
		name string
		ok   bool
	}{
		{"what do I know about Melanie?", "Melanie", true},
		{"What does Michael like?", "Michael", true},
		{"Who is Michael's sister?", "Michael", true},
		{"what about [[Zoë]]", "Zoë", true},
		{"what do I like?", "I", true},
		{"what is the weather", "", false},
	}
	r := NewRules()
	for _, tc := range cases {
		name, ok, err := r.ExtractQueryTarget(context.Background(), tc.text)
		require.NoError(t, err)
		assert.Equal(t, tc.ok, ok, tc.text)
		assert.Equal(t, tc.name, name, tc.text)
	}
}

type flaky struct {
	calls int
	fail  int
	err   error
	block bool
}

func (f *flaky) Classify(ctx context.Context, _ string) (models.Intent, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return models.IntentUnknown, ctx.Err()
	}
	if f.calls <= f.fail {
		return models.IntentUnknown, f.err
	}
	return models.IntentQuery, nil
}

func (f *flaky) ExtractFacts(context.Context, string) ([]models.Candidate, error) { return nil, nil }

func (f *flaky) ExtractQueryTarget(context.Context, string) (string, bool, error) {
	return "", false, nil
}

func newRetrying(inner Capability, cfg RetryConfig) *Retrying {
	r := NewRetrying(inner, cfg, quiet)
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestRetryingRecoversFromTransientErrors(t *testing.T) {
	inner := &flaky{fail: 2, err: apperr.Transient(errors.New("429"))}
	got, err := newRetrying(inner, RetryConfig{MaxRetries: 3}).Classify(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, models.IntentQuery, got)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingGivesUp(t *testing.T) {
	inner := &flaky{fail: 10, err: apperr.Transient(errors.New("503"))}
	_, err := newRetrying(inner, RetryConfig{MaxRetries: 2}).Classify(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrTransient))
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingDoesNotRetryPermanentErrors(t *testing.T) {
	inner := &flaky{fail: 10, err: errors.New("401 unauthorized")}
	_, err := newRetrying(inner, RetryConfig{MaxRetries: 5}).Classify(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryingHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inner := &flaky{}
	_, err := newRetrying(inner, RetryConfig{MaxRetries: 5}).Classify(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, inner.calls)
}

func TestRetryingTimeoutIsTransient(t *testing.T) {
	inner := &flaky{block: true}
	_, err := newRetrying(inner, RetryConfig{MaxRetries: 1, Timeout: 10 * time.Millisecond}).Classify(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ErrTransient))
	assert.Equal(t, 2, inner.calls)
}

func TestNewRules(t *testing.T) {
	c, err := New(Settings{Provider: ProviderRules}, quiet)
	require.NoError(t, err)
	assert.IsType(t, &Rules{}, c)

	_, err = New(Settings{Provider: "nope"}, quiet)
	assert.Error(t, err)
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	got := truncate("añb", 2)
	assert.Equal(t, "a...", got)
	assert.Equal(t, "añb", truncate("añb", 10))
}
