// Package router is the top-level dispatcher: slash commands first, then
// capability classification. It never writes to the vault itself.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/starford/vaultkeeper/internal/apperr"
	"github.com/starford/vaultkeeper/internal/capability"
	"github.com/starford/vaultkeeper/internal/models"
	"github.com/starford/vaultkeeper/internal/query"
	"github.com/starford/vaultkeeper/internal/remember"
)

// Kind tells a surface how to present a Response.
type Kind string

const (
	KindRemembered     Kind = "remembered"
	KindAnswer         Kind = "answer"
	KindClarify        Kind = "clarify"
	KindDisambiguate   Kind = "disambiguate"
	KindHelp           Kind = "help"
	KindClear          Kind = "clear"
	KindNotImplemented Kind = "not_implemented"
)

// HelpText lists example prompts and slash commands.
const HelpText = "Type a natural-language prompt, e.g.\n" +
	"  remember that I like cookies\n" +
	"  what do I know about Melanie?\n\n" +
	"Slash commands: /remember <text>  /ask <text>  /autolink  /manage  /help  /clear"

// ClarifyText is returned for utterances that are neither a fact nor a
// question.
const ClarifyText = "I'm not sure whether you want me to remember that or answer it. " +
	"Try /remember <text> or /ask <text>."

var reserved = map[string]string{
	"/autolink": "Auto-linking is coming in phase 2.",
	"/manage":   "Vault management is coming in phase 3.",
}

// Response is the outcome of routing one utterance.
type Response struct {
	Kind       Kind                    `json:"kind"`
	Intent     models.Intent           `json:"intent,omitempty"`
	Text       string                  `json:"text"`
	Remembered *remember.Result        `json:"remembered,omitempty"`
	Answer     *query.GroundedResponse `json:"answer,omitempty"`
	Candidates []apperr.Candidate      `json:"candidates,omitempty"`
}

// Rememberer is the write path.
type Rememberer interface {
	Remember(ctx context.Context, u models.Utterance) (*remember.Result, error)
}

// Answerer is the read path.
type Answerer interface {
	Answer(ctx context.Context, u models.Utterance) (*query.GroundedResponse, error)
}

// Router dispatches utterances.
type Router struct {
	cap    capability.Capability
	rem    Rememberer
	ans    Answerer
	logger *slog.Logger
}

// New returns a Router.
func New(c capability.Capability, rem Rememberer, ans Answerer, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{cap: c, rem: rem, ans: ans, logger: logger}
}

// Route classifies u and runs the matching path. Expected failures
// (nothing extractable, ambiguous names, unclassifiable input) become
// responses; only infrastructure failures and cancellation are errors.
func (r *Router) Route(ctx context.Context, u models.Utterance) (*Response, error) {
	text := strings.TrimSpace(u.Text)
	if strings.HasPrefix(text, "/") {
		return r.slash(ctx, u, text)
	}
	if text == "" {
		return &Response{Kind: KindHelp, Text: HelpText}, nil
	}

	intent, err := r.cap.Classify(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logger.Warn("router: classification failed", slog.String("error", err.Error()))
		return &Response{Kind: KindClarify, Intent: models.IntentUnknown, Text: ClarifyText}, nil
	}
	r.logger.Debug("router: classified", slog.String("intent", string(intent)), slog.String("utterance", u.ID))

	u.Text = text
	switch intent {
	case models.IntentRemember:
		return r.remember(ctx, u)
	case models.IntentQuery:
		return r.answer(ctx, u)
	default:
		return &Response{Kind: KindClarify, Intent: models.IntentUnknown, Text: ClarifyText}, nil
	}
}

func (r *Router) slash(ctx context.Context, u models.Utterance, text string) (*Response, error) {
	cmd, rest, _ := strings.Cut(text, " ")
	cmd = strings.ToLower(cmd)
	rest = strings.TrimSpace(rest)

	if msg, ok := reserved[cmd]; ok {
		return &Response{Kind: KindNotImplemented, Text: msg}, nil
	}
	switch cmd {
	case "/help":
		return &Response{Kind: KindHelp, Text: HelpText}, nil
	case "/clear":
		return &Response{Kind: KindClear}, nil
	case "/remember":
		if rest == "" {
			return &Response{Kind: KindHelp, Text: "Usage: /remember <text>"}, nil
		}
		u.Text = rest
		return r.remember(ctx, u)
	case "/ask", "/query":
		if rest == "" {
			return &Response{Kind: KindHelp, Text: "Usage: " + cmd + " <question>"}, nil
		}
		u.Text = rest
		return r.answer(ctx, u)
	default:
		return &Response{Kind: KindHelp, Text: fmt.Sprintf("Unknown command %s.\n\n%s", cmd, HelpText)}, nil
	}
}

func (r *Router) remember(ctx context.Context, u models.Utterance) (*Response, error) {
	res, err := r.rem.Remember(ctx, u)
	if err != nil {
		if resp, ok := expected(err, models.IntentRemember); ok {
			return resp, nil
		}
		return nil, err
	}
	return &Response{
		Kind:       KindRemembered,
		Intent:     models.IntentRemember,
		Text:       Summarize(res),
		Remembered: res,
	}, nil
}

func (r *Router) answer(ctx context.Context, u models.Utterance) (*Response, error) {
	ans, err := r.ans.Answer(ctx, u)
	if err != nil {
		if resp, ok := expected(err, models.IntentQuery); ok {
			return resp, nil
		}
		return nil, err
	}
	return &Response{Kind: KindAnswer, Intent: models.IntentQuery, Text: ans.Text(), Answer: ans}, nil
}

// expected maps domain errors to user-facing responses.
func expected(err error, intent models.Intent) (*Response, bool) {
	var amb *apperr.AmbiguityError
	switch {
	case apperr.As(err, &amb):
		return &Response{
			Kind:       KindDisambiguate,
			Intent:     intent,
			Text:       amb.Error() + ". Which one did you mean? Use the full name or an alias.",
			Candidates: amb.Candidates,
		}, true
	case apperr.Is(err, apperr.ErrExtraction):
		return &Response{
			Kind:   KindClarify,
			Intent: intent,
			Text:   fmt.Sprintf("I couldn't find a fact to remember in %q.", apperr.RawText(err)),
		}, true
	case apperr.Is(err, apperr.ErrClassification):
		return &Response{Kind: KindClarify, Intent: models.IntentUnknown, Text: ClarifyText}, true
	}
	return nil, false
}

// Summarize renders a remember result as one line per fact.
func Summarize(res *remember.Result) string {
	var lines []string
	for _, e := range res.Created {
		lines = append(lines, "New note: "+e.Name)
	}
	for _, rec := range res.Facts {
		fact := rec.Subject.Name + " " + strings.ReplaceAll(rec.Fact.Predicate, "_", " ") + " " + rec.Fact.Value
		switch rec.Outcome {
		case remember.OutcomeRestated:
			lines = append(lines, "Already known: "+fact)
		case remember.OutcomeReplaced:
			old := make([]string, len(rec.Replaced))
			for i, f := range rec.Replaced {
				old[i] = f.Value
			}
			lines = append(lines, fmt.Sprintf("Updated: %s (was %s)", fact, strings.Join(old, ", ")))
		default:
			lines = append(lines, "Remembered: "+fact)
		}
	}
	return strings.Join(lines, "\n")
}
