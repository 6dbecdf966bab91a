package capability

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/starford/vaultkeeper/internal/apperr"
	"github.com/starford/vaultkeeper/internal/models"
)

// LLM implements Capability on top of a chat model.
type LLM struct {
	completer    Completer
	instructions string
	logger       *slog.Logger
}

// NewLLM returns an LLM capability. instructions, when non-empty, are
// appended to every system prompt.
func NewLLM(c Completer, instructions string, logger *slog.Logger) *LLM {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLM{completer: c, instructions: instructions, logger: logger}
}

// Classify implements Capability.
func (l *LLM) Classify(ctx context.Context, text string) (models.Intent, error) {
	reply, err := l.completer.Complete(ctx, withInstructions(classifyPrompt, l.instructions), text)
	if err != nil {
		return models.IntentUnknown, apperr.Mark(apperr.Wrap(err, "classify"), apperr.ErrClassification)
	}
	var out struct {
		Intent string `json:"intent"`
	}
	if err := decodeReply(reply, &out); err != nil {
		l.logger.Debug("capability: unparsable classification", slog.String("reply", reply))
		return models.IntentUnknown, apperr.Mark(err, apperr.ErrClassification)
	}
	switch models.Intent(strings.ToLower(strings.TrimSpace(out.Intent))) {
	case models.IntentRemember:
		return models.IntentRemember, nil
	case models.IntentQuery:
		return models.IntentQuery, nil
	default:
		return models.IntentUnknown, nil
	}
}

// ExtractFacts implements Capability.
func (l *LLM) ExtractFacts(ctx context.Context, text string) ([]models.Candidate, error) {
	reply, err := l.completer.Complete(ctx, withInstructions(extractPrompt, l.instructions), text)
	if err != nil {
		return nil, err
	}
	var out struct {
		Facts []models.Candidate `json:"facts"`
	}
	if err := decodeReply(reply, &out); err != nil {
		l.logger.Debug("capability: unparsable extraction", slog.String("reply", reply))
		return nil, apperr.Extraction(text, err)
	}
	return out.Facts, nil
}

// ExtractQueryTarget implements Capability.
func (l *LLM) ExtractQueryTarget(ctx context.Context, text string) (string, bool, error) {
	reply, err := l.completer.Complete(ctx, withInstructions(targetPrompt, l.instructions), text)
	if err != nil {
		return "", false, err
	}
	var out struct {
		Entity *string `json:"entity"`
	}
	if err := decodeReply(reply, &out); err != nil {
		// A question we cannot pin to an entity falls back to broad search.
		l.logger.Debug("capability: unparsable query target", slog.String("reply", reply))
		return "", false, nil
	}
	if out.Entity == nil || strings.TrimSpace(*out.Entity) == "" {
		return "", false, nil
	}
	return strings.TrimSpace(*out.Entity), true, nil
}

// decodeReply pulls the first JSON object out of a model reply, tolerating
// code fences and surrounding prose.
func decodeReply(reply string, v any) error {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return apperr.Newf("no JSON object in reply %q", truncate(reply, 200))
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), v); err != nil {
		return apperr.Wrap(err, "decode reply")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
