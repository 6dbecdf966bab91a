// Package capability wraps the language-understanding service behind three
// narrow calls. Implementations: LLM (Anthropic or OpenAI-compatible
// backends through a Completer) and Rules (deterministic, offline).
package capability

import (
	"context"

	"github.com/starford/vaultkeeper/internal/models"
)

// Capability classifies utterances and extracts structure from them.
// It never writes anything and never answers questions itself.
type Capability interface {
	// Classify maps an utterance to remember, query or unknown.
	Classify(ctx context.Context, text string) (models.Intent, error)
	// ExtractFacts returns candidate triples stated in text. Entity names
	// are returned as written; first-person references are returned as "I".
	ExtractFacts(ctx context.Context, text string) ([]models.Candidate, error)
	// ExtractQueryTarget returns the entity a question is about. ok is
	// false for broad questions with no single subject.
	ExtractQueryTarget(ctx context.Context, text string) (name string, ok bool, err error)
}

// Completer sends one system+user prompt to a chat model and returns the
// text of its reply.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Name() string
}
