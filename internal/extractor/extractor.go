// Package extractor turns a "remember" utterance into candidate triples.
// It neither resolves names nor persists anything.
package extractor

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/starford/vaultkeeper/internal/apperr"
	"github.com/starford/vaultkeeper/internal/capability"
	"github.com/starford/vaultkeeper/internal/models"
)

var privateRe = regexp.MustCompile(`(?is)<private>.*?</private>`)

// Redacted replaces private spans before text leaves the process.
const Redacted = "[REDACTED]"

var firstPerson = map[string]bool{"i": true, "me": true, "my": true, "myself": true, "mine": true}

// Options configures an Extractor.
type Options struct {
	// SelfEntity is the canonical name first-person references map to.
	SelfEntity string
	// MinConfidence drops candidates the capability is unsure about.
	MinConfidence float64
}

// Extractor wraps the capability's fact extraction with normalization.
type Extractor struct {
	cap    capability.Capability
	opts   Options
	logger *slog.Logger
}

// New returns an Extractor.
func New(c capability.Capability, opts Options, logger *slog.Logger) *Extractor {
	if opts.SelfEntity == "" {
		opts.SelfEntity = "Me"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cap: c, opts: opts, logger: logger}
}

// Extract returns the usable candidates stated in u. It fails with
// apperr.ErrExtraction, carrying the raw text, when nothing usable comes
// back.
func (e *Extractor) Extract(ctx context.Context, u models.Utterance) ([]models.Candidate, error) {
	text := StripPrivate(u.Text)
	if strings.TrimSpace(text) == "" || strings.TrimSpace(text) == Redacted {
		return nil, apperr.Extraction(u.Text, nil)
	}

	raw, err := e.cap.ExtractFacts(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if apperr.Is(err, apperr.ErrExtraction) {
			return nil, err
		}
		return nil, apperr.Extraction(u.Text, err)
	}

	out := make([]models.Candidate, 0, len(raw))
	for _, c := range raw {
		c, ok := e.normalize(c)
		if !ok {
			e.logger.Debug("extractor: candidate dropped",
				slog.String("entity", c.Entity),
				slog.String("predicate", c.Predicate),
				slog.String("utterance", u.ID))
			continue
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, apperr.Extraction(u.Text, nil)
	}
	return out, nil
}

func (e *Extractor) normalize(c models.Candidate) (models.Candidate, bool) {
	c.Entity = strings.TrimSpace(c.Entity)
	c.Value = strings.TrimSpace(c.Value)
	c.Predicate = Predicate(c.Predicate)
	if c.Entity == "" || c.Predicate == "" || c.Value == "" {
		return c, false
	}
	if c.Value == Redacted {
		return c, false
	}
	if c.Confidence == 0 {
		c.Confidence = 1
	}
	if c.Confidence < e.opts.MinConfidence {
		return c, false
	}
	if IsFirstPerson(c.Entity) {
		c.Entity = e.opts.SelfEntity
	}
	if IsFirstPerson(c.Value) {
		c.Value = e.opts.SelfEntity
		c.ValueIsEntity = true
	}
	return c, true
}

// StripPrivate replaces every <private>...</private> span with Redacted.
func StripPrivate(s string) string {
	return privateRe.ReplaceAllString(s, Redacted)
}

// IsFirstPerson reports whether name is a first-person pronoun.
func IsFirstPerson(name string) bool {
	return firstPerson[strings.ToLower(strings.TrimSpace(name))]
}

// Predicate normalizes a predicate to lower_snake_case.
func Predicate(p string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.TrimSpace(p) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if underscore && b.Len() > 0 {
				b.WriteByte('_')
			}
			underscore = false
			b.WriteRune(unicode.ToLower(r))
		default:
			underscore = true
		}
	}
	return b.String()
}
