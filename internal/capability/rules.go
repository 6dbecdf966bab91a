package capability

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/starford/vaultkeeper/internal/models"
	"github.com/starford/vaultkeeper/internal/parser"
)

var (
	rememberPrefixRe = regexp.MustCompile(`(?i)^\s*(?:please\s+)?(?:remember|note|record)(?:\s+that)?[:,]?\s+`)
	questionRe       = regexp.MustCompile(`(?i)^\s*(?:what|who|whom|whose|where|when|which|why|how|do|does|did|is|are|was|were|can|could|tell me|show me|list|find|summari[sz]e|compare)\b`)
	sentenceSplitRe  = regexp.MustCompile(`[.;!]+(?:\s+|$)|\n+`)

	verbRe       = regexp.MustCompile(`(?i)^(.+?)\s+(likes?|loves?|hates?|dislikes?|enjoys?|prefers?|owns?|knows?|plays?|drinks?|eats?|wants?|needs?|reads?|collects?)\s+(.+)$`)
	placeRe      = regexp.MustCompile(`(?i)^(.+?)\s+(lives?|works?|studies|study|was born|grew up)\s+(in|at|for|on)\s+(.+)$`)
	possessiveRe = regexp.MustCompile(`(?i)^(my|.+?'s)\s+([a-z][a-z ]{0,30}?)\s+(?:is|are|was)\s+(.+)$`)
	isMyRe       = regexp.MustCompile(`(?i)^(.+?)\s+(?:is|was)\s+my\s+([a-z][a-z ]{0,30})$`)
	copulaRe     = regexp.MustCompile(`(?i)^(.+?)\s+(?:is|am|are)\s+(?:a\s+|an\s+|the\s+)?(.+)$`)
	selfRefRe    = regexp.MustCompile(`(?i)\b(?:i|me|my|myself)\b`)
)

// thirdPerson maps base verb forms to the predicate name used in notes.
var thirdPerson = map[string]string{
	"like": "likes", "love": "loves", "hate": "hates", "dislike": "dislikes",
	"enjoy": "enjoys", "prefer": "prefers", "own": "owns", "know": "knows",
	"play": "plays", "drink": "drinks", "eat": "eats", "want": "wants",
	"need": "needs", "read": "reads", "collect": "collects",
	"live": "lives", "work": "works", "study": "studies",
}

// Rules is a deterministic Capability built on sentence patterns. It
// handles the common "X likes Y", "my sister is Anna", "X lives in Y"
// shapes and exists for offline use and tests.
type Rules struct{}

// NewRules returns the rule-based capability.
func NewRules() *Rules { return &Rules{} }

// Classify implements Capability.
func (Rules) Classify(_ context.Context, text string) (models.Intent, error) {
	t := strings.TrimSpace(text)
	switch {
	case t == "":
		return models.IntentUnknown, nil
	case rememberPrefixRe.MatchString(t):
		return models.IntentRemember, nil
	case strings.HasSuffix(t, "?") || questionRe.MatchString(t):
		return models.IntentQuery, nil
	}
	if len(extract(t)) > 0 {
		return models.IntentRemember, nil
	}
	return models.IntentUnknown, nil
}

// ExtractFacts implements Capability.
func (Rules) ExtractFacts(_ context.Context, text string) ([]models.Candidate, error) {
	return extract(text), nil
}

// ExtractQueryTarget implements Capability.
func (Rules) ExtractQueryTarget(_ context.Context, text string) (string, bool, error) {
	if links := parser.Links(text); len(links) > 0 {
		return links[0], true, nil
	}
	if name := capitalizedRun(text); name != "" {
		return name, true, nil
	}
	if selfRefRe.MatchString(text) {
		return "I", true, nil
	}
	return "", false, nil
}

func extract(text string) []models.Candidate {
	text = rememberPrefixRe.ReplaceAllString(strings.TrimSpace(text), "")
	var out []models.Candidate
	for _, s := range sentenceSplitRe.Split(text, -1) {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if c, ok := extractSentence(s); ok {
			out = append(out, c)
		}
	}
	return out
}

func extractSentence(s string) (models.Candidate, bool) {
	if m := possessiveRe.FindStringSubmatch(s); m != nil {
		subject := strings.TrimSuffix(m[1], "'s")
		if strings.EqualFold(subject, "my") {
			subject = "I"
		}
		value := parser.Unlink(m[3])
		return candidate(subject, snake(m[2]), value, looksLikeName(m[3])), true
	}
	if m := isMyRe.FindStringSubmatch(s); m != nil {
		return candidate("I", snake(m[2]), parser.Unlink(m[1]), looksLikeName(m[1])), true
	}
	if m := placeRe.FindStringSubmatch(s); m != nil {
		verb := strings.ToLower(m[2])
		if v, ok := thirdPerson[verb]; ok {
			verb = v
		}
		return candidate(m[1], snake(verb+" "+strings.ToLower(m[3])), parser.Unlink(m[4]), looksLikeName(m[4])), true
	}
	if m := verbRe.FindStringSubmatch(s); m != nil {
		verb := strings.ToLower(m[2])
		if v, ok := thirdPerson[verb]; ok {
			verb = v
		}
		return candidate(m[1], verb, parser.Unlink(m[3]), isWikilink(m[3])), true
	}
	if m := copulaRe.FindStringSubmatch(s); m != nil {
		return candidate(m[1], "is", parser.Unlink(m[2]), isWikilink(m[2])), true
	}
	return models.Candidate{}, false
}

func candidate(subject, predicate, value string, valueIsEntity bool) models.Candidate {
	subject = strings.TrimSpace(subject)
	if strings.EqualFold(subject, "i") {
		subject = "I"
	}
	return models.Candidate{
		Entity:        parser.Unlink(subject),
		Predicate:     predicate,
		Value:         strings.TrimSpace(value),
		Confidence:    0.8,
		ValueIsEntity: valueIsEntity,
	}
}

// snake turns "lives in" into "lives_in".
func snake(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "_")
}

func isWikilink(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "[[") && strings.HasSuffix(s, "]]")
}

func looksLikeName(s string) bool {
	s = strings.TrimSpace(s)
	if isWikilink(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsUpper(r)
}

// capitalizedRun returns the first run of capitalized words that does not
// start the sentence, with a trailing possessive removed. "I" never counts.
func capitalizedRun(text string) string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
	var run []string
	for i, w := range words {
		w = strings.TrimSuffix(strings.TrimSuffix(w, "'s"), "'")
		r, _ := utf8.DecodeRuneInString(w)
		capital := unicode.IsUpper(r) && w != "I"
		if capital && (i > 0 || len(run) > 0) {
			run = append(run, w)
			continue
		}
		if len(run) > 0 {
			break
		}
	}
	return strings.Join(run, " ")
}
