// Package query answers questions from what the vault already holds. It
// never writes, never creates entities and never asks the capability to
// compose an answer: every statement comes from a stored fact or passage.
package query

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/starford/vaultkeeper/internal/apperr"
	"github.com/starford/vaultkeeper/internal/capability"
	"github.com/starford/vaultkeeper/internal/extractor"
	"github.com/starford/vaultkeeper/internal/index"
	"github.com/starford/vaultkeeper/internal/models"
	"github.com/starford/vaultkeeper/internal/resolver"
	"github.com/starford/vaultkeeper/internal/search"
	"github.com/starford/vaultkeeper/internal/slug"
	"github.com/starford/vaultkeeper/internal/vault"
)

const (
	defaultLimit = 10
	// maxPassage bounds one passage in an answer.
	maxPassage = 4000
	// rrfK is the reciprocal-rank-fusion constant.
	rrfK         = 60
	complexWords = 15
)

var complexRe = regexp.MustCompile(`(?i)\b(compare|summarize|summarise|analyse|analyze|relate|find all|list all|how many|across|between|both)\b`)

// Semantic is the embedding search the engine merges into broad queries.
type Semantic interface {
	Query(ctx context.Context, text string, limit int) ([]search.Hit, error)
}

// Options configures an Engine.
type Options struct {
	SelfEntity string
	Limit      int
}

// Engine answers query utterances.
type Engine struct {
	cap      capability.Capability
	resolver *resolver.Resolver
	store    *vault.Store
	idx      index.Reader
	semantic Semantic
	opts     Options
	logger   *slog.Logger
}

// New returns an Engine. semantic may be nil.
func New(c capability.Capability, res *resolver.Resolver, store *vault.Store, idx index.Reader, semantic Semantic, opts Options, logger *slog.Logger) *Engine {
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.SelfEntity == "" {
		opts.SelfEntity = "Me"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cap: c, resolver: res, store: store, idx: idx, semantic: semantic, opts: opts, logger: logger}
}

// IsComplex reports whether a question is too broad for a single-entity
// lookup.
func IsComplex(text string) bool {
	return len(strings.Fields(text)) > complexWords || complexRe.MatchString(text)
}

// Answer resolves the question's subject read-only and returns its facts,
// backlinks and passages; broad questions go to ranked search instead.
// An unknown subject yields an empty response, not an error.
func (e *Engine) Answer(ctx context.Context, u models.Utterance) (*GroundedResponse, error) {
	text := extractor.StripPrivate(u.Text)
	if IsComplex(text) {
		return e.broad(ctx, text)
	}

	name, ok, err := e.cap.ExtractQueryTarget(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger.Warn("query: target extraction failed, searching instead", slog.String("error", err.Error()))
		return e.broad(ctx, text)
	}
	if !ok {
		return e.broad(ctx, text)
	}
	if extractor.IsFirstPerson(name) {
		name = e.opts.SelfEntity
	}

	ent, err := e.resolver.Lookup(ctx, name)
	if apperr.Is(err, apperr.ErrNotFound) {
		e.logger.Debug("query: unknown entity", slog.String("name", name))
		return &GroundedResponse{Query: u.Text}, nil
	}
	if err != nil {
		return nil, err
	}
	return e.about(ctx, u.Text, ent)
}

// About answers everything known about one entity id.
func (e *Engine) About(ctx context.Context, id string) (*GroundedResponse, error) {
	n, err := e.store.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	return e.about(ctx, "", n.Entity())
}

func (e *Engine) about(ctx context.Context, question string, ent models.Entity) (*GroundedResponse, error) {
	n, err := e.store.Read(ctx, ent.ID)
	if err != nil {
		return nil, err
	}
	out := &GroundedResponse{Query: question, Entity: &ent}

	for _, f := range n.AllFacts() {
		out.Statements = append(out.Statements, Statement{
			Text:     phrase(n.Name, f.Predicate, f.Value),
			Citation: Citation{Entity: n.ID, Fact: f.ID},
		})
	}

	for _, b := range n.Backlinks {
		src, err := e.store.Read(ctx, b.Entity)
		if err != nil {
			if apperr.Is(err, apperr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		f, ok := src.FactByID(b.Fact)
		if !ok {
			continue
		}
		out.Statements = append(out.Statements, Statement{
			Text:     phrase(src.Name, f.Predicate, f.Value),
			Citation: Citation{Entity: src.ID, Fact: f.ID},
		})
	}

	for i, p := range passages(n.Body) {
		out.Statements = append(out.Statements, Statement{
			Text:     p,
			Citation: Citation{Entity: n.ID, Passage: i + 1},
		})
	}
	return out, nil
}

type ranked struct {
	id    string
	score float64
}

func (e *Engine) broad(ctx context.Context, text string) (*GroundedResponse, error) {
	out := &GroundedResponse{Query: text, Broad: true}
	merged := map[string]*ranked{}
	add := func(rank int, id string) {
		r, ok := merged[id]
		if !ok {
			r = &ranked{id: id}
			merged[id] = r
		}
		r.score += 1 / float64(rrfK+rank+1)
	}

	hits, err := e.idx.Search(text, e.opts.Limit)
	if err != nil {
		return nil, err
	}
	for i, h := range hits {
		add(i, h.ID)
	}
	if e.semantic != nil {
		sem, err := e.semantic.Query(ctx, text, e.opts.Limit)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("query: semantic search failed", slog.String("error", err.Error()))
		}
		for i, h := range sem {
			add(i, h.ID)
		}
	}

	list := make([]*ranked, 0, len(merged))
	for _, r := range merged {
		list = append(list, r)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].id < list[j].id
	})
	if len(list) > e.opts.Limit {
		list = list[:e.opts.Limit]
	}

	terms := index.Terms(text)
	for _, r := range list {
		n, err := e.store.Read(ctx, r.id)
		if err != nil {
			if apperr.Is(err, apperr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out.Statements = append(out.Statements, relevant(n, terms)...)
	}
	e.logger.Debug("query: broad search",
		slog.Int("hits", len(list)),
		slog.Int("statements", len(out.Statements)))
	return out, nil
}

// relevant returns the facts and passages of n that mention a term. A note
// that matched only semantically contributes all of its facts.
func relevant(n *models.Note, terms []string) []Statement {
	var facts, paras []Statement
	for _, f := range n.AllFacts() {
		st := Statement{
			Text:     phrase(n.Name, f.Predicate, f.Value),
			Citation: Citation{Entity: n.ID, Fact: f.ID},
		}
		if mentions(st.Text, terms) {
			facts = append(facts, st)
		}
	}
	for i, p := range passages(n.Body) {
		if mentions(p, terms) {
			paras = append(paras, Statement{Text: p, Citation: Citation{Entity: n.ID, Passage: i + 1}})
		}
	}
	if len(facts)+len(paras) > 0 {
		return append(facts, paras...)
	}
	for _, f := range n.AllFacts() {
		facts = append(facts, Statement{
			Text:     phrase(n.Name, f.Predicate, f.Value),
			Citation: Citation{Entity: n.ID, Fact: f.ID},
		})
	}
	return facts
}

func phrase(subject, predicate, value string) string {
	return subject + " " + strings.ReplaceAll(predicate, "_", " ") + " " + value
}

// passages splits a note body into paragraphs.
func passages(body string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n\n") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if len(p) > maxPassage {
			p = cut(p, maxPassage) + "..."
		}
		out = append(out, p)
	}
	return out
}

// cut shortens s to at most n bytes without splitting a rune.
func cut(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func mentions(s string, terms []string) bool {
	s = slug.Fold(s)
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
