// Package noteservice is the surface-facing facade over the engine. The
// HTTP API and the MCP server both go through it so they expose the same
// behaviour.
package noteservice

import (
	"context"
	"strings"

	"github.com/starford/vaultkeeper/internal/apperr"
	"github.com/starford/vaultkeeper/internal/engine"
	"github.com/starford/vaultkeeper/internal/index"
	"github.com/starford/vaultkeeper/internal/linkgraph"
	"github.com/starford/vaultkeeper/internal/models"
	"github.com/starford/vaultkeeper/internal/query"
	"github.com/starford/vaultkeeper/internal/router"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Hit sources.
const (
	SourceFullText = "fulltext"
	SourceSemantic = "semantic"
)

// EntityDetail is the full representation of one entity note.
type EntityDetail struct {
	ID        string                   `json:"id"`
	Path      string                   `json:"path"`
	Name      string                   `json:"name"`
	Aliases   []string                 `json:"aliases"`
	Facts     map[string][]models.Fact `json:"facts"`
	Backlinks []models.Backlink        `json:"backlinks"`
	Body      string                   `json:"body,omitempty"`
	Version   string                   `json:"version"`
}

// SearchHit is one search result from either index.
type SearchHit struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Source  string  `json:"source"`
}

// Service wraps an Engine.
type Service struct {
	eng *engine.Engine
}

// NewService creates a new service.
func NewService(eng *engine.Engine) *Service {
	return &Service{eng: eng}
}

// Handle routes free text exactly as the chat surface does.
func (s *Service) Handle(ctx context.Context, text string) (*router.Response, error) {
	return s.eng.Handle(ctx, text)
}

// Remember records text without classification.
func (s *Service) Remember(ctx context.Context, text string) (*router.Response, error) {
	return s.eng.Handle(ctx, "/remember "+strings.TrimSpace(text))
}

// Ask answers text without classification.
func (s *Service) Ask(ctx context.Context, text string) (*router.Response, error) {
	return s.eng.Handle(ctx, "/ask "+strings.TrimSpace(text))
}

// GetEntity reads an entity note. The vault is read directly so the
// result never lags behind the index.
func (s *Service) GetEntity(ctx context.Context, id string) (*EntityDetail, error) {
	if !validID(id) {
		return nil, apperr.Wrapf(apperr.ErrNotFound, "entity %q", id)
	}
	n, err := s.eng.Store.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	facts := n.Facts
	if facts == nil {
		facts = map[string][]models.Fact{}
	}
	return &EntityDetail{
		ID:        n.ID,
		Path:      n.Path,
		Name:      n.Name,
		Aliases:   nonNilSlice(n.Aliases),
		Facts:     facts,
		Backlinks: nonNilSlice(n.Backlinks),
		Body:      n.Body,
		Version:   n.Version,
	}, nil
}

// About returns the grounded summary of an entity.
func (s *Service) About(ctx context.Context, id string) (*query.GroundedResponse, error) {
	if !validID(id) {
		return nil, apperr.Wrapf(apperr.ErrNotFound, "entity %q", id)
	}
	return s.eng.Query.About(ctx, id)
}

// Backlinks returns the edges recorded on an entity note.
func (s *Service) Backlinks(ctx context.Context, id string) ([]models.Backlink, error) {
	d, err := s.GetEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.Backlinks, nil
}

// ListEntities returns indexed entities ordered by name.
func (s *Service) ListEntities(_ context.Context, limit, offset int) ([]index.EntityRow, int, error) {
	rows, total, err := s.eng.Index.Entities(clampLimit(limit), max(offset, 0))
	if err != nil {
		return nil, 0, err
	}
	return nonNilSlice(rows), total, nil
}

// Search runs full-text search and, when configured, semantic search.
// Full-text hits come first; semantic hits add entities the full-text
// index missed.
func (s *Service) Search(ctx context.Context, q string, limit int) ([]SearchHit, error) {
	limit = clampLimit(limit)
	rows, err := s.eng.Index.Search(q, limit)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(rows))
	out := make([]SearchHit, 0, len(rows))
	for _, r := range rows {
		seen[r.ID] = true
		out = append(out, SearchHit{ID: r.ID, Name: r.Name, Snippet: r.Snippet, Score: r.Score, Source: SourceFullText})
	}
	if s.eng.Semantic == nil || len(out) >= limit {
		return out, nil
	}
	hits, err := s.eng.Semantic.Query(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		if seen[h.ID] || len(out) >= limit {
			continue
		}
		seen[h.ID] = true
		out = append(out, SearchHit{ID: h.ID, Name: h.Name, Snippet: h.Snippet, Score: h.Score, Source: SourceSemantic})
	}
	return out, nil
}

// Graph returns all entities and backlink edges.
func (s *Service) Graph(_ context.Context) ([]index.GraphNode, []index.GraphLink, error) {
	return s.eng.Index.Graph()
}

// Repair rebuilds backlinks from facts across the vault.
func (s *Service) Repair(ctx context.Context) (linkgraph.RepairReport, error) {
	return s.eng.Links.Repair(ctx)
}

// validID rejects anything that is not a bare note name.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && !strings.HasPrefix(id, ".")
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return min(limit, maxLimit)
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
