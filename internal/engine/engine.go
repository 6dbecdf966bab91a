// Package engine assembles the memory consistency engine: resolver,
// extractor, link graph, remember and query paths behind one router.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starford/vaultkeeper/internal/capability"
	"github.com/starford/vaultkeeper/internal/extractor"
	"github.com/starford/vaultkeeper/internal/index"
	"github.com/starford/vaultkeeper/internal/linkgraph"
	"github.com/starford/vaultkeeper/internal/models"
	"github.com/starford/vaultkeeper/internal/query"
	"github.com/starford/vaultkeeper/internal/remember"
	"github.com/starford/vaultkeeper/internal/resolver"
	"github.com/starford/vaultkeeper/internal/router"
	"github.com/starford/vaultkeeper/internal/search"
	"github.com/starford/vaultkeeper/internal/vault"
)

// Settings are the engine-wide knobs.
type Settings struct {
	SelfEntity     string
	SelfAliases    []string
	FuzzyThreshold float64
	MinConfidence  float64
	Single         []string
	QueryLimit     int
}

// Engine holds the wired components.
type Engine struct {
	Store     *vault.Store
	Index     *index.DB
	Semantic  *search.Index
	Resolver  *resolver.Resolver
	Links     *linkgraph.Maintainer
	Remember  *remember.Service
	Query     *query.Engine
	Router    *router.Router
	SessionID string

	logger *slog.Logger
}

// New wires an Engine. semantic may be nil.
func New(store *vault.Store, db *index.DB, c capability.Capability, semantic *search.Index, s Settings, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	res := resolver.New(store, db, resolver.Options{
		FuzzyThreshold: s.FuzzyThreshold,
		SelfEntity:     s.SelfEntity,
		SelfAliases:    s.SelfAliases,
	}, logger)
	ex := extractor.New(c, extractor.Options{
		SelfEntity:    s.SelfEntity,
		MinConfidence: s.MinConfidence,
	}, logger)
	links := linkgraph.New(store, logger)
	rem := remember.New(ex, res, store, links, remember.Options{Single: s.Single}, logger)

	var sem query.Semantic
	if semantic != nil {
		sem = semantic
	}
	q := query.New(c, res, store, db, sem, query.Options{SelfEntity: s.SelfEntity, Limit: s.QueryLimit}, logger)

	return &Engine{
		Store:     store,
		Index:     db,
		Semantic:  semantic,
		Resolver:  res,
		Links:     links,
		Remember:  rem,
		Query:     q,
		Router:    router.New(c, rem, q, logger),
		SessionID: uuid.NewString(),
		logger:    logger,
	}
}

// Utterance stamps text with a fresh id, the session id and the time.
func (e *Engine) Utterance(text string) models.Utterance {
	return models.Utterance{
		ID:        uuid.NewString(),
		Text:      text,
		SessionID: e.SessionID,
		At:        time.Now().UTC(),
	}
}

// Handle routes one line of user input.
func (e *Engine) Handle(ctx context.Context, text string) (*router.Response, error) {
	u := e.Utterance(text)
	resp, err := e.Router.Route(ctx, u)
	if err != nil {
		e.logger.Error("engine: utterance failed",
			slog.String("utterance", u.ID),
			slog.String("session", u.SessionID),
			slog.String("error", err.Error()))
		return nil, err
	}
	return resp, nil
}
