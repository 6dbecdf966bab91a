package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/vaultkeeper/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *noteservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Conversation.
	r.Post("/utterances", h.Utterance)
	r.Post("/remember", h.Remember)
	r.Post("/ask", h.Ask)

	// Entities.
	r.Get("/entities", h.ListEntities)
	r.Get("/entities/{id}", h.GetEntity)
	r.Get("/entities/{id}/about", h.About)
	r.Get("/entities/{id}/backlinks", h.Backlinks)

	// Search and graph.
	r.Get("/search", h.Search)
	r.Get("/graph", h.Graph)

	// Maintenance.
	r.Post("/repair", h.Repair)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
