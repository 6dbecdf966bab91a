package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/vaultkeeper/internal/noteservice"
	"github.com/starford/vaultkeeper/internal/router"
)

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

// decodeUtterance reads and validates an UtteranceRequest. It writes the
// error response itself and reports whether the handler should continue.
func decodeUtterance(w http.ResponseWriter, r *http.Request) (UtteranceRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req UtteranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return req, false
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return req, false
	}
	return req, true
}

func (h *Handler) converse(w http.ResponseWriter, r *http.Request, op string, run func(context.Context, string) (*router.Response, error)) {
	req, ok := decodeUtterance(w, r)
	if !ok {
		return
	}
	resp, err := run(r.Context(), req.Text)
	if err != nil {
		writeError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// Utterance handles POST /api/utterances.
//
//	@Summary		Route a natural-language utterance
//	@Tags			conversation
//	@Accept			json
//	@Produce		json
//	@Param			body	body		UtteranceRequest	true	"Utterance"
//	@Success		200		{object}	UtteranceResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/utterances [post]
func (h *Handler) Utterance(w http.ResponseWriter, r *http.Request) {
	h.converse(w, r, "utterance", h.svc.Handle)
}

// Remember handles POST /api/remember.
//
//	@Summary		Record facts without classification
//	@Tags			conversation
//	@Accept			json
//	@Produce		json
//	@Param			body	body		UtteranceRequest	true	"Statement"
//	@Success		200		{object}	UtteranceResponse
//	@Security		BearerAuth
//	@Router			/remember [post]
func (h *Handler) Remember(w http.ResponseWriter, r *http.Request) {
	h.converse(w, r, "remember", h.svc.Remember)
}

// Ask handles POST /api/ask.
//
//	@Summary		Answer a question from the vault
//	@Tags			conversation
//	@Accept			json
//	@Produce		json
//	@Param			body	body		UtteranceRequest	true	"Question"
//	@Success		200		{object}	UtteranceResponse
//	@Security		BearerAuth
//	@Router			/ask [post]
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	h.converse(w, r, "ask", h.svc.Ask)
}

// ListEntities handles GET /api/entities.
//
//	@Summary		List entities with optional pagination
//	@Tags			entities
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Success		200		{object}	EntityListResponse
//	@Security		BearerAuth
//	@Router			/entities [get]
func (h *Handler) ListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	rows, total, err := h.svc.ListEntities(r.Context(), limit, offset)
	if err != nil {
		writeError(w, "list entities", err)
		return
	}
	writeJSON(w, http.StatusOK, EntityListResponse{Entities: rows, Total: total})
}

// GetEntity handles GET /api/entities/{id}.
//
//	@Summary		Get a single entity note
//	@Tags			entities
//	@Produce		json
//	@Param			id	path		string	true	"Entity id"
//	@Success		200	{object}	EntityDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{id} [get]
func (h *Handler) GetEntity(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetEntity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get entity", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// About handles GET /api/entities/{id}/about.
//
//	@Summary		Grounded summary of an entity
//	@Tags			entities
//	@Produce		json
//	@Param			id	path		string	true	"Entity id"
//	@Success		200	{object}	query.GroundedResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entities/{id}/about [get]
func (h *Handler) About(w http.ResponseWriter, r *http.Request) {
	g, err := h.svc.About(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "about", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entity":     g.Entity,
		"statements": g.Statements,
		"text":       g.Text(),
	})
}

// Backlinks handles GET /api/entities/{id}/backlinks.
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	bl, err := h.svc.Backlinks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "backlinks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backlinks": bl})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text and semantic search across entities
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Graph handles GET /api/graph.
//
//	@Summary		Get the entity graph
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	GraphResponse
//	@Security		BearerAuth
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	nodes, links, err := h.svc.Graph(r.Context())
	if err != nil {
		writeError(w, "graph", err)
		return
	}
	writeJSON(w, http.StatusOK, GraphResponse{Nodes: nodes, Links: links})
}

// Repair handles POST /api/repair.
func (h *Handler) Repair(w http.ResponseWriter, r *http.Request) {
	rep, err := h.svc.Repair(r.Context())
	if err != nil {
		writeError(w, "repair", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
