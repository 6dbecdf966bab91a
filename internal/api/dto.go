package api

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/vaultkeeper/internal/index"
	"github.com/starford/vaultkeeper/internal/noteservice"
	"github.com/starford/vaultkeeper/internal/router"
)

const maxUtteranceLen = 4000

// UtteranceRequest is the request body for the conversation endpoints.
type UtteranceRequest struct {
	Text string `json:"text" example:"remember that I like cookies" validate:"required"`
}

// Validate validates the request.
func (r UtteranceRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Text, validation.Required, validation.Length(1, maxUtteranceLen)),
	)
}

// UtteranceResponse is the routed outcome of one utterance.
type UtteranceResponse = router.Response

// EntityDetail is the full entity response type (aliased from the domain layer).
type EntityDetail = noteservice.EntityDetail

// EntityListResponse wraps paginated entity listings.
type EntityListResponse struct {
	Entities []index.EntityRow `json:"entities" validate:"required"`
	Total    int               `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []noteservice.SearchHit `json:"results" validate:"required"`
}

// GraphResponse wraps the entity graph.
type GraphResponse struct {
	Nodes []index.GraphNode `json:"nodes" validate:"required"`
	Links []index.GraphLink `json:"links" validate:"required"`
}
