// Package quotecount serves the quote aggregate of a post or reply
package quotecount

import (
	"Marginalia/internal/api/handlers"
	"Marginalia/internal/core/quotes"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// CountsResponse is the body of GET /quoteCounts/{parentId}
type CountsResponse struct {
	Data []quotes.Count `json:"data"`
}

// GetHandler serves quote counts
type GetHandler struct {
	service quotes.Service
}

// NewGetHandler creates a new quote count handler
func NewGetHandler(service quotes.Service) *GetHandler {
	return &GetHandler{service: service}
}

// HandleGet handles GET /quoteCounts/{parentId}
// Entries are ordered by count, most replied first
func (h *GetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	counts, err := h.service.GetCounts(r.Context(), chi.URLParam(r, "parentId"))
	if err != nil {
		if quotes.IsValidationError(err) {
			handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
			return
		}
		log.Printf("Failed to load quote counts: %v", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError",
			"An internal error occurred")
		return
	}
	handlers.WriteJSON(w, http.StatusOK, CountsResponse{Data: counts})
}
