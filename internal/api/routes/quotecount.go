package routes

import (
	"Marginalia/internal/api/handlers/quotecount"
	"Marginalia/internal/core/quotes"

	"github.com/go-chi/chi/v5"
)

// RegisterQuoteCountRoutes registers the quote aggregate endpoint
func RegisterQuoteCountRoutes(r chi.Router, service quotes.Service) {
	r.Get("/quoteCounts/{parentId}", quotecount.NewGetHandler(service).HandleGet)
}
