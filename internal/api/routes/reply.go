package routes

import (
	"Marginalia/internal/api/handlers/reply"
	"Marginalia/internal/api/middleware"
	"Marginalia/internal/core/replies"

	"github.com/go-chi/chi/v5"
)

// RegisterReplyRoutes registers reply endpoints on the router
// Only creation requires authentication; every read is public
func RegisterReplyRoutes(r chi.Router, service replies.Service, authMiddleware middleware.AuthMiddleware) {
	createHandler := reply.NewCreateHandler(service)
	getHandler := reply.NewGetHandler(service)
	listHandler := reply.NewListHandler(service)
	authorHandler := reply.NewAuthorHandler(service)

	r.With(authMiddleware.RequireAuth).Post("/replies", createHandler.HandleCreate)

	r.Get("/replies/{id}", getHandler.HandleGet)
	r.Get("/replies/{parentId}/{quoteEncoded}/{sortCriteria}", listHandler.HandleList)
	r.Get("/users/{authorId}/replies", authorHandler.HandleList)
}
