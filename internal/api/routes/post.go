package routes

import (
	"Marginalia/internal/api/handlers/post"
	"Marginalia/internal/api/middleware"
	"Marginalia/internal/core/posts"

	"github.com/go-chi/chi/v5"
)

// RegisterPostRoutes registers post endpoints on the router
// Creating a post requires authentication
func RegisterPostRoutes(r chi.Router, service posts.Service, authMiddleware middleware.AuthMiddleware) {
	createHandler := post.NewCreateHandler(service)
	getHandler := post.NewGetHandler(service)

	r.With(authMiddleware.RequireAuth).Post("/posts", createHandler.HandleCreate)
	r.Get("/posts/{id}", getHandler.HandleGet)
}
