package routes

import (
	"Marginalia/internal/api/middleware"

	"github.com/go-chi/chi/v5"
)

// RegisterClientLimits installs the per-client rate limit. The caller is
// identified from an optional bearer token first, so authenticated clients
// are limited per author and anonymous ones per IP. Must run before any
// route is registered.
func RegisterClientLimits(r chi.Router, authMiddleware middleware.AuthMiddleware, limiter *middleware.RateLimiter) {
	r.Use(authMiddleware.OptionalAuth)
	r.Use(limiter.Middleware)
}
