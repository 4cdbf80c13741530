package reply

import (
	"Marginalia/internal/api/handlers"
	"Marginalia/internal/core/replies"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// GetHandler serves single replies
type GetHandler struct {
	service replies.Service
}

// NewGetHandler creates a new get handler
func NewGetHandler(service replies.Service) *GetHandler {
	return &GetHandler{service: service}
}

// HandleGet handles GET /replies/{id}
func (h *GetHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	reply, err := h.service.GetReply(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, reply)
}
