package reply

import (
	"Marginalia/internal/api/handlers"
	"Marginalia/internal/api/middleware"
	"Marginalia/internal/core/replies"
	"encoding/json"
	"net/http"
)

// CreateHandler handles reply creation
type CreateHandler struct {
	service replies.Service
}

// NewCreateHandler creates a new reply creation handler
func NewCreateHandler(service replies.Service) *CreateHandler {
	return &CreateHandler{service: service}
}

// HandleCreate handles POST /replies
// Body: {text, parentId, quote}; answers 201 {id}
func (h *CreateHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 64*1024)

	var req replies.CreateReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if handlers.IsBodyTooLarge(err) {
			handlers.WriteError(w, http.StatusRequestEntityTooLarge, "RequestTooLarge",
				"Request body too large (max 64KB)")
			return
		}
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}

	authorID := middleware.GetAuthorID(r)
	if authorID == "" {
		handlers.WriteError(w, http.StatusUnauthorized, "AuthRequired", "Authentication required")
		return
	}
	req.AuthorID = authorID

	resp, err := h.service.CreateReply(r.Context(), req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusCreated, resp)
}
