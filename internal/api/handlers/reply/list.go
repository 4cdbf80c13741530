package reply

import (
	"Marginalia/internal/api/handlers"
	"Marginalia/internal/core/quotes"
	"Marginalia/internal/core/replies"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/schema"
)

// PageQuery holds the query parameters of paged endpoints
type PageQuery struct {
	Cursor string `schema:"cursor"`
	Limit  int    `schema:"limit"`
}

// Pagination describes where a page sits in its index
type Pagination struct {
	NextCursor *string `json:"nextCursor,omitempty"`
	HasMore    bool    `json:"hasMore"`
	TotalCount int     `json:"totalCount"`
}

// PageResponse is the body of paged reply listings
type PageResponse struct {
	Data       []*replies.Reply `json:"data"`
	Pagination Pagination       `json:"pagination"`
}

func newPageResponse(page *replies.Page) PageResponse {
	return PageResponse{
		Data: page.Items,
		Pagination: Pagination{
			NextCursor: page.NextCursor,
			HasMore:    page.HasMore,
			TotalCount: page.TotalCount,
		},
	}
}

var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

func decodePageQuery(w http.ResponseWriter, r *http.Request) (PageQuery, bool) {
	var q PageQuery
	if err := queryDecoder.Decode(&q, r.URL.Query()); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "limit must be a valid integer")
		return q, false
	}
	if q.Limit < 0 {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "limit must be positive")
		return q, false
	}
	return q, true
}

// ListHandler serves the replies attached to one quote of a parent
type ListHandler struct {
	service replies.Service
}

// NewListHandler creates a new list handler
func NewListHandler(service replies.Service) *ListHandler {
	return &ListHandler{service: service}
}

// HandleList handles GET /replies/{parentId}/{quoteEncoded}/{sortCriteria}?limit=&cursor=
func (h *ListHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	parentID := chi.URLParam(r, "parentId")

	quote, err := quotes.DecodePath(chi.URLParam(r, "quoteEncoded"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	key, err := quotes.DeriveKey(quote)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	sort, err := replies.ParseSort(chi.URLParam(r, "sortCriteria"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	q, ok := decodePageQuery(w, r)
	if !ok {
		return
	}

	page, err := h.service.Page(r.Context(), replies.PageRequest{
		ParentID: parentID,
		QuoteKey: key,
		Sort:     sort,
		Cursor:   q.Cursor,
		Limit:    q.Limit,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, newPageResponse(page))
}

// AuthorHandler serves an author's replies, newest first
type AuthorHandler struct {
	service replies.Service
}

// NewAuthorHandler creates a new author listing handler
func NewAuthorHandler(service replies.Service) *AuthorHandler {
	return &AuthorHandler{service: service}
}

// HandleList handles GET /users/{authorId}/replies?limit=&cursor=
func (h *AuthorHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q, ok := decodePageQuery(w, r)
	if !ok {
		return
	}

	page, err := h.service.ListByAuthor(r.Context(), replies.AuthorPageRequest{
		AuthorID: chi.URLParam(r, "authorId"),
		Cursor:   q.Cursor,
		Limit:    q.Limit,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, newPageResponse(page))
}
