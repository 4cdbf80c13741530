package replies

import (
	"Marginalia/internal/core/pagination"
	"Marginalia/internal/core/quotes"
	"time"
)

// ParentType tells whether a reply answers a post or another reply
type ParentType string

const (
	ParentPost  ParentType = "post"
	ParentReply ParentType = "reply"
)

// SortCriteria names an ordering of the parent+quote index
type SortCriteria string

// SortMostRecent orders replies newest first
const SortMostRecent SortCriteria = "mostRecent"

// ParseSort validates a sort criteria path segment
func ParseSort(s string) (SortCriteria, error) {
	switch SortCriteria(s) {
	case SortMostRecent:
		return SortMostRecent, nil
	default:
		return "", NewValidationError("sortCriteria", "unsupported sort criteria: "+s)
	}
}

// Reply is an immutable response anchored to a quote of its parent.
// RootPostID is resolved once at creation and never changes.
type Reply struct {
	CreatedAt        time.Time    `json:"createdAt" db:"created_at"`
	DuplicateGroupID *string      `json:"duplicateGroupId,omitempty" db:"duplicate_group_id"`
	Quote            quotes.Quote `json:"quote"`
	ID               string       `json:"id" db:"id"`
	Text             string       `json:"text" db:"text"`
	ParentID         string       `json:"parentId" db:"parent_id"`
	ParentType       ParentType   `json:"parentType" db:"parent_type"`
	RootPostID       string       `json:"rootPostId" db:"root_post_id"`
	QuoteKey         quotes.Key   `json:"quoteKey" db:"quote_key"`
	AuthorID         string       `json:"authorId" db:"author_id"`
}

// Position returns the reply's place in recency-ordered indexes
func (r *Reply) Position() pagination.Position {
	return pagination.Position{ID: r.ID, Score: r.CreatedAt.UnixMilli()}
}

// ParentRef is the resolved parent of a new reply
type ParentRef struct {
	Type       ParentType
	RootPostID string
}

// CreateReplyRequest represents input for creating a reply
type CreateReplyRequest struct {
	Quote    quotes.Quote `json:"quote"`
	Text     string       `json:"text"`
	ParentID string       `json:"parentId"`
	AuthorID string       `json:"-"`
}

// CreateReplyResponse represents the response from creating a reply
type CreateReplyResponse struct {
	ID string `json:"id"`
}

// PageRequest asks for one page of a parent+quote index
type PageRequest struct {
	Cursor   string
	ParentID string
	QuoteKey quotes.Key
	Sort     SortCriteria
	Limit    int
}

// AuthorPageRequest asks for one page of an author's replies
type AuthorPageRequest struct {
	Cursor   string
	AuthorID string
	Limit    int
}

// Page is a page of replies, newest first
type Page = pagination.Result[*Reply]
