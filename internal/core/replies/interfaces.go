package replies

import (
	"Marginalia/internal/core/pagination"
	"Marginalia/internal/core/quotes"
	"context"
)

// Service defines the business logic interface for replies
type Service interface {
	// CreateReply validates, resolves the parent and persists a reply with all
	// of its index writes as one unit. Returns the new reply id.
	CreateReply(ctx context.Context, req CreateReplyRequest) (*CreateReplyResponse, error)

	// GetReply retrieves a single reply
	GetReply(ctx context.Context, id string) (*Reply, error)

	// Page returns one page of the replies attached to a quote of a parent
	Page(ctx context.Context, req PageRequest) (*Page, error)

	// ListByAuthor returns one page of an author's replies, newest first
	ListByAuthor(ctx context.Context, req AuthorPageRequest) (*Page, error)
}

// Repository defines the data access interface for replies
type Repository interface {
	// ResolveParent looks up id as a post, then as a reply
	// Returns ErrParentNotFound if it is neither
	ResolveParent(ctx context.Context, id string) (*ParentRef, error)

	// Create stores the reply and every derived write: parent+quote index
	// (unless DuplicateGroupID is set), recency feed, quote aggregate
	// increment, author index, root membership and the root post's reply
	// count. Either all of them become visible or none do.
	Create(ctx context.Context, reply *Reply) error

	// GetByID retrieves a reply
	// Returns ErrReplyNotFound if it does not exist
	GetByID(ctx context.Context, id string) (*Reply, error)

	// ListByQuote returns up to limit replies of the parent+quote index that
	// sort strictly after the cursor, newest first, plus the index size
	ListByQuote(ctx context.Context, parentID string, key quotes.Key, after *pagination.Cursor, limit int) ([]*Reply, int, error)

	// ListByAuthor returns up to limit replies of the author index after the cursor, plus its size
	ListByAuthor(ctx context.Context, authorID string, after *pagination.Cursor, limit int) ([]*Reply, int, error)
}

// DuplicateDecision is the outcome of a duplicate check.
// An empty GroupID keeps the reply as a standalone index entry.
type DuplicateDecision struct {
	GroupID string
}

// DuplicateInterceptor is consulted before a reply's writes commit
type DuplicateInterceptor interface {
	Intercept(ctx context.Context, candidate *Reply) (DuplicateDecision, error)
}

// Notifier receives post-commit notifications.
// Implementations must not block; failures are theirs to handle.
type Notifier interface {
	ReplyCreated(ctx context.Context, reply *Reply)
}
