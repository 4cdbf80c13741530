package quotes

import "context"

// Service exposes the per-parent quote aggregate
type Service interface {
	// GetCounts returns every quote of parentID that has replies.
	// Returns an empty slice (not an error) when the parent has none.
	GetCounts(ctx context.Context, parentID string) ([]Count, error)

	// Increment adds one to the count of quote under parentID, creating the entry on first use.
	// Reply creation does not call this; the reply repositories bump the aggregate in the same
	// transaction or batch as the reply itself.
	Increment(ctx context.Context, parentID string, quote Quote) error
}

// Repository defines the data access interface for quote aggregates
type Repository interface {
	// ListByParent returns all entries for parentID ordered as SortCounts does
	ListByParent(ctx context.Context, parentID string) ([]Count, error)

	// Get returns a single entry
	// Returns ErrCountNotFound if the quote has never been replied to
	Get(ctx context.Context, parentID string, key Key) (*Count, error)

	// Increment atomically adds one to the entry's count and indexed count.
	// Concurrent increments must never be lost.
	Increment(ctx context.Context, parentID string, key Key, quote Quote) error
}
