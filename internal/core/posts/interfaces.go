package posts

import "context"

// Service defines the business logic interface for posts
type Service interface {
	// CreatePost validates and stores a new root post
	CreatePost(ctx context.Context, req CreatePostRequest) (*Post, error)

	// GetPost retrieves a post by id, including its current reply count
	GetPost(ctx context.Context, id string) (*Post, error)
}

// Repository defines the data access interface for posts
type Repository interface {
	// Create inserts a new post
	Create(ctx context.Context, post *Post) error

	// GetByID retrieves a post by id
	// Returns ErrNotFound if the post does not exist
	GetByID(ctx context.Context, id string) (*Post, error)
}

// Notifier receives post-commit notifications.
// Implementations must not block; failures are theirs to handle.
type Notifier interface {
	PostCreated(ctx context.Context, post *Post)
}
