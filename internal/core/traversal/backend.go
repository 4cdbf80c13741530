package traversal

import (
	"Marginalia/internal/core/posts"
	"Marginalia/internal/core/quotes"
	"Marginalia/internal/core/replies"
	"context"
	"errors"
)

// ErrServiceNotReady is returned by a Backend when the service is up but
// cannot answer yet. The engine retries these a bounded number of times.
var ErrServiceNotReady = errors.New("service not ready")

// Backend is the engine's view of the reply service
type Backend interface {
	GetPost(ctx context.Context, id string) (*posts.Post, error)
	GetQuoteCounts(ctx context.Context, nodeID string) ([]quotes.Count, error)
	ListReplies(ctx context.Context, parentID string, quote quotes.Quote, cursor string, limit int) (*replies.Page, error)
	// CreateReply posts a reply as the backend's authenticated author
	CreateReply(ctx context.Context, parentID string, quote quotes.Quote, text string) (string, error)
}

// ServiceBackend runs the engine against in-process services
type ServiceBackend struct {
	Posts    posts.Service
	Quotes   quotes.Service
	Replies  replies.Service
	AuthorID string
}

func (b *ServiceBackend) GetPost(ctx context.Context, id string) (*posts.Post, error) {
	return b.Posts.GetPost(ctx, id)
}

func (b *ServiceBackend) GetQuoteCounts(ctx context.Context, nodeID string) ([]quotes.Count, error) {
	return b.Quotes.GetCounts(ctx, nodeID)
}

func (b *ServiceBackend) ListReplies(ctx context.Context, parentID string, quote quotes.Quote, cursor string, limit int) (*replies.Page, error) {
	key, err := quotes.DeriveKey(quote)
	if err != nil {
		return nil, err
	}
	return b.Replies.Page(ctx, replies.PageRequest{
		ParentID: parentID,
		QuoteKey: key,
		Sort:     replies.SortMostRecent,
		Cursor:   cursor,
		Limit:    limit,
	})
}

func (b *ServiceBackend) CreateReply(ctx context.Context, parentID string, quote quotes.Quote, text string) (string, error) {
	resp, err := b.Replies.CreateReply(ctx, replies.CreateReplyRequest{
		Text:     text,
		ParentID: parentID,
		Quote:    quote,
		AuthorID: b.AuthorID,
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}
