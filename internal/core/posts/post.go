package posts

import (
	"time"
)

// Post is the root of a discussion tree
type Post struct {
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	ID         string    `json:"id" db:"id"`
	Content    string    `json:"content" db:"content"`
	AuthorID   string    `json:"authorId" db:"author_id"`
	ReplyCount int       `json:"replyCount" db:"reply_count"`
}

// CreatePostRequest represents input for creating a new post
type CreatePostRequest struct {
	Content  string `json:"content"`
	AuthorID string `json:"-"`
}

// CreatePostResponse represents the response from creating a post
type CreatePostResponse struct {
	ID string `json:"id"`
}
