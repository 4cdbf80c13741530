// Package events carries post-commit notifications for new posts and
// replies over NATS JetStream, for the embedding indexer and the
// duplicate detector to consume.
package events

import (
	"time"
)

// Event types
const (
	TypePost  = "post"
	TypeReply = "reply"
)

const (
	// StreamName is the JetStream stream holding creation events
	StreamName = "MARGINALIA_CREATED"

	subjectPrefix = "marginalia.created."
)

// Event announces a committed post or reply
type Event struct {
	CreatedAt  time.Time `json:"createdAt"`
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Text       string    `json:"text"`
	ParentID   string    `json:"parentId,omitempty"`
	RootPostID string    `json:"rootPostId,omitempty"`
	AuthorID   string    `json:"authorId"`
}

// Subject returns the subject an event is published on
func (e Event) Subject() string {
	return subjectPrefix + e.Type
}
