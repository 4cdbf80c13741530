package events

import (
	"Marginalia/internal/core/posts"
	"Marginalia/internal/core/replies"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var publishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "marginalia_event_publish_failures_total",
	Help: "Creation events that could not be published",
}, []string{"type"})

// Publisher publishes creation events to JetStream.
// It satisfies both posts.Notifier and replies.Notifier.
type Publisher struct {
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewPublisher creates a publisher on an open NATS connection
func NewPublisher(nc *nats.Conn, logger *slog.Logger) (*Publisher, error) {
	if nc == nil {
		return nil, fmt.Errorf("nats connection cannot be nil")
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	return NewPublisherFromJS(js, logger), nil
}

// NewPublisherFromJS creates a publisher on an existing JetStream context
func NewPublisherFromJS(js jetstream.JetStream, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{js: js, logger: logger}
}

// EnsureStream creates or updates the creation event stream
func (p *Publisher) EnsureStream(ctx context.Context) error {
	_, err := p.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{subjectPrefix + ">"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream: %w", err)
	}
	return nil
}

// Publish sends one event
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	// msg id dedupes retried publishes
	_, err = p.js.Publish(ctx, ev.Subject(), data, jetstream.WithMsgID(ev.Type+":"+ev.ID))
	return err
}

// ReplyCreated publishes a reply event, logging failures
func (p *Publisher) ReplyCreated(ctx context.Context, reply *replies.Reply) {
	p.publishLogged(ctx, Event{
		ID:         reply.ID,
		Type:       TypeReply,
		Text:       reply.Text,
		ParentID:   reply.ParentID,
		RootPostID: reply.RootPostID,
		AuthorID:   reply.AuthorID,
		CreatedAt:  reply.CreatedAt,
	})
}

// PostCreated publishes a post event, logging failures
func (p *Publisher) PostCreated(ctx context.Context, post *posts.Post) {
	p.publishLogged(ctx, Event{
		ID:        post.ID,
		Type:      TypePost,
		Text:      post.Content,
		AuthorID:  post.AuthorID,
		CreatedAt: post.CreatedAt,
	})
}

func (p *Publisher) publishLogged(ctx context.Context, ev Event) {
	if err := p.Publish(ctx, ev); err != nil {
		publishFailures.WithLabelValues(ev.Type).Inc()
		p.logger.Error("failed to publish creation event",
			"type", ev.Type, "id", ev.ID, "error", err)
	}
}
