package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Handler processes one creation event. Returning an error requests redelivery.
type Handler interface {
	Name() string
	Handle(ctx context.Context, ev Event) error
}

// ConsumerConfig tunes delivery
type ConsumerConfig struct {
	Durable        string
	MaxDeliver     int
	InitialBackoff time.Duration
	HandlerTimeout time.Duration
}

// Consumer delivers creation events to handlers at least once
type Consumer struct {
	js       jetstream.JetStream
	handlers []Handler
	cfg      ConsumerConfig
}

// NewConsumer creates a consumer on an open NATS connection
func NewConsumer(nc *nats.Conn, cfg ConsumerConfig, handlers ...Handler) (*Consumer, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	return NewConsumerFromJS(js, cfg, handlers...), nil
}

// NewConsumerFromJS creates a consumer on an existing JetStream context
func NewConsumerFromJS(js jetstream.JetStream, cfg ConsumerConfig, handlers ...Handler) *Consumer {
	if cfg.Durable == "" {
		cfg.Durable = "marginalia-indexer"
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = 5
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	return &Consumer{js: js, handlers: handlers, cfg: cfg}
}

// Start consumes until ctx is cancelled
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       c.cfg.Durable,
		AckPolicy:     jetstream.AckExplicitPolicy,
		FilterSubject: subjectPrefix + ">",
		MaxDeliver:    c.cfg.MaxDeliver,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		c.handleMsg(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}
	defer cc.Stop()

	log.Printf("[EVENTS] Consumer %s started with %d handlers", c.cfg.Durable, len(c.handlers))
	<-ctx.Done()
	log.Printf("[EVENTS] Stopping consumer %s", c.cfg.Durable)
	return nil
}

func (c *Consumer) handleMsg(ctx context.Context, msg jetstream.Msg) {
	var ev Event
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		log.Printf("[EVENTS] Invalid payload, terminating: %v", err)
		_ = msg.Term()
		return
	}

	if err := c.process(ctx, ev); err != nil {
		md, metaErr := msg.Metadata()
		if metaErr != nil {
			log.Printf("[EVENTS] Failed to get message metadata: %v", metaErr)
			_ = msg.Nak()
			return
		}

		attempt := int(md.NumDelivered)
		if attempt >= c.cfg.MaxDeliver {
			log.Printf("[EVENTS] Giving up on %s %s after %d attempts: %v", ev.Type, ev.ID, attempt, err)
			_ = msg.Term()
			return
		}

		backoff := c.cfg.InitialBackoff * (1 << (attempt - 1))
		log.Printf("[EVENTS] Retrying %s %s in %v (attempt %d/%d): %v", ev.Type, ev.ID, backoff, attempt+1, c.cfg.MaxDeliver, err)
		_ = msg.NakWithDelay(backoff)
		return
	}

	_ = msg.Ack()
}

// process runs every handler; a redelivery re-runs all of them, so handlers must be idempotent
func (c *Consumer) process(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.HandlerTimeout)
	defer cancel()

	for _, h := range c.handlers {
		if err := h.Handle(ctx, ev); err != nil {
			return fmt.Errorf("handler %s: %w", h.Name(), err)
		}
	}
	return nil
}
