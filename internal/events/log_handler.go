package events

import (
	"context"
	"log/slog"
)

// LogHandler records every event. It stands in for the embedding indexer
// when none is configured.
type LogHandler struct {
	Logger *slog.Logger
}

func (h LogHandler) Name() string { return "log" }

func (h LogHandler) Handle(ctx context.Context, ev Event) error {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("creation event", "type", ev.Type, "id", ev.ID, "root_post_id", ev.RootPostID, "text_len", len(ev.Text))
	return nil
}
