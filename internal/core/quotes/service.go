package quotes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

type quoteService struct {
	repo   Repository
	logger *slog.Logger
}

// NewQuoteService creates a new quote aggregate service.
// If logger is nil, slog.Default() is used.
func NewQuoteService(repo Repository, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &quoteService{repo: repo, logger: logger}
}

func (s *quoteService) GetCounts(ctx context.Context, parentID string) ([]Count, error) {
	if strings.TrimSpace(parentID) == "" {
		return nil, NewValidationError("parentId", "parent id is required")
	}

	counts, err := s.repo.ListByParent(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load quote counts for %s: %w", parentID, err)
	}
	if counts == nil {
		counts = []Count{}
	}
	return counts, nil
}

func (s *quoteService) Increment(ctx context.Context, parentID string, quote Quote) error {
	if strings.TrimSpace(parentID) == "" {
		return NewValidationError("parentId", "parent id is required")
	}
	key, err := DeriveKey(quote)
	if err != nil {
		return err
	}

	if err := s.repo.Increment(ctx, parentID, key, quote); err != nil {
		return fmt.Errorf("failed to increment quote count: %w", err)
	}
	s.logger.Debug("quote count incremented", "parent_id", parentID, "quote_key", key)
	return nil
}
