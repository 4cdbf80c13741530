package postgres

import (
	"Marginalia/internal/core/quotes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// incrementQuoteCountQuery adds one to a parent's quote entry, creating it on
// first use. The add happens in the UPDATE itself so concurrent writers never
// lose increments. $7 is 1 when the reply owns a parent+quote index entry.
const incrementQuoteCountQuery = `
	INSERT INTO quote_counts (
		parent_id, quote_key, quote_text, quote_source_id, quote_start, quote_end,
		count, indexed_count, first_seen_at
	) VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
	ON CONFLICT (parent_id, quote_key) DO UPDATE
	SET count = quote_counts.count + 1,
	    indexed_count = quote_counts.indexed_count + EXCLUDED.indexed_count
`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func incrementQuoteCount(ctx context.Context, db execer, parentID string, key quotes.Key, q quotes.Quote, indexed bool, at time.Time) error {
	if q.SelectionRange == nil {
		return quotes.NewValidationError("selectionRange", "quote selection range is required")
	}
	indexedDelta := 0
	if indexed {
		indexedDelta = 1
	}
	_, err := db.ExecContext(ctx, incrementQuoteCountQuery,
		parentID, string(key), q.Text, q.SourceID, q.SelectionRange.Start, q.SelectionRange.End,
		indexedDelta, at,
	)
	if err != nil {
		return fmt.Errorf("failed to increment quote count: %w", err)
	}
	return nil
}

type postgresQuoteCountRepo struct {
	db *sql.DB
}

// NewQuoteCountRepository creates a new PostgreSQL quote aggregate repository
func NewQuoteCountRepository(db *sql.DB) quotes.Repository {
	return &postgresQuoteCountRepo{db: db}
}

// ListByParent returns the aggregate for one parent, most replied quote first
func (r *postgresQuoteCountRepo) ListByParent(ctx context.Context, parentID string) ([]quotes.Count, error) {
	query := `
		SELECT quote_key, quote_text, quote_source_id, quote_start, quote_end,
		       count, indexed_count, first_seen_at
		FROM quote_counts
		WHERE parent_id = $1 AND count > 0
		ORDER BY count DESC, first_seen_at ASC, quote_key ASC
	`

	rows, err := r.db.QueryContext(ctx, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query quote counts: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("Failed to close rows: %v", closeErr)
		}
	}()

	result := []quotes.Count{}
	for rows.Next() {
		c, err := scanQuoteCount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quote counts: %w", err)
	}

	return result, nil
}

// Get returns the aggregate entry of a single quote
func (r *postgresQuoteCountRepo) Get(ctx context.Context, parentID string, key quotes.Key) (*quotes.Count, error) {
	query := `
		SELECT quote_key, quote_text, quote_source_id, quote_start, quote_end,
		       count, indexed_count, first_seen_at
		FROM quote_counts
		WHERE parent_id = $1 AND quote_key = $2
	`

	c, err := scanQuoteCount(r.db.QueryRowContext(ctx, query, parentID, string(key)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, quotes.ErrCountNotFound
	}
	return c, err
}

// Increment adds a standalone reply to a quote's count
func (r *postgresQuoteCountRepo) Increment(ctx context.Context, parentID string, key quotes.Key, q quotes.Quote) error {
	return incrementQuoteCount(ctx, r.db, parentID, key, q, true, time.Now().UTC())
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuoteCount(row rowScanner) (*quotes.Count, error) {
	var (
		c     quotes.Count
		key   string
		start int
		end   int
	)
	err := row.Scan(&key, &c.Quote.Text, &c.Quote.SourceID, &start, &end, &c.Count, &c.Indexed, &c.FirstSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan quote count: %w", err)
	}
	c.Key = quotes.Key(key)
	c.Quote.SelectionRange = &quotes.Range{Start: start, End: end}
	return &c, nil
}
