package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// rebuildQuoteCountsQuery recomputes every aggregate entry from the replies
// table. first_seen_at is the oldest reply on the quote.
const rebuildQuoteCountsQuery = `
	INSERT INTO quote_counts (
		parent_id, quote_key, quote_text, quote_source_id, quote_start, quote_end,
		count, indexed_count, first_seen_at
	)
	SELECT
		r.parent_id, r.quote_key,
		(array_agg(r.quote_text ORDER BY r.created_ms, r.id))[1],
		(array_agg(r.quote_source_id ORDER BY r.created_ms, r.id))[1],
		(array_agg(r.quote_start ORDER BY r.created_ms, r.id))[1],
		(array_agg(r.quote_end ORDER BY r.created_ms, r.id))[1],
		COUNT(*),
		COUNT(*) FILTER (WHERE r.duplicate_group_id IS NULL),
		MIN(r.created_at)
	FROM replies r
	GROUP BY r.parent_id, r.quote_key`

const rebuildReplyCountsQuery = `
	UPDATE posts p
	SET reply_count = sub.n
	FROM (
		SELECT p2.id, COUNT(r.id) AS n
		FROM posts p2
		LEFT JOIN replies r ON r.root_post_id = p2.id
		GROUP BY p2.id
	) sub
	WHERE p.id = sub.id AND p.reply_count <> sub.n`

// RebuildStats reports what a rebuild changed
type RebuildStats struct {
	QuoteEntries   int64
	PostsCorrected int64
}

// RebuildCounts recomputes the quote aggregate and every post's reply count
// from the replies table in one transaction.
func RebuildCounts(ctx context.Context, db *sql.DB) (*RebuildStats, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			log.Printf("Failed to rollback transaction: %v", rollbackErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM quote_counts`); err != nil {
		return nil, fmt.Errorf("failed to clear quote counts: %w", err)
	}
	res, err := tx.ExecContext(ctx, rebuildQuoteCountsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild quote counts: %w", err)
	}
	stats := &RebuildStats{}
	if stats.QuoteEntries, err = res.RowsAffected(); err != nil {
		return nil, err
	}

	res, err = tx.ExecContext(ctx, rebuildReplyCountsQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild reply counts: %w", err)
	}
	if stats.PostsCorrected, err = res.RowsAffected(); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit rebuild: %w", err)
	}
	return stats, nil
}
