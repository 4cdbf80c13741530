package postgres

import (
	"Marginalia/internal/core/pagination"
	"Marginalia/internal/core/quotes"
	"Marginalia/internal/core/replies"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

const replyColumns = `
	r.id, r.text, r.parent_id, r.parent_type, r.root_post_id,
	r.quote_text, r.quote_source_id, r.quote_start, r.quote_end, r.quote_key,
	r.author_id, r.created_at, r.duplicate_group_id
`

type postgresReplyRepo struct {
	db *sql.DB
}

// NewReplyRepository creates a new PostgreSQL reply repository
func NewReplyRepository(db *sql.DB) replies.Repository {
	return &postgresReplyRepo{db: db}
}

// ResolveParent checks posts first, then replies
func (r *postgresReplyRepo) ResolveParent(ctx context.Context, id string) (*replies.ParentRef, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM posts WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to look up parent post: %w", err)
	}
	if exists {
		return &replies.ParentRef{Type: replies.ParentPost, RootPostID: id}, nil
	}

	var rootPostID string
	err = r.db.QueryRowContext(ctx, `SELECT root_post_id FROM replies WHERE id = $1`, id).Scan(&rootPostID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, replies.ErrParentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up parent reply: %w", err)
	}
	return &replies.ParentRef{Type: replies.ParentReply, RootPostID: rootPostID}, nil
}

// Create writes the reply and all derived state in one transaction:
// 1. Insert the reply row (covers parent+quote, feed, author and root indexes)
// 2. Upsert-increment the parent's quote aggregate
// 3. Increment the root post's reply count
func (r *postgresReplyRepo) Create(ctx context.Context, reply *replies.Reply) error {
	if reply.Quote.SelectionRange == nil {
		return quotes.NewValidationError("selectionRange", "quote selection range is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
			log.Printf("Failed to rollback transaction: %v", rollbackErr)
		}
	}()

	insertQuery := `
		INSERT INTO replies (
			id, text, parent_id, parent_type, root_post_id,
			quote_text, quote_source_id, quote_start, quote_end, quote_key,
			author_id, created_at, created_ms, duplicate_group_id
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14
		)
	`
	var groupID sql.NullString
	if reply.DuplicateGroupID != nil {
		groupID = sql.NullString{String: *reply.DuplicateGroupID, Valid: true}
	}
	_, err = tx.ExecContext(ctx, insertQuery,
		reply.ID, reply.Text, reply.ParentID, string(reply.ParentType), reply.RootPostID,
		reply.Quote.Text, reply.Quote.SourceID, reply.Quote.SelectionRange.Start, reply.Quote.SelectionRange.End, string(reply.QuoteKey),
		reply.AuthorID, reply.CreatedAt, reply.CreatedAt.UnixMilli(), groupID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reply: %w", err)
	}

	indexed := reply.DuplicateGroupID == nil
	if err := incrementQuoteCount(ctx, tx, reply.ParentID, reply.QuoteKey, reply.Quote, indexed, reply.CreatedAt); err != nil {
		return err
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE posts SET reply_count = reply_count + 1 WHERE id = $1`, reply.RootPostID)
	if err != nil {
		return fmt.Errorf("failed to update root reply count: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rowsAffected == 0 {
		return replies.ErrRootNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetByID retrieves a single reply
func (r *postgresReplyRepo) GetByID(ctx context.Context, id string) (*replies.Reply, error) {
	query := `SELECT ` + replyColumns + ` FROM replies r WHERE r.id = $1`

	reply, err := scanReply(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, replies.ErrReplyNotFound
	}
	return reply, err
}

// ListByQuote pages the parent+quote index, newest first.
// The index size comes from the aggregate's indexed count.
func (r *postgresReplyRepo) ListByQuote(
	ctx context.Context,
	parentID string,
	key quotes.Key,
	after *pagination.Cursor,
	limit int,
) ([]*replies.Reply, int, error) {
	filter, filterArgs := keysetFilter(after, 3)
	args := append([]interface{}{parentID, string(key)}, filterArgs...)
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM replies r
		WHERE r.parent_id = $1 AND r.quote_key = $2 AND r.duplicate_group_id IS NULL
		%s
		ORDER BY r.created_ms DESC, r.id DESC
		LIMIT $%d
	`, replyColumns, filter, len(args))

	result, err := r.queryReplies(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}

	var total int
	err = r.db.QueryRowContext(ctx,
		`SELECT indexed_count FROM quote_counts WHERE parent_id = $1 AND quote_key = $2`,
		parentID, string(key),
	).Scan(&total)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("failed to read index size: %w", err)
	}

	return result, total, nil
}

// ListByAuthor pages one author's replies, newest first
func (r *postgresReplyRepo) ListByAuthor(
	ctx context.Context,
	authorID string,
	after *pagination.Cursor,
	limit int,
) ([]*replies.Reply, int, error) {
	filter, filterArgs := keysetFilter(after, 2)
	args := append([]interface{}{authorID}, filterArgs...)
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT %s
		FROM replies r
		WHERE r.author_id = $1
		%s
		ORDER BY r.created_ms DESC, r.id DESC
		LIMIT $%d
	`, replyColumns, filter, len(args))

	result, err := r.queryReplies(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM replies WHERE author_id = $1`, authorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count author replies: %w", err)
	}
	return result, total, nil
}

func (r *postgresReplyRepo) queryReplies(ctx context.Context, query string, args ...interface{}) ([]*replies.Reply, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query replies: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Printf("Failed to close rows: %v", closeErr)
		}
	}()

	var result []*replies.Reply
	for rows.Next() {
		reply, err := scanReply(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, reply)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating replies: %w", err)
	}
	return result, nil
}

func scanReply(row rowScanner) (*replies.Reply, error) {
	var (
		reply      replies.Reply
		parentType string
		quoteKey   string
		start, end int
		groupID    sql.NullString
		createdAt  time.Time
	)
	err := row.Scan(
		&reply.ID, &reply.Text, &reply.ParentID, &parentType, &reply.RootPostID,
		&reply.Quote.Text, &reply.Quote.SourceID, &start, &end, &quoteKey,
		&reply.AuthorID, &createdAt, &groupID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan reply: %w", err)
	}

	reply.ParentType = replies.ParentType(parentType)
	reply.QuoteKey = quotes.Key(quoteKey)
	reply.Quote.SelectionRange = &quotes.Range{Start: start, End: end}
	reply.CreatedAt = createdAt.UTC()
	if groupID.Valid {
		reply.DuplicateGroupID = &groupID.String
	}
	return &reply, nil
}
