package postgres

import (
	"Marginalia/internal/core/pagination"
	"Marginalia/internal/core/posts"
	"Marginalia/internal/core/quotes"
	"Marginalia/internal/core/replies"
	"Marginalia/internal/db/migrations"
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TEST_DATABASE_URL, migrates and truncates.
// Tests are skipped when no database is configured.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping postgres integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	require.NoError(t, err)
	if err := db.Ping(); err != nil {
		t.Skipf("test database unreachable: %v", err)
	}

	goose.SetBaseFS(migrations.FS)
	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, "."))

	_, err = db.Exec(`TRUNCATE quote_counts, replies, posts`)
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newID(t *testing.T) string {
	id, err := uuid.NewV7()
	require.NoError(t, err)
	return id.String()
}

func seedPost(t *testing.T, db *sql.DB) *posts.Post {
	post := &posts.Post{ID: newID(t), Content: "The quick brown fox jumps over the lazy dog.", AuthorID: "alice", CreatedAt: time.Now().UTC().Truncate(time.Millisecond)}
	require.NoError(t, NewPostRepository(db).Create(context.Background(), post))
	return post
}

func newReply(t *testing.T, parentID string, parentType replies.ParentType, rootID string, q quotes.Quote, at time.Time) *replies.Reply {
	key, err := quotes.DeriveKey(q)
	require.NoError(t, err)
	return &replies.Reply{
		ID: newID(t), Text: "a reply long enough to pass", ParentID: parentID, ParentType: parentType,
		RootPostID: rootID, Quote: q, QuoteKey: key, AuthorID: "bob", CreatedAt: at,
	}
}

func TestReplyRepo_CreateAndPage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	post := seedPost(t, db)
	repo := NewReplyRepository(db)
	countRepo := NewQuoteCountRepository(db)

	q := quotes.Quote{Text: "quick brown fox", SourceID: post.ID, SelectionRange: &quotes.Range{Start: 4, End: 19}}
	base := time.UnixMilli(1_700_000_000_000).UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Create(ctx, newReply(t, post.ID, replies.ParentPost, post.ID, q, base.Add(time.Duration(i/2)*time.Millisecond))))
	}

	stored, err := NewPostRepository(db).GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.ReplyCount)

	counts, err := countRepo.ListByParent(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, int64(5), counts[0].Count)
	assert.True(t, counts[0].Quote.Equal(q))

	key, _ := quotes.DeriveKey(q)
	var after *pagination.Cursor
	seen := map[string]bool{}
	for {
		rows, total, err := repo.ListByQuote(ctx, post.ID, key, after, 2)
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		if len(rows) == 0 {
			break
		}
		for _, r := range rows {
			assert.False(t, seen[r.ID])
			seen[r.ID] = true
		}
		last := rows[len(rows)-1].Position()
		after = &pagination.Cursor{ID: last.ID, Timestamp: last.Score, Kind: pagination.KindMostRecent}
	}
	assert.Len(t, seen, 5)
}

func TestReplyRepo_ResolveParent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	post := seedPost(t, db)
	repo := NewReplyRepository(db)

	ref, err := repo.ResolveParent(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, replies.ParentPost, ref.Type)

	q := quotes.Quote{Text: "fox", SourceID: post.ID, SelectionRange: &quotes.Range{Start: 16, End: 19}}
	reply := newReply(t, post.ID, replies.ParentPost, post.ID, q, time.Now().UTC().Truncate(time.Millisecond))
	require.NoError(t, repo.Create(ctx, reply))

	ref, err = repo.ResolveParent(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, replies.ParentReply, ref.Type)
	assert.Equal(t, post.ID, ref.RootPostID)

	_, err = repo.ResolveParent(ctx, "missing")
	assert.ErrorIs(t, err, replies.ErrParentNotFound)
}

func TestReplyRepo_CreateRollsBackOnMissingRoot(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewReplyRepository(db)

	// replies.root_post_id references posts, so the insert itself fails
	q := quotes.Quote{Text: "x", SourceID: "ghost", SelectionRange: &quotes.Range{Start: 0, End: 1}}
	err := repo.Create(ctx, newReply(t, "ghost", replies.ParentPost, "ghost", q, time.Now().UTC()))
	require.Error(t, err)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM quote_counts`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestQuoteCountRepo_ConcurrentIncrements(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewQuoteCountRepository(db)

	q := quotes.Quote{Text: "lazy dog", SourceID: "post-x", SelectionRange: &quotes.Range{Start: 35, End: 43}}
	key, _ := quotes.DeriveKey(q)

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Increment(ctx, "post-x", key, q)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	c, err := repo.Get(ctx, "post-x", key)
	require.NoError(t, err)
	assert.Equal(t, int64(writers), c.Count, fmt.Sprintf("lost increments: %d", writers-int(c.Count)))

	_, err = repo.Get(ctx, "post-x", "0000")
	assert.ErrorIs(t, err, quotes.ErrCountNotFound)
}

func TestRebuildCounts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	post := seedPost(t, db)
	repo := NewReplyRepository(db)

	q := quotes.Quote{Text: "lazy dog", SourceID: post.ID, SelectionRange: &quotes.Range{Start: 35, End: 43}}
	grouped := newReply(t, post.ID, replies.ParentPost, post.ID, q, time.Now().UTC().Truncate(time.Millisecond))
	group := "group-1"
	grouped.DuplicateGroupID = &group
	require.NoError(t, repo.Create(ctx, grouped))
	require.NoError(t, repo.Create(ctx, newReply(t, post.ID, replies.ParentPost, post.ID, q, time.Now().UTC().Truncate(time.Millisecond))))

	// simulate drift
	_, err := db.Exec(`UPDATE quote_counts SET count = 40, indexed_count = 7`)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE posts SET reply_count = 9 WHERE id = $1`, post.ID)
	require.NoError(t, err)

	stats, err := RebuildCounts(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.QuoteEntries)
	assert.Equal(t, int64(1), stats.PostsCorrected)

	key, _ := quotes.DeriveKey(q)
	count, err := NewQuoteCountRepository(db).Get(ctx, post.ID, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count.Count)
	assert.Equal(t, int64(1), count.Indexed)

	stored, err := NewPostRepository(db).GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ReplyCount)
}
