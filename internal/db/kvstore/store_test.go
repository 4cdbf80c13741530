package kvstore

import (
	"Marginalia/internal/core/pagination"
	"Marginalia/internal/core/posts"
	"Marginalia/internal/core/quotes"
	"Marginalia/internal/core/replies"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedPost(t *testing.T, s *Store, id string) {
	t.Helper()
	err := NewPostRepository(s).Create(context.Background(), &posts.Post{
		ID: id, Content: "The quick brown fox jumps over the lazy dog.", AuthorID: "alice",
		CreatedAt: time.UnixMilli(1_600_000_000_000).UTC(),
	})
	require.NoError(t, err)
}

func quoteAt(sourceID, text string, start int) quotes.Quote {
	return quotes.Quote{Text: text, SourceID: sourceID, SelectionRange: &quotes.Range{Start: start, End: start + len(text)}}
}

func makeReply(t *testing.T, parentID, rootID string, q quotes.Quote, ms int64) *replies.Reply {
	t.Helper()
	id, err := uuid.NewV7()
	require.NoError(t, err)
	key, err := quotes.DeriveKey(q)
	require.NoError(t, err)
	parentType := replies.ParentReply
	if parentID == rootID {
		parentType = replies.ParentPost
	}
	return &replies.Reply{
		ID: id.String(), Text: "reply text long enough", ParentID: parentID, ParentType: parentType,
		RootPostID: rootID, Quote: q, QuoteKey: key, AuthorID: "bob",
		CreatedAt: time.UnixMilli(ms).UTC(),
	}
}

func TestPostRepo_CreateGet(t *testing.T) {
	s := newTestStore(t)
	repo := NewPostRepository(s)
	seedPost(t, s, "P")

	post, err := repo.GetByID(context.Background(), "P")
	require.NoError(t, err)
	assert.Equal(t, "alice", post.AuthorID)
	assert.Equal(t, 0, post.ReplyCount)

	err = repo.Create(context.Background(), &posts.Post{ID: "P", Content: "again"})
	assert.Error(t, err)

	_, err = repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, posts.ErrNotFound)
}

// Three replies on one quote, paged two at a time
func TestReplyRepo_PaginationNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPost(t, s, "P")
	repo := NewReplyRepository(s)

	q := quoteAt("P", "quick brown", 4)
	r1 := makeReply(t, "P", "P", q, 1000)
	r2 := makeReply(t, "P", "P", q, 2000)
	r3 := makeReply(t, "P", "P", q, 3000)
	for _, r := range []*replies.Reply{r1, r2, r3} {
		require.NoError(t, repo.Create(ctx, r))
	}

	svc := replies.NewReplyService(repo, replies.DefaultConfig(), nil, nil, nil)
	page, err := svc.Page(ctx, replies.PageRequest{ParentID: "P", QuoteKey: r1.QuoteKey, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, r3.ID, page.Items[0].ID)
	assert.Equal(t, r2.ID, page.Items[1].ID)
	assert.True(t, page.HasMore)
	assert.Equal(t, 3, page.TotalCount)
	require.NotNil(t, page.NextCursor)

	page, err = svc.Page(ctx, replies.PageRequest{ParentID: "P", QuoteKey: r1.QuoteKey, Limit: 2, Cursor: *page.NextCursor})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, r1.ID, page.Items[0].ID)
	assert.False(t, page.HasMore)
	assert.Nil(t, page.NextCursor)

	counts, err := NewQuoteCountRepository(s).ListByParent(ctx, "P")
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, int64(3), counts[0].Count)
	assert.True(t, counts[0].Quote.Equal(q))

	post, err := NewPostRepository(s).GetByID(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 3, post.ReplyCount)
}

func TestReplyRepo_PaginationCompleteWithTies(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPost(t, s, "P")
	repo := NewReplyRepository(s)
	q := quoteAt("P", "lazy dog", 35)

	want := map[string]bool{}
	for i := 0; i < 23; i++ {
		r := makeReply(t, "P", "P", q, int64(5000+i/4))
		require.NoError(t, repo.Create(ctx, r))
		want[r.ID] = true
	}

	key, _ := quotes.DeriveKey(q)
	got := map[string]bool{}
	var after *pagination.Cursor
	var prev *pagination.Position
	for {
		rows, total, err := repo.ListByQuote(ctx, "P", key, after, 5)
		require.NoError(t, err)
		assert.Equal(t, 23, total)
		if len(rows) == 0 {
			break
		}
		for _, r := range rows {
			require.False(t, got[r.ID], "reply %s returned twice", r.ID)
			got[r.ID] = true
			pos := r.Position()
			if prev != nil {
				c := &pagination.Cursor{ID: prev.ID, Timestamp: prev.Score}
				assert.True(t, c.After(pos), "order violated at %s", r.ID)
			}
			prev = &pos
		}
		last := rows[len(rows)-1].Position()
		after = &pagination.Cursor{ID: last.ID, Timestamp: last.Score, Kind: pagination.KindMostRecent}
	}
	assert.Equal(t, want, got)
}

// Two quotes of the same post aggregate separately
func TestReplyRepo_QuoteCountsPerQuote(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPost(t, s, "P")
	repo := NewReplyRepository(s)

	q1 := quoteAt("P", "quick", 4)
	q2 := quoteAt("P", "dog", 40)
	require.NoError(t, repo.Create(ctx, makeReply(t, "P", "P", q1, 1)))
	require.NoError(t, repo.Create(ctx, makeReply(t, "P", "P", q1, 2)))
	require.NoError(t, repo.Create(ctx, makeReply(t, "P", "P", q2, 3)))

	counts, err := quotes.NewQuoteService(NewQuoteCountRepository(s), nil).GetCounts(ctx, "P")
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.True(t, counts[0].Quote.Equal(q1))
	assert.Equal(t, int64(2), counts[0].Count)
	assert.True(t, counts[1].Quote.Equal(q2))
	assert.Equal(t, int64(1), counts[1].Count)

	empty, err := quotes.NewQuoteService(NewQuoteCountRepository(s), nil).GetCounts(ctx, "no-replies")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReplyRepo_ResolveParent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPost(t, s, "P")
	repo := NewReplyRepository(s)

	ref, err := repo.ResolveParent(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, replies.ParentPost, ref.Type)
	assert.Equal(t, "P", ref.RootPostID)

	r := makeReply(t, "P", "P", quoteAt("P", "fox", 16), 10)
	require.NoError(t, repo.Create(ctx, r))
	ref, err = repo.ResolveParent(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, replies.ParentReply, ref.Type)
	assert.Equal(t, "P", ref.RootPostID)

	_, err = repo.ResolveParent(ctx, "ghost")
	assert.ErrorIs(t, err, replies.ErrParentNotFound)
}

// A missing root aborts before anything is written
func TestReplyRepo_CreateMissingRootWritesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := NewReplyRepository(s)

	r := makeReply(t, "ghost", "ghost", quoteAt("ghost", "x", 0), 10)
	err := repo.Create(ctx, r)
	assert.ErrorIs(t, err, replies.ErrRootNotFound)

	iter, err := s.db.NewIter(&pebble.IterOptions{})
	require.NoError(t, err)
	defer iter.Close()
	assert.False(t, iter.First(), "store must be empty")
}

func TestReplyRepo_DuplicateGroupSkipsQuoteIndex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPost(t, s, "P")
	repo := NewReplyRepository(s)
	q := quoteAt("P", "brown", 10)

	standalone := makeReply(t, "P", "P", q, 1)
	require.NoError(t, repo.Create(ctx, standalone))
	grouped := makeReply(t, "P", "P", q, 2)
	group := "group-1"
	grouped.DuplicateGroupID = &group
	require.NoError(t, repo.Create(ctx, grouped))

	rows, total, err := repo.ListByQuote(ctx, "P", standalone.QuoteKey, nil, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, standalone.ID, rows[0].ID)
	assert.Equal(t, 1, total)

	c, err := NewQuoteCountRepository(s).Get(ctx, "P", standalone.QuoteKey)
	require.NoError(t, err)
	assert.Equal(t, int64(2), c.Count)
	assert.Equal(t, int64(1), c.Indexed)

	stored, err := repo.GetByID(ctx, grouped.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.DuplicateGroupID)
	assert.Equal(t, group, *stored.DuplicateGroupID)

	_, err = s.get(duplicateMemberKey(group, grouped.ID))
	assert.NoError(t, err)
}

// Concurrent writers on one quote never lose an increment
func TestReplyRepo_ConcurrentCountConservation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPost(t, s, "P")
	repo := NewReplyRepository(s)
	q := quoteAt("P", "jumps", 20)

	const writers = 40
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		r := makeReply(t, "P", "P", q, int64(100+i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Create(ctx, r)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	c, err := NewQuoteCountRepository(s).Get(ctx, "P", makeReply(t, "P", "P", q, 0).QuoteKey)
	require.NoError(t, err)
	assert.Equal(t, int64(writers), c.Count)

	post, err := NewPostRepository(s).GetByID(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, writers, post.ReplyCount)

	ids, err := s.ReplyIDsByRoot(ctx, "P")
	require.NoError(t, err)
	assert.Len(t, ids, writers)
}

func TestQuoteCountRepo_ConcurrentIncrement(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	repo := NewQuoteCountRepository(s)
	q := quoteAt("P", "over", 26)
	key, _ := quotes.DeriveKey(q)

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.Increment(ctx, "P", key, q))
		}()
	}
	wg.Wait()

	c, err := repo.Get(ctx, "P", key)
	require.NoError(t, err)
	assert.Equal(t, int64(25), c.Count)

	_, err = repo.Get(ctx, "P", "unknown")
	assert.ErrorIs(t, err, quotes.ErrCountNotFound)
}

func TestReplyRepo_ListByAuthor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPost(t, s, "P")
	repo := NewReplyRepository(s)

	for i := 0; i < 4; i++ {
		require.NoError(t, repo.Create(ctx, makeReply(t, "P", "P", quoteAt("P", "fox", 16), int64(10+i))))
	}
	rows, total, err := repo.ListByAuthor(ctx, "bob", nil, 3)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, 4, total)

	rows, total, err = repo.ListByAuthor(ctx, "nobody", nil, 3)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 0, total)
}

func TestReconcileReplyCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedPost(t, s, "P")
	repo := NewReplyRepository(s)
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Create(ctx, makeReply(t, "P", "P", quoteAt("P", "the", 0), int64(i+1))))
	}

	// simulate drift
	drifted := posts.Post{ID: "P", Content: "x", AuthorID: "alice", ReplyCount: 7}
	b := s.db.NewBatch()
	require.NoError(t, setJSON(b, postKey("P"), &drifted))
	require.NoError(t, b.Commit(pebble.Sync))
	require.NoError(t, b.Close())

	n, err := s.ReconcileReplyCount(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	post, err := NewPostRepository(s).GetByID(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 3, post.ReplyCount)

	_, err = s.ReconcileReplyCount(ctx, "missing")
	assert.ErrorIs(t, err, posts.ErrNotFound)
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "abc", memberID([]byte("index:user:bob:replies:00000000000000000042:abc")))
	assert.Equal(t, []byte("index:user:bob:replies;"), upperBound("index:user:bob:replies:"))
	assert.Equal(t, fmt.Sprintf("x:%020d:id", 42), string(scored("x:", 42, "id")))
	assert.Equal(t, []string{"a", "b"}, dedupeSorted([]string{"b", "a", "b"}))
}
