package replies

import (
	"Marginalia/internal/core/pagination"
	"Marginalia/internal/core/quotes"
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockReplyRepo is an in-memory Repository
type mockReplyRepo struct {
	mu           sync.Mutex
	posts        map[string]bool
	replies      map[string]*Reply
	resolveCalls int
	createErr    error
	lastLimit    int
}

func newMockReplyRepo(postIDs ...string) *mockReplyRepo {
	m := &mockReplyRepo{posts: make(map[string]bool), replies: make(map[string]*Reply)}
	for _, id := range postIDs {
		m.posts[id] = true
	}
	return m
}

func (m *mockReplyRepo) ResolveParent(ctx context.Context, id string) (*ParentRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolveCalls++
	if m.posts[id] {
		return &ParentRef{Type: ParentPost, RootPostID: id}, nil
	}
	if r, ok := m.replies[id]; ok {
		return &ParentRef{Type: ParentReply, RootPostID: r.RootPostID}, nil
	}
	return nil, ErrParentNotFound
}

func (m *mockReplyRepo) Create(ctx context.Context, reply *Reply) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r := *reply
	m.replies[reply.ID] = &r
	return nil
}

func (m *mockReplyRepo) GetByID(ctx context.Context, id string) (*Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.replies[id]
	if !ok {
		return nil, ErrReplyNotFound
	}
	return r, nil
}

func (m *mockReplyRepo) list(match func(*Reply) bool, after *pagination.Cursor, limit int) ([]*Reply, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLimit = limit

	var all []*Reply
	for _, r := range m.replies {
		if match(r) {
			all = append(all, r)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		pi, pj := all[i].Position(), all[j].Position()
		if pi.Score != pj.Score {
			return pi.Score > pj.Score
		}
		return pi.ID > pj.ID
	})

	var out []*Reply
	for _, r := range all {
		if after.After(r.Position()) && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, len(all)
}

func (m *mockReplyRepo) ListByQuote(ctx context.Context, parentID string, key quotes.Key, after *pagination.Cursor, limit int) ([]*Reply, int, error) {
	out, total := m.list(func(r *Reply) bool {
		return r.ParentID == parentID && r.QuoteKey == key && r.DuplicateGroupID == nil
	}, after, limit)
	return out, total, nil
}

func (m *mockReplyRepo) ListByAuthor(ctx context.Context, authorID string, after *pagination.Cursor, limit int) ([]*Reply, int, error) {
	out, total := m.list(func(r *Reply) bool { return r.AuthorID == authorID }, after, limit)
	return out, total, nil
}

type funcInterceptor func(ctx context.Context, r *Reply) (DuplicateDecision, error)

func (f funcInterceptor) Intercept(ctx context.Context, r *Reply) (DuplicateDecision, error) {
	return f(ctx, r)
}

type chanNotifier chan *Reply

func (c chanNotifier) ReplyCreated(ctx context.Context, r *Reply) { c <- r }

func quoteOf(sourceID, text string, start int) quotes.Quote {
	return quotes.Quote{Text: text, SourceID: sourceID, SelectionRange: &quotes.Range{Start: start, End: start + len(text)}}
}

func validRequest(parentID string) CreateReplyRequest {
	return CreateReplyRequest{
		Text:     "This is a thoughtful reply to the quoted passage.",
		ParentID: parentID,
		Quote:    quoteOf(parentID, "quick brown fox", 4),
		AuthorID: "bob",
	}
}

func TestCreateReply_OnPost(t *testing.T) {
	repo := newMockReplyRepo("post-1")
	svc := NewReplyService(repo, DefaultConfig(), nil, nil, nil)

	resp, err := svc.CreateReply(context.Background(), validRequest("post-1"))
	require.NoError(t, err)
	require.NotEmpty(t, resp.ID)

	stored, err := svc.GetReply(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, ParentPost, stored.ParentType)
	assert.Equal(t, "post-1", stored.RootPostID)
	wantKey, _ := quotes.DeriveKey(validRequest("post-1").Quote)
	assert.Equal(t, wantKey, stored.QuoteKey)
	assert.Nil(t, stored.DuplicateGroupID)
}

func TestCreateReply_NestedInheritsRoot(t *testing.T) {
	repo := newMockReplyRepo("post-1")
	svc := NewReplyService(repo, DefaultConfig(), nil, nil, nil)

	first, err := svc.CreateReply(context.Background(), validRequest("post-1"))
	require.NoError(t, err)

	req := validRequest(first.ID)
	req.Quote = quoteOf(first.ID, "thoughtful reply", 10)
	second, err := svc.CreateReply(context.Background(), req)
	require.NoError(t, err)

	stored, err := svc.GetReply(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, ParentReply, stored.ParentType)
	assert.Equal(t, "post-1", stored.RootPostID)
}

func TestCreateReply_Validation(t *testing.T) {
	svc := NewReplyService(newMockReplyRepo("post-1"), DefaultConfig(), nil, nil, nil)

	tests := []struct {
		name   string
		mutate func(r *CreateReplyRequest)
	}{
		{"missing author", func(r *CreateReplyRequest) { r.AuthorID = "" }},
		{"missing parent", func(r *CreateReplyRequest) { r.ParentID = "" }},
		{"blank text", func(r *CreateReplyRequest) { r.Text = "   " }},
		{"too short", func(r *CreateReplyRequest) { r.Text = "meh" }},
		{"too long", func(r *CreateReplyRequest) { r.Text = strings.Repeat("x", 2001) }},
		{"quote without range", func(r *CreateReplyRequest) { r.Quote.SelectionRange = nil }},
		{"quote without text", func(r *CreateReplyRequest) { r.Quote.Text = "" }},
		{"quote from another node", func(r *CreateReplyRequest) { r.Quote.SourceID = "post-2" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest("post-1")
			tt.mutate(&req)
			_, err := svc.CreateReply(context.Background(), req)
			require.Error(t, err)
			assert.True(t, IsValidationError(err), "got %v", err)
		})
	}
}

func TestCreateReply_ExemptPhrases(t *testing.T) {
	svc := NewReplyService(newMockReplyRepo("post-1"), DefaultConfig(), nil, nil, nil)

	for _, text := range []string{"yes", "Agreed!", "  +1 ", "Thank you."} {
		req := validRequest("post-1")
		req.Text = text
		_, err := svc.CreateReply(context.Background(), req)
		assert.NoError(t, err, text)
	}
}

func TestCreateReply_ParentNotFound(t *testing.T) {
	repo := newMockReplyRepo()
	svc := NewReplyService(repo, DefaultConfig(), nil, nil, nil)

	_, err := svc.CreateReply(context.Background(), validRequest("ghost"))
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Empty(t, repo.replies, "nothing may be written for a missing parent")
}

func TestCreateReply_PersistenceError(t *testing.T) {
	repo := newMockReplyRepo("post-1")
	repo.createErr = errors.New("disk full")
	svc := NewReplyService(repo, DefaultConfig(), nil, nil, nil)

	_, err := svc.CreateReply(context.Background(), validRequest("post-1"))
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))
	assert.ErrorIs(t, err, repo.createErr)
}

func TestCreateReply_RootVanishedIsNotFound(t *testing.T) {
	repo := newMockReplyRepo("post-1")
	repo.createErr = ErrRootNotFound
	svc := NewReplyService(repo, DefaultConfig(), nil, nil, nil)

	_, err := svc.CreateReply(context.Background(), validRequest("post-1"))
	assert.True(t, IsNotFound(err))
}

func TestCreateReply_DuplicateRedirect(t *testing.T) {
	repo := newMockReplyRepo("post-1")
	interceptor := funcInterceptor(func(ctx context.Context, r *Reply) (DuplicateDecision, error) {
		return DuplicateDecision{GroupID: "group-7"}, nil
	})
	svc := NewReplyService(repo, DefaultConfig(), interceptor, nil, nil)

	resp, err := svc.CreateReply(context.Background(), validRequest("post-1"))
	require.NoError(t, err)
	stored, _ := repo.GetByID(context.Background(), resp.ID)
	require.NotNil(t, stored.DuplicateGroupID)
	assert.Equal(t, "group-7", *stored.DuplicateGroupID)
}

func TestCreateReply_InterceptorFailureKeepsReply(t *testing.T) {
	repo := newMockReplyRepo("post-1")
	interceptor := funcInterceptor(func(ctx context.Context, r *Reply) (DuplicateDecision, error) {
		return DuplicateDecision{}, errors.New("detector offline")
	})
	svc := NewReplyService(repo, DefaultConfig(), interceptor, nil, nil)

	resp, err := svc.CreateReply(context.Background(), validRequest("post-1"))
	require.NoError(t, err)
	stored, _ := repo.GetByID(context.Background(), resp.ID)
	assert.Nil(t, stored.DuplicateGroupID)
}

func TestCreateReply_NotifiesAfterCommit(t *testing.T) {
	notifier := make(chanNotifier, 1)
	svc := NewReplyService(newMockReplyRepo("post-1"), DefaultConfig(), nil, notifier, nil)

	resp, err := svc.CreateReply(context.Background(), validRequest("post-1"))
	require.NoError(t, err)

	select {
	case r := <-notifier:
		assert.Equal(t, resp.ID, r.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("notifier not called")
	}
}

func TestCreateReply_CachesParentResolution(t *testing.T) {
	repo := newMockReplyRepo("post-1")
	svc := NewReplyService(repo, DefaultConfig(), nil, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := svc.CreateReply(context.Background(), validRequest("post-1"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, repo.resolveCalls)
}

func TestPage_WalksAllReplies(t *testing.T) {
	repo := newMockReplyRepo("post-1")
	svc := NewReplyService(repo, DefaultConfig(), nil, nil, nil).(*replyService)

	base := time.UnixMilli(1_700_000_000_000)
	tick := 0
	svc.now = func() time.Time {
		tick++
		// two replies share each millisecond so ties are exercised
		return base.Add(time.Duration(tick/2) * time.Millisecond)
	}

	created := map[string]bool{}
	for i := 0; i < 7; i++ {
		resp, err := svc.CreateReply(context.Background(), validRequest("post-1"))
		require.NoError(t, err)
		created[resp.ID] = true
	}
	key, _ := quotes.DeriveKey(validRequest("post-1").Quote)

	seen := map[string]bool{}
	var last *Reply
	cursor := ""
	pages := 0
	for {
		page, err := svc.Page(context.Background(), PageRequest{ParentID: "post-1", QuoteKey: key, Limit: 3, Cursor: cursor})
		require.NoError(t, err)
		assert.Equal(t, 7, page.TotalCount)
		pages++
		for _, r := range page.Items {
			assert.False(t, seen[r.ID], "duplicate %s", r.ID)
			seen[r.ID] = true
			if last != nil {
				assert.True(t, (&pagination.Cursor{ID: last.ID, Timestamp: last.Position().Score}).After(r.Position()))
			}
			last = r
		}
		if !page.HasMore {
			assert.Nil(t, page.NextCursor)
			break
		}
		require.NotNil(t, page.NextCursor)
		cursor = *page.NextCursor
	}
	assert.Equal(t, 3, pages)
	assert.Equal(t, created, seen)
}

func TestPage_Errors(t *testing.T) {
	repo := newMockReplyRepo("post-1")
	svc := NewReplyService(repo, DefaultConfig(), nil, nil, nil)
	key, _ := quotes.DeriveKey(validRequest("post-1").Quote)

	_, err := svc.Page(context.Background(), PageRequest{ParentID: "post-1", QuoteKey: "nope"})
	assert.True(t, IsValidationError(err))

	_, err = svc.Page(context.Background(), PageRequest{ParentID: "post-1", QuoteKey: key, Sort: "topVoted"})
	assert.True(t, IsValidationError(err))

	_, err = svc.Page(context.Background(), PageRequest{ParentID: "post-1", QuoteKey: key, Cursor: "garbage!"})
	assert.True(t, pagination.IsCursorFormatError(err))

	authorCursor := pagination.Encode(pagination.Cursor{ID: "x", Timestamp: 1, Kind: pagination.IndexKind(pagination.KindAuthorRecent, "bob")})
	_, err = svc.Page(context.Background(), PageRequest{ParentID: "post-1", QuoteKey: key, Cursor: authorCursor})
	assert.True(t, pagination.IsCursorFormatError(err))
}

func TestPage_CursorBoundToParentAndQuote(t *testing.T) {
	repo := newMockReplyRepo("post-1")
	svc := NewReplyService(repo, DefaultConfig(), nil, nil, nil)
	for i := 0; i < 3; i++ {
		_, err := svc.CreateReply(context.Background(), validRequest("post-1"))
		require.NoError(t, err)
	}
	key, _ := quotes.DeriveKey(validRequest("post-1").Quote)
	other := quotes.Key(strings.Repeat("a", 64))
	require.NotEqual(t, key, other)

	page, err := svc.Page(context.Background(), PageRequest{ParentID: "post-1", QuoteKey: key, Limit: 2})
	require.NoError(t, err)
	require.NotNil(t, page.NextCursor)
	cursor := *page.NextCursor

	_, err = svc.Page(context.Background(), PageRequest{ParentID: "post-1", QuoteKey: other, Cursor: cursor})
	assert.True(t, pagination.IsCursorFormatError(err))

	_, err = svc.Page(context.Background(), PageRequest{ParentID: "post-2", QuoteKey: key, Cursor: cursor})
	assert.True(t, pagination.IsCursorFormatError(err))

	next, err := svc.Page(context.Background(), PageRequest{ParentID: "post-1", QuoteKey: key, Limit: 2, Cursor: cursor})
	require.NoError(t, err)
	assert.Len(t, next.Items, 1)
}

func TestPage_ClampsLimit(t *testing.T) {
	repo := newMockReplyRepo("post-1")
	svc := NewReplyService(repo, DefaultConfig(), nil, nil, nil)
	key, _ := quotes.DeriveKey(validRequest("post-1").Quote)

	page, err := svc.Page(context.Background(), PageRequest{ParentID: "post-1", QuoteKey: key, Limit: 5000})
	require.NoError(t, err)
	assert.Equal(t, pagination.MaxLimit+1, repo.lastLimit)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
	assert.Equal(t, 0, page.TotalCount)
}

func TestListByAuthor(t *testing.T) {
	repo := newMockReplyRepo("post-1")
	svc := NewReplyService(repo, DefaultConfig(), nil, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := svc.CreateReply(context.Background(), validRequest("post-1"))
		require.NoError(t, err)
	}
	page, err := svc.ListByAuthor(context.Background(), AuthorPageRequest{AuthorID: "bob", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasMore)

	next, err := pagination.Decode(*page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, pagination.IndexKind(pagination.KindAuthorRecent, "bob"), next.Kind)

	_, err = svc.ListByAuthor(context.Background(), AuthorPageRequest{AuthorID: "carol", Cursor: *page.NextCursor})
	assert.True(t, pagination.IsCursorFormatError(err))

	_, err = svc.ListByAuthor(context.Background(), AuthorPageRequest{})
	assert.True(t, IsValidationError(err))
}

func TestGetReply_NotFound(t *testing.T) {
	svc := NewReplyService(newMockReplyRepo(), DefaultConfig(), nil, nil, nil)
	_, err := svc.GetReply(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
}
