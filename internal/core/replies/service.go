package replies

import (
	"Marginalia/internal/core/pagination"
	"Marginalia/internal/core/quotes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	parentCacheSize = 4096
	notifyTimeout   = 10 * time.Second
)

type replyService struct {
	repo        Repository
	interceptor DuplicateInterceptor
	notifier    Notifier
	logger      *slog.Logger
	parents     *lru.Cache[string, ParentRef]
	now         func() time.Time
	rules       contentRules
}

// NewReplyService creates a new reply service.
// interceptor and notifier may be nil. If logger is nil, slog.Default() is used.
func NewReplyService(
	repo Repository,
	cfg Config,
	interceptor DuplicateInterceptor,
	notifier Notifier,
	logger *slog.Logger,
) Service {
	if logger == nil {
		logger = slog.Default()
	}
	// Only fails for a non-positive size
	parents, _ := lru.New[string, ParentRef](parentCacheSize)

	return &replyService{
		repo:        repo,
		interceptor: interceptor,
		notifier:    notifier,
		logger:      logger,
		parents:     parents,
		now:         time.Now,
		rules:       newContentRules(cfg),
	}
}

// CreateReply persists a new reply.
// Flow:
// 1. Validate text, quote and author
// 2. Resolve the parent and its root post
// 3. Build the record with a time-sortable id and derived quote key
// 4. Ask the duplicate interceptor whether to redirect into a group
// 5. Commit the reply and its index writes as one unit
// 6. Fire the post-commit notification without waiting for it
func (s *replyService) CreateReply(ctx context.Context, req CreateReplyRequest) (*CreateReplyResponse, error) {
	if err := s.rules.validateCreate(req); err != nil {
		replyCreateFailures.WithLabelValues("validation").Inc()
		return nil, err
	}

	parent, err := s.resolveParent(ctx, req.ParentID)
	if err != nil {
		if errors.Is(err, ErrParentNotFound) {
			replyCreateFailures.WithLabelValues("not_found").Inc()
			return nil, NewNotFoundError("parent", req.ParentID)
		}
		replyCreateFailures.WithLabelValues("persistence").Inc()
		return nil, &PersistenceError{Op: "resolve parent", Err: err}
	}

	reply, err := s.buildReply(req, parent)
	if err != nil {
		return nil, err
	}

	if s.interceptor != nil {
		decision, err := s.interceptor.Intercept(ctx, reply)
		if err != nil {
			// duplicate detection is advisory
			s.logger.Warn("duplicate check failed, storing reply standalone",
				"reply_id", reply.ID, "error", err)
		} else if decision.GroupID != "" {
			groupID := decision.GroupID
			reply.DuplicateGroupID = &groupID
		}
	}

	if err := s.repo.Create(ctx, reply); err != nil {
		if errors.Is(err, ErrRootNotFound) || errors.Is(err, ErrParentNotFound) {
			replyCreateFailures.WithLabelValues("not_found").Inc()
			return nil, NewNotFoundError("parent", req.ParentID)
		}
		replyCreateFailures.WithLabelValues("persistence").Inc()
		return nil, &PersistenceError{Op: "create reply", Err: err}
	}

	repliesCreated.WithLabelValues(string(reply.ParentType)).Inc()
	s.logger.Info("reply created",
		"reply_id", reply.ID,
		"parent_id", reply.ParentID,
		"root_post_id", reply.RootPostID,
		"quote_key", reply.QuoteKey)

	s.notify(ctx, reply)

	return &CreateReplyResponse{ID: reply.ID}, nil
}

func (s *replyService) resolveParent(ctx context.Context, parentID string) (ParentRef, error) {
	if ref, ok := s.parents.Get(parentID); ok {
		return ref, nil
	}
	ref, err := s.repo.ResolveParent(ctx, parentID)
	if err != nil {
		return ParentRef{}, err
	}
	// Posts and replies are never deleted or moved, so resolutions never go stale
	s.parents.Add(parentID, *ref)
	return *ref, nil
}

func (s *replyService) buildReply(req CreateReplyRequest, parent ParentRef) (*Reply, error) {
	key, err := quotes.DeriveKey(req.Quote)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, &PersistenceError{Op: "generate id", Err: err}
	}

	rootID := parent.RootPostID
	if parent.Type == ParentPost {
		rootID = req.ParentID
	}

	return &Reply{
		ID:         id.String(),
		Text:       req.Text,
		ParentID:   req.ParentID,
		ParentType: parent.Type,
		RootPostID: rootID,
		Quote:      req.Quote,
		QuoteKey:   key,
		AuthorID:   req.AuthorID,
		CreatedAt:  s.now().UTC().Truncate(time.Millisecond),
	}, nil
}

func (s *replyService) notify(ctx context.Context, reply *Reply) {
	if s.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	created := *reply
	go func() {
		defer cancel()
		s.notifier.ReplyCreated(notifyCtx, &created)
	}()
}

func (s *replyService) GetReply(ctx context.Context, id string) (*Reply, error) {
	if strings.TrimSpace(id) == "" {
		return nil, NewValidationError("id", "reply id is required")
	}
	reply, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrReplyNotFound) {
			return nil, NewNotFoundError("reply", id)
		}
		return nil, &PersistenceError{Op: "get reply", Err: err}
	}
	return reply, nil
}

// Page serves the parent+quote index. A request without cursor starts at the
// newest reply; limit is clamped to pagination.MaxLimit.
func (s *replyService) Page(ctx context.Context, req PageRequest) (*Page, error) {
	start := time.Now()
	defer func() { pageDuration.WithLabelValues("quote").Observe(time.Since(start).Seconds()) }()

	if strings.TrimSpace(req.ParentID) == "" {
		return nil, NewValidationError("parentId", "parent id is required")
	}
	if !quotes.IsKey(string(req.QuoteKey)) {
		return nil, NewValidationError("quoteKey", "malformed quote key")
	}
	if req.Sort == "" {
		req.Sort = SortMostRecent
	}
	sort, err := ParseSort(string(req.Sort))
	if err != nil {
		return nil, err
	}

	kind := pagination.IndexKind(string(sort), req.ParentID, string(req.QuoteKey))
	after, err := pagination.DecodeFor(req.Cursor, kind)
	if err != nil {
		return nil, err
	}
	limit := pagination.ClampLimit(req.Limit)

	rows, total, err := s.repo.ListByQuote(ctx, req.ParentID, req.QuoteKey, after, limit+1)
	if err != nil {
		return nil, &PersistenceError{Op: "list replies", Err: err}
	}

	page := pagination.Trim(rows, limit, kind, total, (*Reply).Position)
	return &page, nil
}

func (s *replyService) ListByAuthor(ctx context.Context, req AuthorPageRequest) (*Page, error) {
	start := time.Now()
	defer func() { pageDuration.WithLabelValues("author").Observe(time.Since(start).Seconds()) }()

	if strings.TrimSpace(req.AuthorID) == "" {
		return nil, NewValidationError("authorId", "author id is required")
	}
	kind := pagination.IndexKind(pagination.KindAuthorRecent, req.AuthorID)
	after, err := pagination.DecodeFor(req.Cursor, kind)
	if err != nil {
		return nil, err
	}
	limit := pagination.ClampLimit(req.Limit)

	rows, total, err := s.repo.ListByAuthor(ctx, req.AuthorID, after, limit+1)
	if err != nil {
		return nil, &PersistenceError{Op: "list author replies", Err: err}
	}

	page := pagination.Trim(rows, limit, kind, total, (*Reply).Position)
	return &page, nil
}
