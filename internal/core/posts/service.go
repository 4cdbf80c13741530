package posts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxContentLength bounds post bodies, in characters
const MaxContentLength = 20000

type postService struct {
	repo     Repository
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewPostService creates a new post service.
// notifier may be nil. If logger is nil, slog.Default() is used.
func NewPostService(repo Repository, notifier Notifier, logger *slog.Logger) Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &postService{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *postService) CreatePost(ctx context.Context, req CreatePostRequest) (*Post, error) {
	if err := s.validateCreateRequest(req); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate post id: %w", err)
	}

	post := &Post{
		ID:        id.String(),
		Content:   req.Content,
		AuthorID:  req.AuthorID,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.repo.Create(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to store post: %w", err)
	}

	s.logger.Info("post created", "post_id", post.ID, "author_id", post.AuthorID)

	if s.notifier != nil {
		// Notification gets its own context so client cancellation doesn't abort it
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		created := *post
		go func() {
			defer cancel()
			s.notifier.PostCreated(notifyCtx, &created)
		}()
	}

	return post, nil
}

func (s *postService) GetPost(ctx context.Context, id string) (*Post, error) {
	if strings.TrimSpace(id) == "" {
		return nil, NewValidationError("id", "post id is required")
	}

	post, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewNotFoundError("post", id)
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return post, nil
}

func (s *postService) validateCreateRequest(req CreatePostRequest) error {
	if strings.TrimSpace(req.AuthorID) == "" {
		return NewValidationError("authorId", "author is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return ErrContentEmpty
	}
	if utf8.RuneCountInString(req.Content) > MaxContentLength {
		return NewValidationError("content", fmt.Sprintf("content exceeds %d characters", MaxContentLength))
	}
	return nil
}
