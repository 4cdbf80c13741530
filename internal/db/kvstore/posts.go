package kvstore

import (
	"Marginalia/internal/core/posts"
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

type kvPostRepo struct {
	store *Store
}

// NewPostRepository creates a pebble-backed post repository
func NewPostRepository(store *Store) posts.Repository {
	return &kvPostRepo{store: store}
}

func (r *kvPostRepo) Create(ctx context.Context, post *posts.Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := postKey(post.ID)
	unlock := r.store.locks.lock(string(key))
	defer unlock()

	if _, err := r.store.get(key); err == nil {
		return fmt.Errorf("post already exists: %s", post.ID)
	} else if !errors.Is(err, errNotFound) {
		return fmt.Errorf("failed to check post: %w", err)
	}

	b := r.store.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, key, post); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to store post: %w", err)
	}
	return nil
}

func (r *kvPostRepo) GetByID(ctx context.Context, id string) (*posts.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var post posts.Post
	if err := r.store.getJSON(postKey(id), &post); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, posts.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &post, nil
}
