package kvstore

import (
	"Marginalia/internal/core/posts"
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// ReplyIDsByRoot lists every reply in the tree of a root post
func (s *Store) ReplyIDsByRoot(ctx context.Context, rootPostID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var ids []string
	err := s.scanAsc(rootMembersPrefix(rootPostID), func(key []byte) {
		ids = append(ids, memberID(key))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan root membership: %w", err)
	}
	return ids, nil
}

// ReconcileReplyCount recomputes a post's reply count from its root
// membership set and stores it. Returns the corrected count.
func (s *Store) ReconcileReplyCount(ctx context.Context, postID string) (int, error) {
	key := postKey(postID)
	unlock := s.locks.lock(string(key))
	defer unlock()

	var post posts.Post
	if err := s.getJSON(key, &post); err != nil {
		if errors.Is(err, errNotFound) {
			return 0, posts.ErrNotFound
		}
		return 0, err
	}

	ids, err := s.ReplyIDsByRoot(ctx, postID)
	if err != nil {
		return 0, err
	}
	if post.ReplyCount == len(ids) {
		return post.ReplyCount, nil
	}

	s.logger.Warn("reply count drift corrected",
		"post_id", postID, "stored", post.ReplyCount, "actual", len(ids))
	post.ReplyCount = len(ids)

	b := s.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, key, &post); err != nil {
		return 0, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to store reconciled count: %w", err)
	}
	return post.ReplyCount, nil
}
