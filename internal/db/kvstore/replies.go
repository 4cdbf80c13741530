package kvstore

import (
	"Marginalia/internal/core/pagination"
	"Marginalia/internal/core/posts"
	"Marginalia/internal/core/quotes"
	"Marginalia/internal/core/replies"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"
)

type kvReplyRepo struct {
	store *Store
}

// NewReplyRepository creates a pebble-backed reply repository
func NewReplyRepository(store *Store) replies.Repository {
	return &kvReplyRepo{store: store}
}

func (r *kvReplyRepo) ResolveParent(ctx context.Context, id string) (*replies.ParentRef, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, err := r.store.get(postKey(id)); err == nil {
		return &replies.ParentRef{Type: replies.ParentPost, RootPostID: id}, nil
	} else if !errors.Is(err, errNotFound) {
		return nil, fmt.Errorf("failed to look up parent post: %w", err)
	}

	var parent replies.Reply
	if err := r.store.getJSON(replyKey(id), &parent); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, replies.ErrParentNotFound
		}
		return nil, fmt.Errorf("failed to look up parent reply: %w", err)
	}
	return &replies.ParentRef{Type: replies.ParentReply, RootPostID: parent.RootPostID}, nil
}

// Create applies the reply and all derived writes in a single pebble batch.
// The aggregate, root post and author size keys are read-modify-write, so
// their locks are held until the batch commits.
func (r *kvReplyRepo) Create(ctx context.Context, reply *replies.Reply) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s := r.store

	aggKey := aggregateKey(reply.ParentID)
	rootKey := postKey(reply.RootPostID)
	sizeKey := userIndexSizeKey(reply.AuthorID)
	unlock := s.locks.lock(string(aggKey), string(rootKey), string(sizeKey))
	defer unlock()

	var root posts.Post
	if err := s.getJSON(rootKey, &root); err != nil {
		if errors.Is(err, errNotFound) {
			return replies.ErrRootNotFound
		}
		return fmt.Errorf("failed to load root post: %w", err)
	}
	if _, err := s.get(replyKey(reply.ID)); err == nil {
		return fmt.Errorf("reply already exists: %s", reply.ID)
	} else if !errors.Is(err, errNotFound) {
		return fmt.Errorf("failed to check reply: %w", err)
	}
	agg, err := s.loadAggregate(reply.ParentID)
	if err != nil {
		return fmt.Errorf("failed to load quote counts: %w", err)
	}
	authorSize, err := s.readSize(sizeKey)
	if err != nil {
		return err
	}

	pos := reply.Position()
	indexed := reply.DuplicateGroupID == nil
	id := []byte(reply.ID)

	b := s.db.NewBatch()
	defer b.Close()

	if err := setJSON(b, replyKey(reply.ID), reply); err != nil {
		return err
	}
	if indexed {
		key := scored(parentIndexPrefix(reply.ParentID, reply.QuoteKey, string(replies.SortMostRecent)), pos.Score, reply.ID)
		if err := b.Set(key, id, nil); err != nil {
			return err
		}
	} else {
		if err := b.Set(duplicateMemberKey(*reply.DuplicateGroupID, reply.ID), id, nil); err != nil {
			return err
		}
	}
	if err := b.Set(scored(feedPrefix(), pos.Score, reply.ID), id, nil); err != nil {
		return err
	}

	agg.increment(reply.QuoteKey, reply.Quote, indexed, reply.CreatedAt)
	if err := setJSON(b, aggKey, agg); err != nil {
		return err
	}

	if err := b.Set(scored(userIndexPrefix(reply.AuthorID), pos.Score, reply.ID), id, nil); err != nil {
		return err
	}
	if err := b.Set(sizeKey, []byte(strconv.FormatInt(authorSize+1, 10)), nil); err != nil {
		return err
	}
	if err := b.Set([]byte(rootMembersPrefix(reply.RootPostID)+reply.ID), id, nil); err != nil {
		return err
	}

	root.ReplyCount++
	if err := setJSON(b, rootKey, &root); err != nil {
		return err
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit reply batch: %w", err)
	}
	return nil
}

func (s *Store) readSize(key []byte) (int64, error) {
	data, err := s.get(key)
	if errors.Is(err, errNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt size at %s: %w", key, err)
	}
	return n, nil
}

func (r *kvReplyRepo) GetByID(ctx context.Context, id string) (*replies.Reply, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var reply replies.Reply
	if err := r.store.getJSON(replyKey(id), &reply); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, replies.ErrReplyNotFound
		}
		return nil, fmt.Errorf("failed to get reply: %w", err)
	}
	return &reply, nil
}

func (r *kvReplyRepo) ListByQuote(
	ctx context.Context,
	parentID string,
	key quotes.Key,
	after *pagination.Cursor,
	limit int,
) ([]*replies.Reply, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	prefix := parentIndexPrefix(parentID, key, string(replies.SortMostRecent))
	result, err := r.page(prefix, after, limit)
	if err != nil {
		return nil, 0, err
	}

	agg, err := r.store.loadAggregate(parentID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load quote counts: %w", err)
	}
	total := 0
	if e, ok := agg[key]; ok {
		total = int(e.Indexed)
	}
	return result, total, nil
}

func (r *kvReplyRepo) ListByAuthor(
	ctx context.Context,
	authorID string,
	after *pagination.Cursor,
	limit int,
) ([]*replies.Reply, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	result, err := r.page(userIndexPrefix(authorID), after, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := r.store.readSize(userIndexSizeKey(authorID))
	if err != nil {
		return nil, 0, err
	}
	return result, int(total), nil
}

// page reads up to limit members of a scored index, newest first, strictly
// after the cursor, and loads their records.
func (r *kvReplyRepo) page(prefix string, after *pagination.Cursor, limit int) ([]*replies.Reply, error) {
	var seek []byte
	if after != nil {
		seek = scored(prefix, after.Timestamp, after.ID)
	}

	var ids []string
	err := r.store.scanDesc(prefix, seek, func(key []byte) bool {
		ids = append(ids, memberID(key))
		return len(ids) < limit
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan index: %w", err)
	}

	result := make([]*replies.Reply, 0, len(ids))
	for _, id := range ids {
		var reply replies.Reply
		if err := r.store.getJSON(replyKey(id), &reply); err != nil {
			return nil, fmt.Errorf("index entry %s has no record: %w", id, err)
		}
		result = append(result, &reply)
	}
	return result, nil
}
