package kvstore

import (
	"Marginalia/internal/core/quotes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

type aggregateEntry struct {
	Quote     quotes.Quote `json:"quote"`
	Count     int64        `json:"count"`
	Indexed   int64        `json:"indexed"`
	FirstSeen int64        `json:"firstSeen"`
}

// aggregate is the value at aggregate:quoteCounts:{parentId}, keyed by quote key
type aggregate map[quotes.Key]*aggregateEntry

func (s *Store) loadAggregate(parentID string) (aggregate, error) {
	agg := aggregate{}
	err := s.getJSON(aggregateKey(parentID), &agg)
	if errors.Is(err, errNotFound) {
		return aggregate{}, nil
	}
	if err != nil {
		return nil, err
	}
	return agg, nil
}

func (a aggregate) increment(key quotes.Key, q quotes.Quote, indexed bool, at time.Time) {
	e, ok := a[key]
	if !ok {
		e = &aggregateEntry{Quote: q, FirstSeen: at.UnixMilli()}
		a[key] = e
	}
	e.Count++
	if indexed {
		e.Indexed++
	}
}

func (a aggregate) counts() []quotes.Count {
	out := make([]quotes.Count, 0, len(a))
	for key, e := range a {
		if e.Count <= 0 {
			continue
		}
		out = append(out, e.toCount(key))
	}
	quotes.SortCounts(out)
	return out
}

func (e *aggregateEntry) toCount(key quotes.Key) quotes.Count {
	return quotes.Count{
		Quote:     e.Quote,
		Key:       key,
		Count:     e.Count,
		Indexed:   e.Indexed,
		FirstSeen: time.UnixMilli(e.FirstSeen).UTC(),
	}
}

type kvQuoteCountRepo struct {
	store *Store
}

// NewQuoteCountRepository creates a pebble-backed quote aggregate repository
func NewQuoteCountRepository(store *Store) quotes.Repository {
	return &kvQuoteCountRepo{store: store}
}

func (r *kvQuoteCountRepo) ListByParent(ctx context.Context, parentID string) ([]quotes.Count, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	agg, err := r.store.loadAggregate(parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load quote counts: %w", err)
	}
	return agg.counts(), nil
}

func (r *kvQuoteCountRepo) Get(ctx context.Context, parentID string, key quotes.Key) (*quotes.Count, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	agg, err := r.store.loadAggregate(parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load quote counts: %w", err)
	}
	e, ok := agg[key]
	if !ok {
		return nil, quotes.ErrCountNotFound
	}
	c := e.toCount(key)
	return &c, nil
}

func (r *kvQuoteCountRepo) Increment(ctx context.Context, parentID string, key quotes.Key, q quotes.Quote) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	aggKey := aggregateKey(parentID)
	unlock := r.store.locks.lock(string(aggKey))
	defer unlock()

	agg, err := r.store.loadAggregate(parentID)
	if err != nil {
		return fmt.Errorf("failed to load quote counts: %w", err)
	}
	agg.increment(key, q, true, time.Now())

	b := r.store.db.NewBatch()
	defer b.Close()
	if err := setJSON(b, aggKey, agg); err != nil {
		return err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to store quote counts: %w", err)
	}
	return nil
}
