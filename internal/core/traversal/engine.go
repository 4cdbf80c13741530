package traversal

import (
	"Marginalia/internal/core/pagination"
	"Marginalia/internal/core/quotes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"
)

// Config tunes the engine
type Config struct {
	PageSize   int
	MaxRetries uint64
	RetryBase  time.Duration
	// RefreshTimeout bounds background work: the refresh after a submitted
	// reply and count fetches shared between callers
	RefreshTimeout time.Duration
}

// DefaultConfig returns the default engine settings
func DefaultConfig() Config {
	return Config{
		PageSize:       10,
		MaxRetries:     3,
		RetryBase:      200 * time.Millisecond,
		RefreshTimeout: 30 * time.Second,
	}
}

// Engine drives level-by-level traversal of discussion trees.
//
// Level fetches are serialized: at most one is in flight at a time.
// Branch-changing operations apply to the State immediately and bump its
// epoch, so any fetch that started before them is discarded on arrival.
type Engine struct {
	backend Backend
	logger  *slog.Logger
	counts  singleflight.Group
	cfg     Config

	// held for the duration of every level fetch
	loadMu sync.Mutex

	qmu      sync.Mutex
	queue    []queuedLoad
	loading  *queuedLoad
	pumpDone chan struct{}

	background sync.WaitGroup
}

// NewEngine creates an engine. Zero config fields take their defaults.
// If logger is nil, slog.Default() is used.
func NewEngine(backend Backend, cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.PageSize > pagination.MaxLimit {
		cfg.PageSize = pagination.MaxLimit
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = def.RetryBase
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = def.RefreshTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{backend: backend, cfg: cfg, logger: logger}
}

// withRetry retries op while the backend reports ErrServiceNotReady
func (e *Engine) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(e.cfg.MaxRetries, retry.NewExponential(e.cfg.RetryBase))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := op(ctx)
		if errors.Is(err, ErrServiceNotReady) {
			e.logger.Debug("backend not ready, retrying", "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// countsFor returns a node's quote counts, fetching them once per node
func (e *Engine) countsFor(ctx context.Context, st *State, nodeID string) ([]quotes.Count, error) {
	st.mu.RLock()
	cached, ok := st.counts[nodeID]
	st.mu.RUnlock()
	if ok {
		return cached, nil
	}

	// shared between callers: detached from any one caller's context
	ch := e.counts.DoChan(nodeID, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RefreshTimeout)
		defer cancel()
		var counts []quotes.Count
		err := e.withRetry(fetchCtx, func(ctx context.Context) error {
			var err error
			counts, err = e.backend.GetQuoteCounts(ctx, nodeID)
			return err
		})
		return counts, err
	})
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}
	counts := res.Val.([]quotes.Count)

	st.mu.Lock()
	st.counts[nodeID] = counts
	st.mu.Unlock()
	return counts, nil
}

func (e *Engine) forgetCounts(st *State, nodeID string) {
	st.mu.Lock()
	delete(st.counts, nodeID)
	st.mu.Unlock()
	e.counts.Forget(nodeID)
}

// drivingQuote picks the quote that selects the children of node: the
// quote already selected in its level if it has replies, otherwise the
// node's most replied quote. Nil means node has no replies at all.
func (e *Engine) drivingQuote(ctx context.Context, st *State, nodeID string, selected *quotes.Quote) (*quotes.Quote, error) {
	counts, err := e.countsFor(ctx, st, nodeID)
	if err != nil {
		return nil, err
	}
	if selected != nil && selected.SourceID == nodeID && quotes.HasReplies(counts, selected) {
		return cloneQuote(selected), nil
	}
	return quotes.DefaultQuote(counts), nil
}

// fetchLevel builds level n from the first page of parentID's replies on
// driving. Callers must hold loadMu.
func (e *Engine) fetchLevel(ctx context.Context, st *State, n int, parentID string, driving *quotes.Quote) Level {
	lvl := Level{Number: n, ParentID: parentID, QuoteInParent: cloneQuote(driving)}
	if driving == nil {
		lvl.Terminal = true
		return lvl
	}

	var page *pagePayload
	err := e.withRetry(ctx, func(ctx context.Context) error {
		p, err := e.backend.ListReplies(ctx, parentID, *driving, "", e.cfg.PageSize)
		if err != nil {
			return err
		}
		page = fromPage(p)
		return nil
	})
	if err != nil {
		e.logger.Warn("level load failed", "level", n, "parent_id", parentID, "error", err)
		lvl.Terminal = true
		lvl.Err = err.Error()
		return lvl
	}

	lvl.TotalCount = page.total
	if len(page.nodes) == 0 {
		lvl.Terminal = true
		return lvl
	}
	lvl.Siblings = page.nodes
	lvl.Cursor = page.cursor
	lvl.HasMore = page.hasMore
	lvl.SelectedNodeID = page.nodes[0].ID

	counts, err := e.countsFor(ctx, st, lvl.SelectedNodeID)
	if err != nil {
		lvl.Err = fmt.Sprintf("quote counts: %v", err)
		return lvl
	}
	lvl.SelectedQuote = quotes.DefaultQuote(counts)
	return lvl
}

// Initialize loads the root post as level 0 and the first level of replies
// under its most replied quote. Re-initializing resets the state.
func (e *Engine) Initialize(ctx context.Context, st *State, rootPostID string) error {
	var root Node
	err := e.withRetry(ctx, func(ctx context.Context) error {
		p, err := e.backend.GetPost(ctx, rootPostID)
		if err != nil {
			return err
		}
		root = nodeFromPost(p)
		return nil
	})
	if err != nil {
		st.setErr(err)
		return fmt.Errorf("failed to load root post %s: %w", rootPostID, err)
	}

	st.mu.Lock()
	st.rootPostID = rootPostID
	st.levels = []Level{{
		Number:         0,
		Siblings:       []Node{root},
		SelectedNodeID: rootPostID,
	}}
	st.counts = make(map[string][]quotes.Count)
	st.initialized = true
	st.lastErr = nil
	st.epoch++
	epoch := st.epoch
	st.mu.Unlock()
	e.counts.Forget(rootPostID)

	counts, err := e.countsFor(ctx, st, rootPostID)
	if err != nil {
		e.applyLevel(st, epoch, Level{Number: 1, ParentID: rootPostID, Terminal: true, Err: err.Error()}, nil)
		return nil
	}
	defaultQuote := quotes.DefaultQuote(counts)

	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	lvl := e.fetchLevel(ctx, st, 1, rootPostID, defaultQuote)
	e.applyLevel(st, epoch, lvl, defaultQuote)
	return nil
}

// applyLevel appends lvl if the state is still on the branch it was
// fetched for. driving, when set, becomes the parent level's selected quote.
func (e *Engine) applyLevel(st *State, epoch uint64, lvl Level, driving *quotes.Quote) bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.epoch != epoch || len(st.levels) != lvl.Number {
		e.logger.Debug("discarding stale level", "level", lvl.Number, "epoch", epoch, "current_epoch", st.epoch)
		return false
	}
	if driving != nil {
		st.levels[lvl.Number-1].SelectedQuote = cloneQuote(driving)
	}
	st.levels = append(st.levels, lvl)
	return true
}

func (e *Engine) checkLevel(st *State, op string, n int) (Level, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if !st.initialized {
		return Level{}, stateErr(op, "traversal not initialized")
	}
	if n < 0 || n >= len(st.levels) {
		return Level{}, stateErr(op, "level %d not loaded", n)
	}
	lvl := st.levels[n]
	if lvl.Terminal {
		return Level{}, stateErr(op, "level %d is terminal", n)
	}
	return lvl.clone(), nil
}

// SelectNode makes nodeID the selected sibling of level n. Level n+1 is
// refetched only if the quote driving it changes; deeper levels are
// discarded when it does.
func (e *Engine) SelectNode(ctx context.Context, st *State, n int, nodeID string) error {
	lvl, err := e.checkLevel(st, "select node", n)
	if err != nil {
		return err
	}
	found := false
	for _, s := range lvl.Siblings {
		if s.ID == nodeID {
			found = true
			break
		}
	}
	if !found {
		return stateErr("select node", "node %s is not in level %d", nodeID, n)
	}

	driving, err := e.drivingQuote(ctx, st, nodeID, lvl.SelectedQuote)
	if err != nil {
		st.mu.Lock()
		if n < len(st.levels) {
			st.levels[n].SelectedNodeID = nodeID
			st.levels[n].SelectedQuote = nil
			st.levels = append(st.levels[:n+1], Level{Number: n + 1, ParentID: nodeID, Terminal: true, Err: err.Error()})
			st.epoch++
		}
		st.mu.Unlock()
		return nil
	}

	st.mu.Lock()
	if n >= len(st.levels) || st.levels[n].Terminal {
		st.mu.Unlock()
		return stateErr("select node", "level %d changed during selection", n)
	}
	st.levels[n].SelectedNodeID = nodeID
	st.levels[n].SelectedQuote = cloneQuote(driving)
	if n+1 < len(st.levels) {
		next := &st.levels[n+1]
		if quotes.Equal(next.QuoteInParent, driving) {
			// a nil quote means a content-free terminal; only its parent moves
			next.ParentID = nodeID
			st.mu.Unlock()
			return nil
		}
	}
	st.levels = st.levels[:n+1]
	st.epoch++
	epoch := st.epoch
	st.mu.Unlock()

	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	e.applyLevel(st, epoch, e.fetchLevel(ctx, st, n+1, nodeID, driving), nil)
	return nil
}

// SelectQuote selects quote in level n's selected node and unconditionally
// reloads level n+1 for it. A quote without replies yields a terminal level.
func (e *Engine) SelectQuote(ctx context.Context, st *State, n int, quote quotes.Quote) error {
	lvl, err := e.checkLevel(st, "select quote", n)
	if err != nil {
		return err
	}
	if quote.SourceID != lvl.SelectedNodeID {
		return stateErr("select quote", "quote is from %s, not the selected node %s", quote.SourceID, lvl.SelectedNodeID)
	}
	selected := cloneQuote(&quote)

	st.mu.Lock()
	if n >= len(st.levels) || st.levels[n].SelectedNodeID != lvl.SelectedNodeID {
		st.mu.Unlock()
		return stateErr("select quote", "level %d changed during selection", n)
	}
	st.levels[n].SelectedQuote = selected
	st.levels = st.levels[:n+1]
	st.epoch++
	epoch := st.epoch
	st.mu.Unlock()

	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	e.applyLevel(st, epoch, e.fetchLevel(ctx, st, n+1, lvl.SelectedNodeID, selected), nil)
	return nil
}

// LoadMoreSiblings appends up to count further siblings to level n
func (e *Engine) LoadMoreSiblings(ctx context.Context, st *State, n int, count int) error {
	if _, err := e.checkLevel(st, "load more siblings", n); err != nil {
		return err
	}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	lvl, err := e.checkLevel(st, "load more siblings", n)
	if err != nil {
		return err
	}
	if !lvl.HasMore || lvl.QuoteInParent == nil {
		return nil
	}

	var page *pagePayload
	err = e.withRetry(ctx, func(ctx context.Context) error {
		p, err := e.backend.ListReplies(ctx, lvl.ParentID, *lvl.QuoteInParent, lvl.Cursor, pagination.ClampLimit(count))
		if err != nil {
			return err
		}
		page = fromPage(p)
		return nil
	})
	if err != nil {
		st.setErr(err)
		return fmt.Errorf("failed to load more siblings for level %d: %w", n, err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if n >= len(st.levels) {
		return nil
	}
	cur := &st.levels[n]
	if cur.ParentID != lvl.ParentID || !quotes.Equal(cur.QuoteInParent, lvl.QuoteInParent) || cur.Cursor != lvl.Cursor {
		return nil
	}
	seen := make(map[string]bool, len(cur.Siblings))
	for _, s := range cur.Siblings {
		seen[s.ID] = true
	}
	for _, node := range page.nodes {
		if !seen[node.ID] {
			cur.Siblings = append(cur.Siblings, node)
		}
	}
	cur.Cursor = page.cursor
	cur.HasMore = page.hasMore
	cur.TotalCount = page.total
	return nil
}

// NextSibling selects the sibling after the current one, loading another
// page first when the end of the loaded siblings is reached.
func (e *Engine) NextSibling(ctx context.Context, st *State, n int) error {
	lvl, err := e.checkLevel(st, "next sibling", n)
	if err != nil {
		return err
	}
	idx := lvl.SelectedIndex()
	if idx+1 >= len(lvl.Siblings) {
		if !lvl.HasMore {
			return nil
		}
		if err := e.LoadMoreSiblings(ctx, st, n, e.cfg.PageSize); err != nil {
			return err
		}
		if lvl, err = e.checkLevel(st, "next sibling", n); err != nil {
			return err
		}
		idx = lvl.SelectedIndex()
		if idx+1 >= len(lvl.Siblings) {
			return nil
		}
	}
	return e.SelectNode(ctx, st, n, lvl.Siblings[idx+1].ID)
}

// PrevSibling selects the sibling before the current one
func (e *Engine) PrevSibling(ctx context.Context, st *State, n int) error {
	lvl, err := e.checkLevel(st, "previous sibling", n)
	if err != nil {
		return err
	}
	idx := lvl.SelectedIndex()
	if idx <= 0 {
		return nil
	}
	return e.SelectNode(ctx, st, n, lvl.Siblings[idx-1].ID)
}

// SubmitReply creates a reply to parentID on quote and returns its id.
// The parent's counts and the level listing its children are refreshed in
// the background; WaitIdle waits for that refresh.
func (e *Engine) SubmitReply(ctx context.Context, st *State, parentID string, quote quotes.Quote, text string) (string, error) {
	st.mu.RLock()
	initialized := st.initialized
	st.mu.RUnlock()
	if !initialized {
		return "", stateErr("submit reply", "traversal not initialized")
	}

	id, err := e.backend.CreateReply(ctx, parentID, quote, text)
	if err != nil {
		return "", err
	}

	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RefreshTimeout)
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		defer cancel()
		if err := e.refreshAfterReply(refreshCtx, st, parentID); err != nil {
			e.logger.Warn("refresh after reply failed", "parent_id", parentID, "error", err)
			st.setErr(err)
		}
	}()
	return id, nil
}

func (e *Engine) refreshAfterReply(ctx context.Context, st *State, parentID string) error {
	e.forgetCounts(st, parentID)
	if _, err := e.countsFor(ctx, st, parentID); err != nil {
		return err
	}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	st.mu.RLock()
	k := -1
	for i := 1; i < len(st.levels); i++ {
		if st.levels[i].ParentID == parentID {
			k = i
			break
		}
	}
	if k < 0 {
		st.mu.RUnlock()
		return nil
	}
	prev := st.levels[k-1].clone()
	existing := st.levels[k].clone()
	epoch := st.epoch
	st.mu.RUnlock()

	if prev.SelectedNodeID != parentID {
		return nil
	}
	driving, err := e.drivingQuote(ctx, st, parentID, prev.SelectedQuote)
	if err != nil {
		return err
	}
	lvl := e.fetchLevel(ctx, st, k, parentID, driving)

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.epoch != epoch || k >= len(st.levels) || st.levels[k].ParentID != parentID {
		return nil
	}
	if driving != nil {
		st.levels[k-1].SelectedQuote = cloneQuote(driving)
	}
	if !existing.Terminal && !lvl.Terminal && quotes.Equal(existing.QuoteInParent, lvl.QuoteInParent) {
		for _, s := range lvl.Siblings {
			if s.ID == existing.SelectedNodeID {
				lvl.SelectedNodeID = existing.SelectedNodeID
				lvl.SelectedQuote = existing.SelectedQuote
				st.levels[k] = lvl
				return nil
			}
		}
	}
	st.levels = append(st.levels[:k], lvl)
	st.epoch++
	return nil
}
