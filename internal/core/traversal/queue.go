package traversal

import (
	"Marginalia/internal/core/replies"
	"context"
	"runtime"
	"sort"
)

type queuedLoad struct {
	ctx   context.Context
	st    *State
	level int
}

type pagePayload struct {
	cursor  string
	nodes   []Node
	total   int
	hasMore bool
}

func fromPage(p *replies.Page) *pagePayload {
	out := &pagePayload{total: p.TotalCount, hasMore: p.HasMore}
	if p.NextCursor != nil {
		out.cursor = *p.NextCursor
	}
	out.nodes = make([]Node, 0, len(p.Items))
	for _, r := range p.Items {
		out.nodes = append(out.nodes, nodeFromReply(r))
	}
	return out
}

// LoadNextLevel queues a load of level n. A request for a level that is
// already filled, loading or queued is a no-op, as is any request below a
// terminal level. Requests for deeper levels are queued too: loads run one
// at a time in increasing level order, so level n runs after n-1 has been
// applied. An entry whose predecessor is missing or terminal when its turn
// comes is dropped. Use WaitIdle to wait for the queue to drain.
func (e *Engine) LoadNextLevel(ctx context.Context, st *State, n int) error {
	st.mu.RLock()
	if !st.initialized {
		st.mu.RUnlock()
		return stateErr("load next level", "traversal not initialized")
	}
	filled := len(st.levels)
	terminal := st.levels[filled-1].Terminal
	st.mu.RUnlock()
	if n < 1 {
		return stateErr("load next level", "level %d cannot be loaded", n)
	}
	if n < filled || terminal {
		return nil
	}

	e.qmu.Lock()
	defer e.qmu.Unlock()
	if e.loading != nil && e.loading.st == st && e.loading.level == n {
		return nil
	}
	for _, q := range e.queue {
		if q.st == st && q.level == n {
			return nil
		}
	}
	e.queue = append(e.queue, queuedLoad{ctx: ctx, st: st, level: n})
	sort.SliceStable(e.queue, func(i, j int) bool { return e.queue[i].level < e.queue[j].level })

	if e.pumpDone == nil {
		e.pumpDone = make(chan struct{})
		go e.pump(e.pumpDone)
	}
	return nil
}

func (e *Engine) pump(done chan struct{}) {
	defer close(done)
	for {
		e.qmu.Lock()
		if len(e.queue) == 0 {
			e.pumpDone = nil
			e.qmu.Unlock()
			return
		}
		item := e.queue[0]
		e.queue = e.queue[1:]
		e.loading = &item
		e.qmu.Unlock()

		e.loadQueued(item)
		e.qmu.Lock()
		e.loading = nil
		e.qmu.Unlock()
		runtime.Gosched()
	}
}

func (e *Engine) loadQueued(item queuedLoad) {
	ctx, st, n := item.ctx, item.st, item.level
	if ctx.Err() != nil {
		return
	}

	e.loadMu.Lock()
	defer e.loadMu.Unlock()

	st.mu.RLock()
	if len(st.levels) != n || st.levels[n-1].Terminal {
		st.mu.RUnlock()
		e.logger.Debug("dropping queued level load", "level", n, "filled", len(st.levels))
		return
	}
	prev := st.levels[n-1].clone()
	epoch := st.epoch
	st.mu.RUnlock()

	driving, err := e.drivingQuote(ctx, st, prev.SelectedNodeID, prev.SelectedQuote)
	if err != nil {
		e.logger.Warn("level load failed", "level", n, "parent_id", prev.SelectedNodeID, "error", err)
		e.applyLevel(st, epoch, Level{Number: n, ParentID: prev.SelectedNodeID, Terminal: true, Err: err.Error()}, nil)
		return
	}
	e.applyLevel(st, epoch, e.fetchLevel(ctx, st, n, prev.SelectedNodeID, driving), driving)
}

// WaitIdle blocks until queued level loads and background refreshes finish
func (e *Engine) WaitIdle(ctx context.Context) error {
	for {
		e.qmu.Lock()
		done := e.pumpDone
		e.qmu.Unlock()
		if done == nil {
			break
		}
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	bg := make(chan struct{})
	go func() {
		e.background.Wait()
		close(bg)
	}()
	select {
	case <-bg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
