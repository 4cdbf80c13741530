package traversal

import (
	"Marginalia/internal/core/posts"
	"Marginalia/internal/core/quotes"
	"Marginalia/internal/core/replies"
	"sync"
	"time"
)

// Node is a post or reply shown in a level
type Node struct {
	CreatedAt time.Time
	ID        string
	Text      string
	AuthorID  string
	IsPost    bool
}

func nodeFromPost(p *posts.Post) Node {
	return Node{ID: p.ID, Text: p.Content, AuthorID: p.AuthorID, CreatedAt: p.CreatedAt, IsPost: true}
}

func nodeFromReply(r *replies.Reply) Node {
	return Node{ID: r.ID, Text: r.Text, AuthorID: r.AuthorID, CreatedAt: r.CreatedAt}
}

// Level is one depth of the visible branch. Level 0 holds the root post.
// A Terminal level has no siblings and nothing can be loaded below it.
type Level struct {
	// QuoteInParent is the quote of the parent's text this level answers
	QuoteInParent *quotes.Quote
	// SelectedQuote drives the next level
	SelectedQuote  *quotes.Quote
	ParentID       string
	SelectedNodeID string
	Err            string
	Cursor         string
	Siblings       []Node
	Number         int
	TotalCount     int
	HasMore        bool
	Terminal       bool
}

// SelectedIndex returns the position of the selected sibling, or -1
func (l *Level) SelectedIndex() int {
	for i := range l.Siblings {
		if l.Siblings[i].ID == l.SelectedNodeID {
			return i
		}
	}
	return -1
}

func (l Level) clone() Level {
	out := l
	out.Siblings = append([]Node(nil), l.Siblings...)
	out.QuoteInParent = cloneQuote(l.QuoteInParent)
	out.SelectedQuote = cloneQuote(l.SelectedQuote)
	return out
}

func cloneQuote(q *quotes.Quote) *quotes.Quote {
	if q == nil {
		return nil
	}
	c := *q
	if q.SelectionRange != nil {
		r := *q.SelectionRange
		c.SelectionRange = &r
	}
	return &c
}

// State is the traversal of one discussion tree. It is passed to every
// Engine operation; the engine keeps no per-tree state of its own.
type State struct {
	lastErr     error
	counts      map[string][]quotes.Count
	rootPostID  string
	levels      []Level
	epoch       uint64
	mu          sync.RWMutex
	initialized bool
}

// NewState returns an empty, uninitialized traversal state
func NewState() *State {
	return &State{counts: make(map[string][]quotes.Count)}
}

// Levels returns a copy of the current levels
func (s *State) Levels() []Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Level, len(s.levels))
	for i := range s.levels {
		out[i] = s.levels[i].clone()
	}
	return out
}

// Level returns a copy of level n
func (s *State) Level(n int) (Level, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n < 0 || n >= len(s.levels) {
		return Level{}, false
	}
	return s.levels[n].clone(), true
}

// Counts returns the cached quote counts of a node
func (s *State) Counts(nodeID string) ([]quotes.Count, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.counts[nodeID]
	return append([]quotes.Count(nil), c...), ok
}

// RootPostID returns the post the traversal was initialized with
func (s *State) RootPostID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rootPostID
}

// Err returns the last error recorded by a background operation
func (s *State) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

func (s *State) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}
