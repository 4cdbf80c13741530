package pagination

// Limits for page sizes
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ClampLimit bounds a requested page size to [1, MaxLimit].
// A non-positive request yields DefaultLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Position is the sort position of an index entry
type Position struct {
	ID    string
	Score int64
}

// Result is one page of an index, newest first
type Result[T any] struct {
	NextCursor *string
	Items      []T
	TotalCount int
	HasMore    bool
}

// Trim turns a limit+1 fetch into a page. rows must be ordered by the index
// order and may hold at most one extra element beyond limit; its presence
// means there is another page. pos reports the position of a row.
func Trim[T any](rows []T, limit int, kind string, total int, pos func(T) Position) Result[T] {
	res := Result[T]{Items: rows, TotalCount: total}
	if len(rows) > limit {
		res.Items = rows[:limit]
		res.HasMore = true
		last := pos(res.Items[len(res.Items)-1])
		next := Encode(Cursor{ID: last.ID, Timestamp: last.Score, Kind: kind})
		res.NextCursor = &next
	}
	if res.Items == nil {
		res.Items = []T{}
	}
	return res
}

// After reports whether p sorts strictly after the cursor in descending
// (score, id) order, i.e. belongs on a later page.
func (c *Cursor) After(p Position) bool {
	if c == nil {
		return true
	}
	if p.Score != c.Timestamp {
		return p.Score < c.Timestamp
	}
	return p.ID < c.ID
}
