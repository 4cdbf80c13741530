package quotes

import (
	"sort"
	"time"
)

// Count is one entry of a parent's quote aggregate.
type Count struct {
	FirstSeen time.Time `json:"-"`
	Quote     Quote     `json:"quote"`
	Key       Key       `json:"-"`
	Count     int64     `json:"count"`
	// Indexed counts the replies holding their own entry in the parent+quote
	// index. Replies redirected into a duplicate group are counted in Count only.
	Indexed int64 `json:"-"`
}

// SortCounts orders entries by count descending, then first seen, then key.
func SortCounts(counts []Count) {
	sort.SliceStable(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		if !counts[i].FirstSeen.Equal(counts[j].FirstSeen) {
			return counts[i].FirstSeen.Before(counts[j].FirstSeen)
		}
		return counts[i].Key < counts[j].Key
	})
}

// DefaultQuote returns the quote with the highest count. Ties go to the
// first entry in the given order. Returns nil for an empty aggregate.
func DefaultQuote(counts []Count) *Quote {
	best := -1
	for i := range counts {
		if counts[i].Count <= 0 {
			continue
		}
		if best < 0 || counts[i].Count > counts[best].Count {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	q := counts[best].Quote
	return &q
}

// HasReplies reports whether q has at least one reply according to counts.
func HasReplies(counts []Count, q *Quote) bool {
	if q == nil {
		return false
	}
	for i := range counts {
		if counts[i].Count > 0 && counts[i].Quote.Equal(*q) {
			return true
		}
	}
	return false
}
