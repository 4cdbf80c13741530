package kvstore

import (
	"sort"
	"sync"
)

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyLocks serializes read-modify-write cycles per logical key.
// Writers touching disjoint keys never wait on each other.
type keyLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

func newKeyLocks() *keyLocks {
	return &keyLocks{entries: make(map[string]*lockEntry)}
}

// lock acquires every named lock in sorted order and returns the release func.
func (k *keyLocks) lock(names ...string) func() {
	names = dedupeSorted(names)

	held := make([]*lockEntry, 0, len(names))
	for _, name := range names {
		k.mu.Lock()
		e, ok := k.entries[name]
		if !ok {
			e = &lockEntry{}
			k.entries[name] = e
		}
		e.refs++
		k.mu.Unlock()

		e.mu.Lock()
		held = append(held, e)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
		}
		k.mu.Lock()
		for i, name := range names {
			held[i].refs--
			if held[i].refs == 0 {
				delete(k.entries, name)
			}
		}
		k.mu.Unlock()
	}
}

func dedupeSorted(names []string) []string {
	out := append([]string(nil), names...)
	sort.Strings(out)
	j := 0
	for i := range out {
		if i == 0 || out[i] != out[j-1] {
			out[j] = out[i]
			j++
		}
	}
	return out[:j]
}
