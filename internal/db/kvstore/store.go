// Package kvstore implements the post, reply and quote aggregate
// repositories on an embedded Pebble database.
package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// errNotFound is returned by the internal getters for missing keys
var errNotFound = errors.New("kvstore: key not found")

// Store wraps a pebble database with per-key write locks
type Store struct {
	db     *pebble.DB
	locks  *keyLocks
	logger *slog.Logger
}

// Open opens (or creates) a pebble database at path.
// If logger is nil, slog.Default() is used.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("kvstore: path is required")
	}
	return open(path, &pebble.Options{}, logger)
}

// OpenInMemory opens a database backed by an in-memory filesystem.
// Used by tests and ephemeral dev servers.
func OpenInMemory(logger *slog.Logger) (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()}, logger)
}

func open(path string, opts *pebble.Options, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %q: %w", path, err)
	}
	logger.Info("pebble store opened", "path", path)
	return &Store{db: db, locks: newKeyLocks(), logger: logger}, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is readable
func (s *Store) Ping() error {
	_, err := s.get([]byte("__ping__"))
	if err != nil && !errors.Is(err, errNotFound) {
		return err
	}
	return nil
}

// get returns a copy of the value stored at key
func (s *Store) get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), value...)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) getJSON(key []byte, v interface{}) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("corrupt value at %s: %w", key, err)
	}
	return nil
}

func setJSON(b *pebble.Batch, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return b.Set(key, data, nil)
}

// scanDesc walks the keys under prefix from newest to oldest, starting
// strictly before seek when it is non-nil, until fn returns false.
func (s *Store) scanDesc(prefix string, seek []byte, fn func(key []byte) bool) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	var ok bool
	if seek == nil {
		ok = iter.Last()
	} else {
		ok = iter.SeekLT(seek)
	}
	for ; ok; ok = iter.Prev() {
		if !fn(iter.Key()) {
			break
		}
	}
	return iter.Error()
}

// scanAsc walks every key under prefix in ascending order
func (s *Store) scanAsc(prefix string, fn func(key []byte)) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for ok := iter.First(); ok; ok = iter.Next() {
		fn(iter.Key())
	}
	return iter.Error()
}
