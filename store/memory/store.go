// Package memory provides a fully in-memory deadletter store. Safe for
// concurrent access. Intended for unit testing and development; nothing
// survives the process.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xraph/deadletter"
	"github.com/xraph/deadletter/id"
)

// Ensure Store implements the persistence contract at compile time.
var _ deadletter.Store = (*Store)(nil)

// Store is an in-memory implementation of deadletter.Store.
type Store struct {
	mu sync.RWMutex

	// entries is keyed by entry ID string; keys maps idempotency key to
	// entry ID — the in-memory analog of the file backend's index log.
	entries map[string]*deadletter.Entry
	keys    map[string]string
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		entries: make(map[string]*deadletter.Entry),
		keys:    make(map[string]string),
	}
}

// Migrate is a no-op for the memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// CreateEntry persists a brand-new entry and records its idempotency key.
func (s *Store) CreateEntry(_ context.Context, e *deadletter.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	eID := e.ID.String()
	if _, exists := s.entries[eID]; exists {
		return deadletter.ErrDuplicateEntry
	}
	if _, exists := s.keys[e.IdempotencyKey]; exists {
		return deadletter.ErrDuplicateEntry
	}

	s.entries[eID] = e.Clone()
	s.keys[e.IdempotencyKey] = eID
	return nil
}

// UpdateEntry rewrites the state of an existing entry.
func (s *Store) UpdateEntry(_ context.Context, e *deadletter.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	eID := e.ID.String()
	if _, exists := s.entries[eID]; !exists {
		return deadletter.ErrEntryNotFound
	}
	s.entries[eID] = e.Clone()
	return nil
}

// GetEntry retrieves an entry by ID.
func (s *Store) GetEntry(_ context.Context, entryID id.EntryID) (*deadletter.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[entryID.String()]
	if !ok {
		return nil, deadletter.ErrEntryNotFound
	}
	return e.Clone(), nil
}

// FindByKey resolves an idempotency key to its entry.
func (s *Store) FindByKey(_ context.Context, key string) (*deadletter.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	eID, ok := s.keys[key]
	if !ok {
		return nil, deadletter.ErrEntryNotFound
	}
	e, ok := s.entries[eID]
	if !ok {
		return nil, deadletter.ErrEntryNotFound
	}
	return e.Clone(), nil
}

// ListEntries returns entries matching the filter, oldest first.
func (s *Store) ListEntries(_ context.Context, f deadletter.Filter) ([]*deadletter.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*deadletter.Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !f.Matches(e) {
			continue
		}
		matched = append(matched, e.Clone())
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	return matched, nil
}

// DeleteEntry hard-deletes an entry. The key mapping goes with it, so a
// later failure of the same operation creates a fresh entry.
func (s *Store) DeleteEntry(_ context.Context, entryID id.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	eID := entryID.String()
	e, ok := s.entries[eID]
	if !ok {
		return deadletter.ErrEntryNotFound
	}
	delete(s.entries, eID)
	delete(s.keys, e.IdempotencyKey)
	return nil
}
