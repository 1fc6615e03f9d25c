package deadletter

import (
	"context"

	"github.com/xraph/deadletter/id"
)

// Store defines the persistence contract for dead letter entries.
// Backends: File (the reference JSON-per-entry layout), SQLite,
// Postgres, Redis, and Memory.
//
// Reads that resolve to no entry return ErrEntryNotFound. Write
// failures propagate wrapped; the Manager surfaces them unmodified.
type Store interface {
	// CreateEntry persists a brand-new entry and records its
	// idempotency key in the backend's dedup index.
	CreateEntry(ctx context.Context, e *Entry) error

	// UpdateEntry rewrites the authoritative state of an existing
	// entry. The dedup index is append-only and is not rewritten.
	UpdateEntry(ctx context.Context, e *Entry) error

	// GetEntry retrieves an entry by ID.
	GetEntry(ctx context.Context, entryID id.EntryID) (*Entry, error)

	// FindByKey resolves an idempotency key to its entry.
	FindByKey(ctx context.Context, key string) (*Entry, error)

	// ListEntries returns all entries matching the filter, ordered by
	// creation time ascending.
	ListEntries(ctx context.Context, f Filter) ([]*Entry, error)

	// DeleteEntry hard-deletes an entry.
	DeleteEntry(ctx context.Context, entryID id.EntryID) error

	// Migrate prepares the backend (directories, schema).
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
