// Package file implements the reference deadletter persistence layout:
// one JSON document per entry plus an append-only index.jsonl dedup log,
// all under a configured base directory.
//
// Every entry file is independently readable and writable, and the index
// is append-only, which keeps contention low compared to a single shared
// mutable store. Entry files are the authoritative state; the index only
// resolves idempotency keys to entry IDs. Stale status values in old
// index lines are expected and ignored.
//
// Crash ordering: a new entry's file is written (and synced into place
// via rename) before its index line is appended, so the index never
// points at an entry that was lost mid-write.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/xraph/deadletter"
	"github.com/xraph/deadletter/id"
)

// IndexFile is the name of the append-only dedup log inside the base
// directory. Entry enumeration skips it.
const IndexFile = "index.jsonl"

// Ensure Store implements the persistence contract at compile time.
var _ deadletter.Store = (*Store)(nil)

// Store persists entries as JSON files under a base directory.
type Store struct {
	dir    string
	logger *slog.Logger

	// mu serializes index appends and every entry file write against
	// deletes, so an update cannot pass its existence check and then
	// recreate a file a concurrent delete just removed.
	mu sync.Mutex
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a file store rooted at dir. The directory is created if it
// does not exist yet.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{dir: dir, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureDir(); err != nil {
		return nil, err
	}
	return s, nil
}

// Migrate creates the base directory. Idempotent.
func (s *Store) Migrate(_ context.Context) error { return s.ensureDir() }

// Ping verifies the base directory is accessible.
func (s *Store) Ping(_ context.Context) error {
	info, err := os.Stat(s.dir)
	if err != nil {
		return fmt.Errorf("deadletter/file: ping: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("deadletter/file: ping: %s is not a directory", s.dir)
	}
	return nil
}

// Close is a no-op; the store holds no long-lived handles.
func (s *Store) Close() error { return nil }

// CreateEntry writes the entry's file and appends its index record.
func (s *Store) CreateEntry(_ context.Context, e *deadletter.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureDir(); err != nil {
		return err
	}

	path := s.entryPath(e.ID)
	if _, err := os.Stat(path); err == nil {
		return deadletter.ErrDuplicateEntry
	}

	if err := s.writeEntry(e); err != nil {
		return err
	}
	return s.appendIndex(indexRecord{
		ID:             e.ID.String(),
		Timestamp:      e.Timestamp,
		IdempotencyKey: e.IdempotencyKey,
		Verb:           e.Operation.Verb,
		Status:         e.Status,
	})
}

// UpdateEntry rewrites an existing entry's file. The index is
// append-only and stays untouched.
func (s *Store) UpdateEntry(_ context.Context, e *deadletter.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.entryPath(e.ID)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return deadletter.ErrEntryNotFound
		}
		return fmt.Errorf("deadletter/file: update entry: %w", err)
	}
	return s.writeEntry(e)
}

// GetEntry loads an entry's file.
func (s *Store) GetEntry(_ context.Context, entryID id.EntryID) (*deadletter.Entry, error) {
	return s.readEntry(s.entryPath(entryID))
}

// FindByKey scans the index log for the key, then loads the resolved
// entry file for current state. Corrupt index lines are skipped — one
// bad line must not blind the lookup to all others — and stale lines
// whose entry file was hard-deleted are ignored.
func (s *Store) FindByKey(_ context.Context, key string) (*deadletter.Entry, error) {
	f, err := os.Open(filepath.Join(s.dir, IndexFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// No index yet means no prior entries.
			return nil, deadletter.ErrEntryNotFound
		}
		return nil, fmt.Errorf("deadletter/file: open index: %w", err)
	}
	defer f.Close()

	scanner := newIndexScanner(f)
	for scanner.Scan() {
		rec, ok := scanner.Record()
		if !ok {
			s.logger.Warn("skipping corrupt index line",
				slog.Int("line", scanner.Line()),
			)
			continue
		}
		if rec.IdempotencyKey != key {
			continue
		}

		entryID, parseErr := id.ParseEntryID(rec.ID)
		if parseErr != nil {
			s.logger.Warn("skipping index line with bad entry id",
				slog.Int("line", scanner.Line()),
				slog.String("id", rec.ID),
			)
			continue
		}

		e, getErr := s.readEntry(s.entryPath(entryID))
		if errors.Is(getErr, deadletter.ErrEntryNotFound) {
			continue
		}
		return e, getErr
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("deadletter/file: scan index: %w", err)
	}
	return nil, deadletter.ErrEntryNotFound
}

// ListEntries enumerates every entry file (the index excluded), loads
// each, and filters in process. A missing base directory means no
// entries, not an error.
func (s *Store) ListEntries(_ context.Context, f deadletter.Filter) ([]*deadletter.Entry, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("deadletter/file: list entries: %w", err)
	}

	var matched []*deadletter.Entry
	for _, de := range dirents {
		name := de.Name()
		if de.IsDir() || name == IndexFile || !strings.HasSuffix(name, ".json") {
			continue
		}

		e, readErr := s.readEntry(filepath.Join(s.dir, name))
		if readErr != nil {
			// An unreadable entry file must not abort the whole scan.
			s.logger.Warn("skipping unreadable entry file",
				slog.String("file", name),
				slog.String("error", readErr.Error()),
			)
			continue
		}
		if !f.Matches(e) {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})
	return matched, nil
}

// DeleteEntry removes the entry's file. Its index line stays behind and
// is treated as stale by FindByKey.
func (s *Store) DeleteEntry(_ context.Context, entryID id.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.entryPath(entryID)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return deadletter.ErrEntryNotFound
		}
		return fmt.Errorf("deadletter/file: delete entry: %w", err)
	}
	return nil
}

// ── helpers ──

func (s *Store) ensureDir() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("deadletter/file: create base dir: %w", err)
	}
	return nil
}

func (s *Store) entryPath(entryID id.EntryID) string {
	return filepath.Join(s.dir, entryID.String()+".json")
}

// writeEntry marshals the entry and moves it into place with a
// temp-file rename so readers never observe a partial document.
func (s *Store) writeEntry(e *deadletter.Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("deadletter/file: marshal entry: %w", err)
	}

	path := s.entryPath(e.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("deadletter/file: write entry: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("deadletter/file: rename entry: %w", err)
	}
	return nil
}

func (s *Store) readEntry(path string) (*deadletter.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, deadletter.ErrEntryNotFound
		}
		return nil, fmt.Errorf("deadletter/file: read entry: %w", err)
	}

	var e deadletter.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("deadletter/file: decode entry %s: %w", filepath.Base(path), err)
	}
	return &e, nil
}
