// Package redis implements the deadletter store on Redis. Each entry
// lives in its own Hash; a Set tracks entry IDs for enumeration and a
// dedup Hash maps idempotency keys to entry IDs.
//
// Suited to dispatchers that already run Redis and want the queue
// reachable from more than one process. Note that Redis persistence
// guarantees are whatever the server is configured for; for strict
// durability prefer the file, sqlite, or postgres backends.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/deadletter"
	"github.com/xraph/deadletter/id"
)

// Ensure Store implements the persistence contract at compile time.
var _ deadletter.Store = (*Store)(nil)

// Store is a Redis implementation of deadletter.Store.
type Store struct {
	client *goredis.Client
}

// New creates a Redis store over an existing client.
func New(client *goredis.Client) *Store {
	return &Store{client: client}
}

// Migrate is a no-op for the Redis store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping checks server connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// CreateEntry writes the entry Hash and registers it in the ID set and
// the dedup Hash in one transaction. A live mapping for the same
// idempotency key rejects the create; a stale mapping left by an
// interrupted delete is overwritten.
func (s *Store) CreateEntry(ctx context.Context, e *deadletter.Entry) error {
	fields, err := entryToMap(e)
	if err != nil {
		return err
	}
	eID := e.ID.String()

	prevID, err := s.client.HGet(ctx, dedupKey, e.IdempotencyKey).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("deadletter/redis: create entry dedup check: %w", err)
	}
	if err == nil {
		exists, existsErr := s.client.Exists(ctx, entryKey(prevID)).Result()
		if existsErr != nil {
			return fmt.Errorf("deadletter/redis: create entry dedup check: %w", existsErr)
		}
		if exists > 0 {
			return deadletter.ErrDuplicateEntry
		}
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, entryKey(eID), fields)
	pipe.SAdd(ctx, entryIDsKey, eID)
	pipe.HSet(ctx, dedupKey, e.IdempotencyKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deadletter/redis: create entry: %w", err)
	}
	return nil
}

// UpdateEntry rewrites the entry Hash.
func (s *Store) UpdateEntry(ctx context.Context, e *deadletter.Entry) error {
	eID := e.ID.String()
	exists, err := s.client.Exists(ctx, entryKey(eID)).Result()
	if err != nil {
		return fmt.Errorf("deadletter/redis: update entry exists: %w", err)
	}
	if exists == 0 {
		return deadletter.ErrEntryNotFound
	}

	fields, err := entryToMap(e)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, entryKey(eID), fields).Err(); err != nil {
		return fmt.Errorf("deadletter/redis: update entry: %w", err)
	}
	return nil
}

// GetEntry retrieves an entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.EntryID) (*deadletter.Entry, error) {
	vals, err := s.client.HGetAll(ctx, entryKey(entryID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("deadletter/redis: get entry: %w", err)
	}
	if len(vals) == 0 {
		return nil, deadletter.ErrEntryNotFound
	}
	return mapToEntry(vals)
}

// FindByKey resolves an idempotency key through the dedup Hash. A dedup
// mapping whose entry Hash has vanished is pruned and treated as absent.
func (s *Store) FindByKey(ctx context.Context, key string) (*deadletter.Entry, error) {
	eID, err := s.client.HGet(ctx, dedupKey, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, deadletter.ErrEntryNotFound
		}
		return nil, fmt.Errorf("deadletter/redis: find by key: %w", err)
	}

	vals, err := s.client.HGetAll(ctx, entryKey(eID)).Result()
	if err != nil {
		return nil, fmt.Errorf("deadletter/redis: find by key get: %w", err)
	}
	if len(vals) == 0 {
		// Stale mapping left by an interrupted delete.
		_ = s.client.HDel(ctx, dedupKey, key).Err()
		return nil, deadletter.ErrEntryNotFound
	}
	return mapToEntry(vals)
}

// ListEntries enumerates the ID set and filters in process, oldest
// first. Entries that fail to decode are skipped rather than aborting
// the enumeration.
func (s *Store) ListEntries(ctx context.Context, f deadletter.Filter) ([]*deadletter.Entry, error) {
	ids, err := s.client.SMembers(ctx, entryIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("deadletter/redis: list entries: %w", err)
	}

	entries := make([]*deadletter.Entry, 0, len(ids))
	for _, eID := range ids {
		vals, getErr := s.client.HGetAll(ctx, entryKey(eID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		e, convErr := mapToEntry(vals)
		if convErr != nil {
			continue
		}
		if !f.Matches(e) {
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].ID.String() < entries[j].ID.String()
		}
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// DeleteEntry removes the entry Hash, its ID set member, and its dedup
// mapping in one transaction.
func (s *Store) DeleteEntry(ctx context.Context, entryID id.EntryID) error {
	eID := entryID.String()

	e, err := s.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, entryKey(eID))
	pipe.SRem(ctx, entryIDsKey, eID)
	pipe.HDel(ctx, dedupKey, e.IdempotencyKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deadletter/redis: delete entry: %w", err)
	}
	return nil
}

// ── helpers ──

func entryToMap(e *deadletter.Entry) (map[string]any, error) {
	operation, err := json.Marshal(e.Operation)
	if err != nil {
		return nil, fmt.Errorf("deadletter/redis: encode operation: %w", err)
	}
	errRec, err := json.Marshal(e.Error)
	if err != nil {
		return nil, fmt.Errorf("deadletter/redis: encode error record: %w", err)
	}
	origin, err := json.Marshal(e.Context)
	if err != nil {
		return nil, fmt.Errorf("deadletter/redis: encode context: %w", err)
	}

	return map[string]any{
		"id":              e.ID.String(),
		"timestamp":       e.Timestamp.UTC().Format(time.RFC3339Nano),
		"operation":       string(operation),
		"error":           string(errRec),
		"context":         string(origin),
		"attempts":        strconv.Itoa(e.Attempts),
		"last_attempt":    e.LastAttempt.UTC().Format(time.RFC3339Nano),
		"status":          string(e.Status),
		"idempotency_key": e.IdempotencyKey,
	}, nil
}

func mapToEntry(m map[string]string) (*deadletter.Entry, error) {
	entryID, err := id.ParseEntryID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("deadletter/redis: parse entry id: %w", err)
	}

	e := &deadletter.Entry{
		ID:             entryID,
		Status:         deadletter.Status(m["status"]),
		IdempotencyKey: m["idempotency_key"],
	}

	e.Attempts, _ = strconv.Atoi(m["attempts"])                        //nolint:errcheck // best-effort parse from trusted Redis data
	e.Timestamp, _ = time.Parse(time.RFC3339Nano, m["timestamp"])      //nolint:errcheck // best-effort parse from trusted Redis data
	e.LastAttempt, _ = time.Parse(time.RFC3339Nano, m["last_attempt"]) //nolint:errcheck // best-effort parse from trusted Redis data

	if err := json.Unmarshal([]byte(m["operation"]), &e.Operation); err != nil {
		return nil, fmt.Errorf("deadletter/redis: decode operation: %w", err)
	}
	if err := json.Unmarshal([]byte(m["error"]), &e.Error); err != nil {
		return nil, fmt.Errorf("deadletter/redis: decode error record: %w", err)
	}
	if err := json.Unmarshal([]byte(m["context"]), &e.Context); err != nil {
		return nil, fmt.Errorf("deadletter/redis: decode context: %w", err)
	}
	return e, nil
}
