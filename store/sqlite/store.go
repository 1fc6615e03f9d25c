// Package sqlite implements the deadletter store on an embedded SQLite
// database via modernc.org/sqlite (pure Go, no cgo). Suited to
// single-host dispatchers that want durable capture without running a
// database server.
//
// The operation, error, and context records are stored as JSON text
// columns; verb and error code are lifted into dedicated columns so
// list filters push down to SQL. The idempotency key carries a UNIQUE
// constraint — the relational analog of the file backend's index log.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/xraph/deadletter"
	"github.com/xraph/deadletter/id"
)

//go:embed schema.sql
var schemaSQL string

// Ensure Store implements the persistence contract at compile time.
var _ deadletter.Store = (*Store)(nil)

// Store is a SQLite implementation of deadletter.Store.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the database at path and applies the
// schema. Use ":memory:" for an ephemeral database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("deadletter/sqlite: open db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("deadletter/sqlite: apply pragma %q: %w", pragma, execErr)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the schema. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("%w: %v", deadletter.ErrMigrationFailed, err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateEntry inserts a brand-new entry. The UNIQUE idempotency key
// constraint rejects duplicates that slipped past the Manager's lock.
func (s *Store) CreateEntry(ctx context.Context, e *deadletter.Entry) error {
	operation, errRec, origin, err := encodeDocs(e)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deadletter_entries (
			id, timestamp, verb, resource, operation, error, error_code,
			context, attempts, last_attempt, status, idempotency_key
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID.String(),
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Operation.Verb,
		e.Operation.Resource,
		operation,
		errRec,
		e.Error.Code,
		origin,
		e.Attempts,
		e.LastAttempt.UTC().Format(time.RFC3339Nano),
		string(e.Status),
		e.IdempotencyKey,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return deadletter.ErrDuplicateEntry
		}
		return fmt.Errorf("deadletter/sqlite: create entry: %w", err)
	}
	return nil
}

// UpdateEntry rewrites the mutable state of an existing entry.
func (s *Store) UpdateEntry(ctx context.Context, e *deadletter.Entry) error {
	operation, errRec, origin, err := encodeDocs(e)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE deadletter_entries SET
			operation = ?, error = ?, error_code = ?, context = ?,
			attempts = ?, last_attempt = ?, status = ?
		WHERE id = ?`,
		operation,
		errRec,
		e.Error.Code,
		origin,
		e.Attempts,
		e.LastAttempt.UTC().Format(time.RFC3339Nano),
		string(e.Status),
		e.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("deadletter/sqlite: update entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deadletter/sqlite: update entry rows: %w", err)
	}
	if affected == 0 {
		return deadletter.ErrEntryNotFound
	}
	return nil
}

// GetEntry retrieves an entry by ID.
func (s *Store) GetEntry(ctx context.Context, entryID id.EntryID) (*deadletter.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` FROM deadletter_entries WHERE id = ?`,
		entryID.String(),
	)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, deadletter.ErrEntryNotFound
		}
		return nil, fmt.Errorf("deadletter/sqlite: get entry: %w", err)
	}
	return e, nil
}

// FindByKey resolves an idempotency key to its entry.
func (s *Store) FindByKey(ctx context.Context, key string) (*deadletter.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+` FROM deadletter_entries WHERE idempotency_key = ?`,
		key,
	)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, deadletter.ErrEntryNotFound
		}
		return nil, fmt.Errorf("deadletter/sqlite: find by key: %w", err)
	}
	return e, nil
}

// ListEntries returns entries matching the filter, oldest first. Set
// predicates push down to the WHERE clause.
func (s *Store) ListEntries(ctx context.Context, f deadletter.Filter) ([]*deadletter.Entry, error) {
	query := selectColumns + ` FROM deadletter_entries WHERE 1=1`
	var args []any

	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Verb != "" {
		query += ` AND verb = ?`
		args = append(args, f.Verb)
	}
	if f.ErrorCode != "" {
		query += ` AND error_code = ?`
		args = append(args, f.ErrorCode)
	}
	if f.MinAttempts > 0 {
		query += ` AND attempts >= ?`
		args = append(args, f.MinAttempts)
	}
	query += ` ORDER BY timestamp ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("deadletter/sqlite: list entries: %w", err)
	}
	defer rows.Close()

	var entries []*deadletter.Entry
	for rows.Next() {
		e, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("deadletter/sqlite: scan entry row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deadletter/sqlite: iterate entry rows: %w", err)
	}
	return entries, nil
}

// DeleteEntry hard-deletes an entry.
func (s *Store) DeleteEntry(ctx context.Context, entryID id.EntryID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM deadletter_entries WHERE id = ?`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("deadletter/sqlite: delete entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deadletter/sqlite: delete entry rows: %w", err)
	}
	if affected == 0 {
		return deadletter.ErrEntryNotFound
	}
	return nil
}

// ── helpers ──

const selectColumns = `
	SELECT id, timestamp, operation, error, context,
	       attempts, last_attempt, status, idempotency_key`

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*deadletter.Entry, error) {
	var (
		e           deadletter.Entry
		timestamp   string
		operation   []byte
		errRec      []byte
		origin      []byte
		lastAttempt string
		status      string
	)
	if err := row.Scan(
		&e.ID, &timestamp, &operation, &errRec, &origin,
		&e.Attempts, &lastAttempt, &status, &e.IdempotencyKey,
	); err != nil {
		return nil, err
	}

	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}
	la, err := time.Parse(time.RFC3339Nano, lastAttempt)
	if err != nil {
		return nil, fmt.Errorf("parse last_attempt: %w", err)
	}
	e.Timestamp = ts
	e.LastAttempt = la
	e.Status = deadletter.Status(status)

	if err := json.Unmarshal(operation, &e.Operation); err != nil {
		return nil, fmt.Errorf("decode operation: %w", err)
	}
	if err := json.Unmarshal(errRec, &e.Error); err != nil {
		return nil, fmt.Errorf("decode error record: %w", err)
	}
	if err := json.Unmarshal(origin, &e.Context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	return &e, nil
}

func encodeDocs(e *deadletter.Entry) (operation, errRec, origin []byte, err error) {
	if operation, err = json.Marshal(e.Operation); err != nil {
		return nil, nil, nil, fmt.Errorf("deadletter/sqlite: encode operation: %w", err)
	}
	if errRec, err = json.Marshal(e.Error); err != nil {
		return nil, nil, nil, fmt.Errorf("deadletter/sqlite: encode error record: %w", err)
	}
	if origin, err = json.Marshal(e.Context); err != nil {
		return nil, nil, nil, fmt.Errorf("deadletter/sqlite: encode context: %w", err)
	}
	return operation, errRec, origin, nil
}
