package deadletter

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("deadletter: no store configured")
	ErrMigrationFailed = errors.New("deadletter: migration failed")

	// ErrEntryNotFound is returned by reads that resolve to no entry.
	// Callers treat it as "absent", not as a failure.
	ErrEntryNotFound = errors.New("deadletter: entry not found")

	// ErrDuplicateEntry is returned by Store.CreateEntry when an entry
	// with the same ID or idempotency key already exists. The Manager's
	// merge path normally prevents this within one process.
	ErrDuplicateEntry = errors.New("deadletter: entry already exists")

	// ErrInvalidTransition is returned when an operation would move an
	// entry against the status state machine, e.g. replaying an entry
	// that is not in the failed state.
	ErrInvalidTransition = errors.New("deadletter: invalid status transition")

	// ErrNilExecutor is returned by Replay and ReplayBatch when no
	// executor was supplied.
	ErrNilExecutor = errors.New("deadletter: nil executor")
)
