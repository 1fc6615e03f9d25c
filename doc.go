// Package deadletter provides a durable dead letter queue for operations
// that failed during execution by an external dispatcher. Failures are
// captured, deduplicated by operation identity, and kept for inspection,
// controlled replay, and eventual archival.
//
// Deadletter is designed as a library, not a service. Import it,
// configure a store, and wire the Manager into the dispatcher's failure
// path. The Manager never executes operations itself and never
// self-triggers replay: execution is injected per call as an [Executor],
// and an external scheduler decides when to replay.
//
// # Quick Start
//
//	st, err := file.New("/var/lib/myapp/deadletter")
//	m, err := deadletter.New(st,
//	    deadletter.WithReplayBatchSize(20),
//	    deadletter.WithRetentionDays(30),
//	)
//
//	// Dispatcher failure path.
//	entry, err := m.Add(ctx, op, execErr, deadletter.Origin{RunID: runID})
//
//	// Recovery process.
//	res, err := m.ReplayBatch(ctx, deadletter.Filter{}, executor)
//
// # Deduplication
//
// Every [Operation] has a deterministic idempotency key: the SHA-256
// digest of its canonical JSON form (verb, params, resource — never the
// error, caller context, or timestamps). Repeated failures of the same
// logical operation collapse into one [Entry] whose attempts counter,
// last-attempt timestamp, and error record evolve; duplicates are merged,
// never stored twice.
//
// # Lifecycle
//
// Entries move through a monotone state machine:
//
//	failed → replaying → resolved
//	failed → replaying → failed      (replay attempt failed)
//	failed → archived                (past retention)
//	resolved → archived              (past retention)
//
// Archived is terminal. Hard deletion happens only via an explicit
// [Manager.Delete].
//
// # Stores
//
// Persistence follows a composable store pattern: [Store] is the
// contract, and a backend implements it. Backends: File (one JSON
// document per entry plus an append-only index.jsonl dedup log — the
// reference layout), SQLite, Postgres, Redis, and Memory.
//
// All entry IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers with the "dlq" prefix.
package deadletter
