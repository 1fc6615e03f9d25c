package deadletter

import (
	"maps"
	"time"

	"github.com/xraph/deadletter/id"
)

// Status represents the lifecycle state of a dead letter entry.
type Status string

const (
	// StatusFailed means the operation failed and the entry is eligible
	// for replay.
	StatusFailed Status = "failed"
	// StatusReplaying means a replay is in flight. An entry left in this
	// state after a crash stays visible until manually corrected.
	StatusReplaying Status = "replaying"
	// StatusResolved means a replay succeeded.
	StatusResolved Status = "resolved"
	// StatusArchived means the entry was retired past retention.
	// Terminal: archived entries are never lifted back to active status.
	StatusArchived Status = "archived"
)

// validTransitions is the status state machine. Merging a fresh failure
// into an existing entry is the only other way a status changes; the
// merge path in Manager.Add resets to failed regardless of prior state.
var validTransitions = map[Status][]Status{
	StatusFailed:    {StatusReplaying, StatusArchived},
	StatusReplaying: {StatusResolved, StatusFailed},
	StatusResolved:  {StatusArchived},
}

// CanTransition reports whether moving from s to next is a valid
// state-machine step.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Operation is the logical unit of work that failed. Verb and Resource
// identify what was attempted and on what; Params carries the
// operation's arguments as opaque nested data. Together the three fields
// are the identity of the failure for deduplication purposes.
type Operation struct {
	Verb     string         `json:"verb"`
	Params   map[string]any `json:"params,omitempty"`
	Resource string         `json:"resource"`
}

// Origin is caller-supplied diagnostic metadata recorded alongside a
// failure. It never participates in deduplication. Arbitrary extra data
// goes in Extra.
type Origin struct {
	RunID     string         `json:"runId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	UserID    string         `json:"userId,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Entry is the persisted record of one failed operation, its current
// error, and its retry/replay status. Exactly one entry exists per
// idempotency key at any time; duplicate failures merge into it.
//
// The JSON projection is the on-disk and wire contract: field for field,
// no derived values added.
type Entry struct {
	ID             id.EntryID  `json:"id"`
	Timestamp      time.Time   `json:"timestamp"`
	Operation      Operation   `json:"operation"`
	Error          ErrorDetail `json:"error"`
	Context        Origin      `json:"context"`
	Attempts       int         `json:"attempts"`
	LastAttempt    time.Time   `json:"lastAttempt"`
	Status         Status      `json:"status"`
	IdempotencyKey string      `json:"idempotencyKey"`
}

// NewEntry constructs an entry from a fresh failure: it assigns the ID
// and creation timestamp, normalizes the error, and computes the
// idempotency key from the operation alone.
//
// Reconstructing an entry from persisted state is plain JSON decoding —
// deliberately a separate path that never re-normalizes the error or
// recomputes the key.
func NewEntry(op Operation, cause error, origin Origin) (*Entry, error) {
	key, err := op.IdempotencyKey()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Entry{
		ID:             id.NewEntryID(),
		Timestamp:      now,
		Operation:      op,
		Error:          Normalize(cause),
		Context:        origin,
		Attempts:       1,
		LastAttempt:    now,
		Status:         StatusFailed,
		IdempotencyKey: key,
	}, nil
}

// Clone returns a copy of the entry that shares no mutable state with
// the original. Callers of the Manager only ever see clones.
func (e *Entry) Clone() *Entry {
	cp := *e
	cp.Operation.Params = maps.Clone(e.Operation.Params)
	cp.Context.Extra = maps.Clone(e.Context.Extra)
	cp.Error.Details = maps.Clone(e.Error.Details)
	if e.Error.Retryable != nil {
		r := *e.Error.Retryable
		cp.Error.Retryable = &r
	}
	return &cp
}
