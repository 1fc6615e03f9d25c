package deadletter

import (
	"context"
	"errors"
	"sort"
	"time"

	"log/slog"

	"github.com/xraph/deadletter/id"
)

// Executor re-runs a failed operation. It is supplied per call by the
// operation dispatcher; the Manager never knows how to execute anything
// itself. The executor is awaited to completion — cancellation, if
// needed, is layered on by the caller through ctx.
type Executor func(ctx context.Context, op Operation, origin Origin) (any, error)

// ReplayResult reports the outcome of replaying one entry.
type ReplayResult struct {
	EntryID id.EntryID   `json:"entryId"`
	Success bool         `json:"success"`
	Result  any          `json:"result,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// BatchResult aggregates per-entry replay outcomes. Total counts every
// entry that matched the batch filter; Processed counts the prefix this
// batch actually replayed.
type BatchResult struct {
	Total     int            `json:"total"`
	Processed int            `json:"processed"`
	Results   []ReplayResult `json:"results"`
}

// Replay re-invokes one entry's operation through the injected
// executor. The entry must be in the failed state.
//
// The replaying status is persisted before the executor runs, so a
// crash mid-replay leaves visible evidence rather than silent loss. On
// success the entry resolves with attempts unchanged. On executor
// failure the entry returns to failed — eligible for another attempt —
// with attempts incremented and the error replaced by the new failure;
// the result carries Success=false without a Go error so batch replay
// can continue past it.
//
// Returns ErrEntryNotFound if no entry exists for entryID.
func (m *Manager) Replay(ctx context.Context, entryID id.EntryID, exec Executor) (*ReplayResult, error) {
	if exec == nil {
		return nil, ErrNilExecutor
	}

	// Resolve the key outside the lock, then re-read authoritatively
	// under it: a concurrent Add merge may have touched the entry.
	entry, err := m.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.lock(entry.IdempotencyKey)
	defer unlock()

	entry, err = m.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	if err := m.transition(ctx, entry, StatusReplaying); err != nil {
		return nil, err
	}

	result, execErr := exec(ctx, entry.Operation, entry.Context)
	if execErr != nil {
		entry.Attempts++
		entry.LastAttempt = time.Now().UTC()
		entry.Error = Normalize(execErr)
		if err := m.transition(ctx, entry, StatusFailed); err != nil {
			return nil, err
		}
		m.logger.Warn("replay failed",
			slog.String("entry_id", entryID.String()),
			slog.String("verb", entry.Operation.Verb),
			slog.Int("attempts", entry.Attempts),
			slog.String("error", execErr.Error()),
		)
		detail := entry.Error
		return &ReplayResult{EntryID: entryID, Success: false, Error: &detail}, nil
	}

	if err := m.transition(ctx, entry, StatusResolved); err != nil {
		return nil, err
	}
	m.logger.Info("replay resolved entry",
		slog.String("entry_id", entryID.String()),
		slog.String("verb", entry.Operation.Verb),
	)
	return &ReplayResult{EntryID: entryID, Success: true, Result: result}, nil
}

// ReplayBatch replays entries matching the filter that are in the
// failed state, oldest first, capped at the configured batch size.
// Entries are replayed sequentially — never concurrently — to bound
// load on the external system being retried and to keep attempt
// counters easy to reason about. With a replay rate configured, a token
// bucket paces the sequence.
//
// Retry-count policy is deliberately not enforced here: the external
// scheduler that calls ReplayBatch decides, typically against
// Config.MaxRetries and each entry's retryability, whether an entry is
// still worth a pass.
func (m *Manager) ReplayBatch(ctx context.Context, f Filter, exec Executor) (*BatchResult, error) {
	if exec == nil {
		return nil, ErrNilExecutor
	}

	f.Status = StatusFailed
	matched, err := m.store.ListEntries(ctx, f)
	if err != nil {
		return nil, err
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Timestamp.Before(matched[j].Timestamp)
	})

	batch := matched
	if size := m.config.ReplayBatchSize; size > 0 && len(batch) > size {
		batch = batch[:size]
	}

	res := &BatchResult{
		Total:     len(matched),
		Processed: len(batch),
		Results:   make([]ReplayResult, 0, len(batch)),
	}

	for _, e := range batch {
		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return res, err
			}
		}

		r, err := m.Replay(ctx, e.ID, exec)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) || errors.Is(err, ErrInvalidTransition) {
				// The entry was deleted or transitioned between the
				// list and this replay. Record and move on.
				detail := Normalize(err)
				res.Results = append(res.Results, ReplayResult{
					EntryID: e.ID,
					Success: false,
					Error:   &detail,
				})
				continue
			}
			return res, err
		}
		res.Results = append(res.Results, *r)
	}

	m.logger.Info("replay batch finished",
		slog.Int("total", res.Total),
		slog.Int("processed", res.Processed),
	)
	return res, nil
}
