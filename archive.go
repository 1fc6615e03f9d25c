package deadletter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/deadletter/id"
)

// Archive soft-retires entries matching the filter whose creation
// timestamp — not last attempt — is older than the retention window.
// Failed and resolved entries transition to archived; entries mid-replay
// are left alone. Physical removal still requires an explicit Delete.
//
// Returns the IDs of the entries archived by this call.
func (m *Manager) Archive(ctx context.Context, f Filter) ([]id.EntryID, error) {
	entries, err := m.store.ListEntries(ctx, f)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -m.config.RetentionDays)

	var archived []id.EntryID
	for _, e := range entries {
		if !e.Timestamp.Before(cutoff) {
			continue
		}

		// The list snapshot goes stale the moment a concurrent Add
		// merges into one of its entries. Re-read under the key lock
		// and transition the fresh state, never the snapshot.
		unlock := m.locks.lock(e.IdempotencyKey)
		fresh, err := m.store.GetEntry(ctx, e.ID)
		if errors.Is(err, ErrEntryNotFound) {
			unlock()
			continue
		}
		if err != nil {
			unlock()
			return archived, err
		}
		if !fresh.Timestamp.Before(cutoff) || !fresh.Status.CanTransition(StatusArchived) {
			unlock()
			continue
		}

		err = m.transition(ctx, fresh, StatusArchived)
		unlock()
		if err != nil {
			return archived, err
		}
		archived = append(archived, fresh.ID)
	}

	if len(archived) > 0 {
		m.logger.Info("archived entries past retention",
			slog.Int("count", len(archived)),
			slog.Int("retention_days", m.config.RetentionDays),
		)
	}
	return archived, nil
}
