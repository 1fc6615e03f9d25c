package deadletter

import "context"

// Stats summarizes the persisted dead letter population.
type Stats struct {
	Total       int            `json:"total"`
	ByStatus    map[Status]int `json:"byStatus"`
	ByErrorCode map[string]int `json:"byErrorCode"`
	ByVerb      map[string]int `json:"byVerb"`
	AvgAttempts float64        `json:"avgAttempts"`
	OldestEntry *Entry         `json:"oldestEntry,omitempty"`
	NewestEntry *Entry         `json:"newestEntry,omitempty"`
}

// Stats scans every entry and aggregates counts by status, error code,
// and verb, the mean attempts, and the chronologically oldest and
// newest entries by creation timestamp.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	entries, err := m.store.ListEntries(ctx, Filter{})
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Total:       len(entries),
		ByStatus:    make(map[Status]int),
		ByErrorCode: make(map[string]int),
		ByVerb:      make(map[string]int),
	}

	var totalAttempts int
	for _, e := range entries {
		stats.ByStatus[e.Status]++
		stats.ByErrorCode[e.Error.Code]++
		stats.ByVerb[e.Operation.Verb]++
		totalAttempts += e.Attempts

		if stats.OldestEntry == nil || e.Timestamp.Before(stats.OldestEntry.Timestamp) {
			stats.OldestEntry = e
		}
		if stats.NewestEntry == nil || e.Timestamp.After(stats.NewestEntry.Timestamp) {
			stats.NewestEntry = e
		}
	}

	if len(entries) > 0 {
		stats.AvgAttempts = float64(totalAttempts) / float64(len(entries))
	}
	return stats, nil
}
