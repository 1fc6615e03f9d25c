package deadletter

// Config holds configuration for the Manager.
type Config struct {
	// ReplayBatchSize caps how many matching entries a single
	// ReplayBatch call processes. Matching entries beyond the cap are
	// reported in the batch total but left untouched.
	ReplayBatchSize int

	// RetentionDays is the age, measured from an entry's creation
	// timestamp, past which Archive retires it.
	RetentionDays int

	// MaxRetries is advisory. The Manager never caps replay attempts;
	// the external scheduler that drives Replay reads this value to
	// decide whether an entry is still worth retrying.
	MaxRetries int

	// ReplayRate is the maximum sustained replays per second during
	// ReplayBatch, enforced with a token bucket. Zero disables pacing
	// and entries are replayed back to back.
	ReplayRate float64

	// ReplayBurst is the burst size for the replay token bucket.
	// Defaults to 1 if ReplayRate is set but ReplayBurst is zero.
	ReplayBurst int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ReplayBatchSize: 10,
		RetentionDays:   30,
		MaxRetries:      3,
	}
}
