package deadletter

import "log/slog"

// Option configures a Manager.
type Option func(*Manager) error

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(m *Manager) error {
		m.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the Manager.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) error {
		m.logger = l
		return nil
	}
}

// WithReplayBatchSize sets how many entries one ReplayBatch call
// processes at most.
func WithReplayBatchSize(n int) Option {
	return func(m *Manager) error {
		m.config.ReplayBatchSize = n
		return nil
	}
}

// WithRetentionDays sets the archival retention window in days.
func WithRetentionDays(days int) Option {
	return func(m *Manager) error {
		m.config.RetentionDays = days
		return nil
	}
}

// WithReplayRate enables token-bucket pacing of batch replay at the
// given sustained rate per second and burst size.
func WithReplayRate(perSecond float64, burst int) Option {
	return func(m *Manager) error {
		m.config.ReplayRate = perSecond
		m.config.ReplayBurst = burst
		return nil
	}
}
