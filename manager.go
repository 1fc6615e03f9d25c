package deadletter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/deadletter/id"
)

// Manager is the dead letter queue engine: it owns the dedup algorithm,
// the status state machine, and a best-effort in-process cache over a
// Store. Construct one per host process with New and pass the handle to
// every caller; there is no package-level singleton.
//
// A per-idempotency-key mutex serializes the check-then-act sequence in
// Add, the status transitions in Replay and Archive, and Delete, so two
// concurrent failures of the identical operation cannot race into
// duplicate entries or lost attempt increments within one process.
// Replay and Archive re-read the entry after taking the lock; they never
// write back a snapshot taken before it. Cross-process coordination is
// out of scope.
type Manager struct {
	store   Store
	config  Config
	logger  *slog.Logger
	limiter *rate.Limiter

	locks *keyLocks

	// cache holds private copies keyed by entry ID string. Best-effort:
	// valid only within this process and never authoritative over the
	// store.
	mu    sync.RWMutex
	cache map[string]*Entry
}

// New creates a Manager over the given store.
func New(store Store, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, ErrNoStore
	}

	m := &Manager{
		store:  store,
		config: DefaultConfig(),
		logger: slog.Default(),
		locks:  newKeyLocks(),
		cache:  make(map[string]*Entry),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	if m.config.ReplayRate > 0 {
		burst := m.config.ReplayBurst
		if burst <= 0 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(m.config.ReplayRate), burst)
	}

	return m, nil
}

// Config returns a copy of the manager's configuration.
func (m *Manager) Config() Config { return m.config }

// Add captures a failed operation. If an entry with the same idempotency
// key already exists the failure merges into it: attempts is
// incremented, the last-attempt timestamp refreshed, and the error
// replaced with the latest normalized record — no new entry, no new
// index record. Otherwise a new entry is created and persisted.
//
// The returned entry is a copy; mutating it does not affect the queue.
func (m *Manager) Add(ctx context.Context, op Operation, cause error, origin Origin) (*Entry, error) {
	key, err := op.IdempotencyKey()
	if err != nil {
		return nil, err
	}

	unlock := m.locks.lock(key)
	defer unlock()

	existing, err := m.lookupByKey(ctx, key)
	if err != nil && !errors.Is(err, ErrEntryNotFound) {
		return nil, err
	}

	if existing != nil {
		existing.Attempts++
		existing.LastAttempt = time.Now().UTC()
		existing.Error = Normalize(cause)
		existing.Status = StatusFailed
		if err := m.store.UpdateEntry(ctx, existing); err != nil {
			return nil, err
		}
		m.cachePut(existing)
		m.logger.Debug("merged duplicate failure",
			slog.String("entry_id", existing.ID.String()),
			slog.String("verb", op.Verb),
			slog.Int("attempts", existing.Attempts),
		)
		return existing.Clone(), nil
	}

	entry, err := NewEntry(op, cause, origin)
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateEntry(ctx, entry); err != nil {
		return nil, err
	}
	m.cachePut(entry)
	m.logger.Info("captured failed operation",
		slog.String("entry_id", entry.ID.String()),
		slog.String("verb", op.Verb),
		slog.String("resource", op.Resource),
		slog.String("error_code", entry.Error.Code),
	)
	return entry.Clone(), nil
}

// Get retrieves an entry by ID. Returns ErrEntryNotFound if absent.
func (m *Manager) Get(ctx context.Context, entryID id.EntryID) (*Entry, error) {
	m.mu.RLock()
	cached, ok := m.cache[entryID.String()]
	m.mu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	entry, err := m.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	m.cachePut(entry)
	return entry.Clone(), nil
}

// FindByIdempotencyKey retrieves the entry for an idempotency key.
// Returns ErrEntryNotFound if absent.
func (m *Manager) FindByIdempotencyKey(ctx context.Context, key string) (*Entry, error) {
	entry, err := m.lookupByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return entry.Clone(), nil
}

// List returns all entries matching the filter, ordered by creation
// time ascending. Predicates compose with AND; a zero filter lists
// everything.
func (m *Manager) List(ctx context.Context, f Filter) ([]*Entry, error) {
	return m.store.ListEntries(ctx, f)
}

// Delete hard-deletes an entry. Reports whether an entry existed.
// The delete holds the entry's key lock, so it queues behind an
// in-flight Replay or Add merge instead of interleaving with their
// writes.
func (m *Manager) Delete(ctx context.Context, entryID id.EntryID) (bool, error) {
	entry, err := m.Get(ctx, entryID)
	if errors.Is(err, ErrEntryNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	unlock := m.locks.lock(entry.IdempotencyKey)
	defer unlock()

	err = m.store.DeleteEntry(ctx, entryID)
	if errors.Is(err, ErrEntryNotFound) {
		m.cacheDelete(entryID)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	m.cacheDelete(entryID)
	m.logger.Info("deleted entry", slog.String("entry_id", entryID.String()))
	return true, nil
}

// transition persists a status change after validating it against the
// state machine. The caller holds the entry's key lock.
func (m *Manager) transition(ctx context.Context, entry *Entry, next Status) error {
	if !entry.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s → %s for entry %s",
			ErrInvalidTransition, entry.Status, next, entry.ID)
	}
	entry.Status = next
	if err := m.store.UpdateEntry(ctx, entry); err != nil {
		return err
	}
	m.cachePut(entry)
	return nil
}

// lookupByKey consults the cache first (linear scan over cached
// entries; fine at the scale this subsystem targets), then the store's
// dedup index. The returned entry is a private copy safe to mutate.
func (m *Manager) lookupByKey(ctx context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	for _, e := range m.cache {
		if e.IdempotencyKey == key {
			clone := e.Clone()
			m.mu.RUnlock()
			return clone, nil
		}
	}
	m.mu.RUnlock()

	entry, err := m.store.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	m.cachePut(entry)
	return entry.Clone(), nil
}

func (m *Manager) cachePut(e *Entry) {
	m.mu.Lock()
	m.cache[e.ID.String()] = e.Clone()
	m.mu.Unlock()
}

func (m *Manager) cacheDelete(entryID id.EntryID) {
	m.mu.Lock()
	delete(m.cache, entryID.String())
	m.mu.Unlock()
}

// keyLocks hands out one mutex per in-flight idempotency key. Lock
// records are reference counted and dropped when the last holder
// releases, so the map stays proportional to concurrency, not to queue
// size.
type keyLocks struct {
	mu   sync.Mutex
	held map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{held: make(map[string]*keyLock)}
}

// lock acquires the mutex for key and returns its release func.
func (l *keyLocks) lock(key string) func() {
	l.mu.Lock()
	kl, ok := l.held[key]
	if !ok {
		kl = &keyLock{}
		l.held[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.Lock()

	return func() {
		kl.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.held, key)
		}
		l.mu.Unlock()
	}
}
