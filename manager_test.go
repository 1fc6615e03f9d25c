package deadletter_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/deadletter"
	"github.com/xraph/deadletter/id"
	"github.com/xraph/deadletter/store/memory"
)

func newTestManager(t *testing.T, opts ...deadletter.Option) (*deadletter.Manager, *memory.Store) {
	t.Helper()
	store := memory.New()
	opts = append([]deadletter.Option{
		deadletter.WithLogger(slog.New(slog.DiscardHandler)),
	}, opts...)
	m, err := deadletter.New(store, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m, store
}

func TestNewRequiresStore(t *testing.T) {
	if _, err := deadletter.New(nil); !errors.Is(err, deadletter.ErrNoStore) {
		t.Errorf("New(nil) error = %v, want ErrNoStore", err)
	}
}

func TestAddCreatesEntry(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	entry, err := m.Add(ctx, deadletter.Operation{
		Verb:     "charge_card",
		Params:   map[string]any{"amount": 100},
		Resource: "orders/42",
	}, errors.New("gateway timeout"), deadletter.Origin{RunID: "run_1"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if entry.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", entry.Attempts)
	}
	if entry.Status != deadletter.StatusFailed {
		t.Errorf("Status = %q, want %q", entry.Status, deadletter.StatusFailed)
	}

	got, err := m.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ID != entry.ID {
		t.Errorf("Get returned ID %s, want %s", got.ID, entry.ID)
	}
}

func TestAddMergesDuplicateFailure(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	op := deadletter.Operation{
		Verb:     "charge_card",
		Params:   map[string]any{"amount": 100},
		Resource: "orders/42",
	}

	first, err := m.Add(ctx, op, errors.New("gateway timeout"), deadletter.Origin{})
	if err != nil {
		t.Fatalf("first Add() error = %v", err)
	}
	second, err := m.Add(ctx, op, errors.New("connection refused"), deadletter.Origin{})
	if err != nil {
		t.Fatalf("second Add() error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("duplicate failure created a new entry: %s vs %s", second.ID, first.ID)
	}
	if second.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", second.Attempts)
	}
	if second.Error.Message != "connection refused" {
		t.Errorf("Error.Message = %q, want the latest failure", second.Error.Message)
	}
	if !second.LastAttempt.After(first.Timestamp) && !second.LastAttempt.Equal(first.Timestamp) {
		t.Errorf("LastAttempt %v not refreshed past creation %v", second.LastAttempt, first.Timestamp)
	}

	all, err := m.List(ctx, deadletter.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("List() returned %d entries, want 1", len(all))
	}
}

func TestAddDistinctOperations(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for _, resource := range []string{"orders/1", "orders/2", "orders/3"} {
		_, err := m.Add(ctx, deadletter.Operation{
			Verb:     "charge_card",
			Params:   map[string]any{"amount": 100},
			Resource: resource,
		}, errors.New("gateway timeout"), deadletter.Origin{})
		if err != nil {
			t.Fatalf("Add(%s) error = %v", resource, err)
		}
	}

	all, err := m.List(ctx, deadletter.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List() returned %d entries, want 3", len(all))
	}
}

func TestAddConcurrentSameKey(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	op := deadletter.Operation{
		Verb:     "charge_card",
		Params:   map[string]any{"amount": 100},
		Resource: "orders/42",
	}

	const workers = 16
	var wg sync.WaitGroup
	errCh := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Add(ctx, op, errors.New("flaky"), deadletter.Origin{}); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatalf("concurrent Add() error = %v", err)
	}

	all, err := m.List(ctx, deadletter.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("concurrent adds produced %d entries, want 1", len(all))
	}
	if all[0].Attempts != workers {
		t.Errorf("Attempts = %d, want %d", all[0].Attempts, workers)
	}
}

func TestGetNotFound(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Get(context.Background(), id.NewEntryID())
	if !errors.Is(err, deadletter.ErrEntryNotFound) {
		t.Errorf("Get() error = %v, want ErrEntryNotFound", err)
	}
}

func TestFindByIdempotencyKey(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	op := deadletter.Operation{Verb: "sync", Resource: "feeds/1"}

	entry, err := m.Add(ctx, op, errors.New("boom"), deadletter.Origin{})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	got, err := m.FindByIdempotencyKey(ctx, entry.IdempotencyKey)
	if err != nil {
		t.Fatalf("FindByIdempotencyKey() error = %v", err)
	}
	if got.ID != entry.ID {
		t.Errorf("found ID %s, want %s", got.ID, entry.ID)
	}

	if _, err := m.FindByIdempotencyKey(ctx, "no-such-key"); !errors.Is(err, deadletter.ErrEntryNotFound) {
		t.Errorf("FindByIdempotencyKey(miss) error = %v, want ErrEntryNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	entry, err := m.Add(ctx, deadletter.Operation{Verb: "sync", Resource: "feeds/1"},
		errors.New("boom"), deadletter.Origin{})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	deleted, err := m.Delete(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !deleted {
		t.Error("Delete() = false, want true for existing entry")
	}

	if _, err := m.Get(ctx, entry.ID); !errors.Is(err, deadletter.ErrEntryNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrEntryNotFound", err)
	}

	deleted, err = m.Delete(ctx, entry.ID)
	if err != nil {
		t.Fatalf("second Delete() error = %v", err)
	}
	if deleted {
		t.Error("Delete() = true for missing entry, want false")
	}
}

func TestDeleteWaitsForInFlightReplay(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	entry, err := m.Add(ctx, deadletter.Operation{Verb: "sync", Resource: "feeds/1"},
		errors.New("boom"), deadletter.Origin{})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})

	type outcome struct {
		res *deadletter.ReplayResult
		err error
	}
	replayed := make(chan outcome, 1)
	go func() {
		res, replayErr := m.Replay(ctx, entry.ID,
			func(context.Context, deadletter.Operation, deadletter.Origin) (any, error) {
				close(started)
				<-release
				return "ok", nil
			})
		replayed <- outcome{res, replayErr}
	}()

	<-started
	deleted := make(chan bool, 1)
	go func() {
		ok, delErr := m.Delete(ctx, entry.ID)
		if delErr != nil {
			t.Errorf("Delete() error = %v", delErr)
		}
		deleted <- ok
	}()

	// Let the delete reach the key lock, then finish the replay. The
	// delete must queue behind it, never interleave with its writes.
	time.Sleep(10 * time.Millisecond)
	close(release)

	out := <-replayed
	if out.err != nil {
		t.Fatalf("Replay() error = %v", out.err)
	}
	if !out.res.Success {
		t.Errorf("Replay() success = false, error = %v", out.res.Error)
	}
	if !<-deleted {
		t.Error("Delete() = false, want true")
	}
	if _, err := m.Get(ctx, entry.ID); !errors.Is(err, deadletter.ErrEntryNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrEntryNotFound", err)
	}
}

func TestListFilters(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	mustAdd := func(verb, resource string, cause error) {
		t.Helper()
		if _, err := m.Add(ctx, deadletter.Operation{Verb: verb, Resource: resource}, cause, deadletter.Origin{}); err != nil {
			t.Fatalf("Add(%s %s) error = %v", verb, resource, err)
		}
	}

	declined := &deadletter.ClassifiedError{
		Code: "PAYMENT_DECLINED", Category: deadletter.CategoryPermanent, Message: "declined",
	}
	mustAdd("charge_card", "orders/1", declined)
	mustAdd("charge_card", "orders/2", errors.New("timeout"))
	mustAdd("send_email", "notifications/1", errors.New("timeout"))

	// Second failure of orders/1 lifts its attempts to 2.
	mustAdd("charge_card", "orders/1", declined)

	tests := []struct {
		name   string
		filter deadletter.Filter
		want   int
	}{
		{"all", deadletter.Filter{}, 3},
		{"by verb", deadletter.Filter{Verb: "charge_card"}, 2},
		{"by error code", deadletter.Filter{ErrorCode: "PAYMENT_DECLINED"}, 1},
		{"by min attempts", deadletter.Filter{MinAttempts: 2}, 1},
		{"verb and code", deadletter.Filter{Verb: "charge_card", ErrorCode: deadletter.CodeUnknown}, 1},
		{"no match", deadletter.Filter{Verb: "charge_card", ErrorCode: "PAYMENT_DECLINED", MinAttempts: 3}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("List(%+v) returned %d entries, want %d", tt.filter, len(got), tt.want)
			}
		})
	}
}

func TestListOrderedByCreation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for i := range 5 {
		_, err := m.Add(ctx, deadletter.Operation{
			Verb:     "sync",
			Params:   map[string]any{"page": i},
			Resource: "feeds/1",
		}, errors.New("boom"), deadletter.Origin{})
		if err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}

	all, err := m.List(ctx, deadletter.Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Errorf("entries out of order at %d: %v before %v", i, all[i].Timestamp, all[i-1].Timestamp)
		}
	}
}
