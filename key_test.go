package deadletter_test

import (
	"testing"

	"github.com/xraph/deadletter"
)

func TestIdempotencyKeyDeterministic(t *testing.T) {
	op := deadletter.Operation{
		Verb:     "charge_card",
		Params:   map[string]any{"amount": 100, "currency": "USD"},
		Resource: "orders/42",
	}

	first, err := op.IdempotencyKey()
	if err != nil {
		t.Fatalf("IdempotencyKey() error = %v", err)
	}
	second, err := op.IdempotencyKey()
	if err != nil {
		t.Fatalf("IdempotencyKey() error = %v", err)
	}

	if first != second {
		t.Errorf("keys differ across calls: %q vs %q", first, second)
	}
	if len(first) != 64 {
		t.Errorf("key length = %d, want 64 hex chars", len(first))
	}
}

func TestIdempotencyKeyCollapsesStructParams(t *testing.T) {
	type line struct {
		SKU string `json:"sku"`
		Qty int    `json:"qty"`
	}

	structured := deadletter.Operation{
		Verb:     "ship_order",
		Params:   map[string]any{"line": line{SKU: "A-1", Qty: 2}},
		Resource: "orders/7",
	}
	mapped := deadletter.Operation{
		Verb:     "ship_order",
		Params:   map[string]any{"line": map[string]any{"qty": 2, "sku": "A-1"}},
		Resource: "orders/7",
	}

	a, err := structured.IdempotencyKey()
	if err != nil {
		t.Fatalf("IdempotencyKey() error = %v", err)
	}
	b, err := mapped.IdempotencyKey()
	if err != nil {
		t.Fatalf("IdempotencyKey() error = %v", err)
	}

	if a != b {
		t.Errorf("struct and map params produced different keys: %q vs %q", a, b)
	}
}

func TestIdempotencyKeyDistinguishesOperations(t *testing.T) {
	base := deadletter.Operation{
		Verb:     "charge_card",
		Params:   map[string]any{"amount": 100},
		Resource: "orders/42",
	}

	variants := []deadletter.Operation{
		{Verb: "refund_card", Params: map[string]any{"amount": 100}, Resource: "orders/42"},
		{Verb: "charge_card", Params: map[string]any{"amount": 200}, Resource: "orders/42"},
		{Verb: "charge_card", Params: map[string]any{"amount": 100}, Resource: "orders/43"},
	}

	baseKey, err := base.IdempotencyKey()
	if err != nil {
		t.Fatalf("IdempotencyKey() error = %v", err)
	}
	for _, v := range variants {
		key, err := v.IdempotencyKey()
		if err != nil {
			t.Fatalf("IdempotencyKey() error = %v", err)
		}
		if key == baseKey {
			t.Errorf("operation %+v collided with base key", v)
		}
	}
}

func TestIdempotencyKeyNilParams(t *testing.T) {
	withNil := deadletter.Operation{Verb: "sync", Resource: "feeds/1"}
	withEmpty := deadletter.Operation{Verb: "sync", Params: map[string]any{}, Resource: "feeds/1"}

	a, err := withNil.IdempotencyKey()
	if err != nil {
		t.Fatalf("IdempotencyKey() error = %v", err)
	}
	b, err := withEmpty.IdempotencyKey()
	if err != nil {
		t.Fatalf("IdempotencyKey() error = %v", err)
	}

	// nil and empty params serialize differently and that is deliberate:
	// both are stable, neither is ambiguous.
	if a == b {
		t.Errorf("nil and empty params produced the same key %q", a)
	}
}
