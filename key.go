package deadletter

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// IdempotencyKey returns the deterministic digest identifying this
// operation: the hex-encoded SHA-256 of its canonical JSON form. Two
// failures of the identical logical operation yield the same key even
// when their errors, caller context, or param map insertion order
// differ, so repeated retries of a flaky operation collapse into one
// record instead of flooding storage.
func (o Operation) IdempotencyKey() (string, error) {
	params, err := canonicalize(o.Params)
	if err != nil {
		return "", fmt.Errorf("deadletter: canonicalize params: %w", err)
	}

	// Fixed field order; map keys sort during marshalling, which makes
	// the serialization independent of insertion order.
	canon, err := json.Marshal(struct {
		Verb     string `json:"verb"`
		Params   any    `json:"params"`
		Resource string `json:"resource"`
	}{o.Verb, params, o.Resource})
	if err != nil {
		return "", fmt.Errorf("deadletter: canonicalize operation: %w", err)
	}

	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// canonicalize round-trips params through JSON so that any struct values
// nested inside collapse to maps. Maps marshal with sorted keys, so the
// second marshal in IdempotencyKey is canonical regardless of how the
// caller represented the data.
func canonicalize(params map[string]any) (any, error) {
	if params == nil {
		return nil, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
