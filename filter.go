package deadletter

// Filter selects entries by exact-match predicates combined with AND.
// A zero-value field means no filtering on that dimension.
type Filter struct {
	// Status matches the entry's current status exactly.
	Status Status
	// Verb matches the operation verb exactly.
	Verb string
	// ErrorCode matches the normalized error code exactly.
	ErrorCode string
	// MinAttempts keeps entries whose attempts counter is at least this
	// value. Zero keeps everything.
	MinAttempts int
}

// Matches reports whether the entry satisfies every set predicate.
func (f Filter) Matches(e *Entry) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Verb != "" && e.Operation.Verb != f.Verb {
		return false
	}
	if f.ErrorCode != "" && e.Error.Code != f.ErrorCode {
		return false
	}
	if f.MinAttempts > 0 && e.Attempts < f.MinAttempts {
		return false
	}
	return true
}
