package file

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/xraph/deadletter"
)

// indexRecord is one compact line of the append-only dedup log. Lines
// are written once at entry creation and never rewritten; the status a
// line carries goes stale as the entry evolves and is only informational.
type indexRecord struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	IdempotencyKey string            `json:"idempotencyKey"`
	Verb           string            `json:"verb"`
	Status         deadletter.Status `json:"status"`
}

// appendIndex adds one record to index.jsonl, creating the file on
// first use. Caller holds s.mu.
func (s *Store) appendIndex(rec indexRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("deadletter/file: marshal index record: %w", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(filepath.Join(s.dir, IndexFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("deadletter/file: open index: %w", err)
	}

	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("deadletter/file: append index: %w", err)
	}
	return f.Close()
}

// indexScanner walks index.jsonl line by line, decoding records and
// flagging corrupt lines instead of aborting.
type indexScanner struct {
	sc   *bufio.Scanner
	line int
	rec  indexRecord
	ok   bool
}

func newIndexScanner(r io.Reader) *indexScanner {
	return &indexScanner{sc: bufio.NewScanner(r)}
}

// Scan advances to the next non-empty line. It returns false at EOF or
// on a read error.
func (is *indexScanner) Scan() bool {
	for is.sc.Scan() {
		is.line++
		raw := bytes.TrimSpace(is.sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		is.rec = indexRecord{}
		is.ok = json.Unmarshal(raw, &is.rec) == nil && is.rec.ID != ""
		return true
	}
	return false
}

// Record returns the current line's record and whether it decoded
// cleanly.
func (is *indexScanner) Record() (indexRecord, bool) { return is.rec, is.ok }

// Line returns the 1-based number of the current line.
func (is *indexScanner) Line() int { return is.line }

// Err reports any underlying read error.
func (is *indexScanner) Err() error { return is.sc.Err() }
