// Package history keeps an append-only audit log of successful bookings.
package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry is one audit record. Entries are written as JSON lines so the log
// can be appended to without rewriting.
type Entry struct {
	ID       string    `json:"id"`
	Reviewer string    `json:"reviewer"`
	Evaluee  string    `json:"evaluee"`
	BookedAt time.Time `json:"booked_at"`
}

// Log appends booking records to a file.
type Log struct {
	path  string
	clock func() time.Time
	mu    sync.Mutex
}

// New creates an audit log writing to the given path.
func New(path string) *Log {
	return &Log{path: path, clock: time.Now}
}

// Record appends one booking entry.
func (l *Log) Record(reviewer, evaluee string) error {
	entry := Entry{
		ID:       uuid.NewString(),
		Reviewer: reviewer,
		Evaluee:  evaluee,
		BookedAt: l.clock().UTC(),
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open history log: %w", err)
	}
	defer f.Close() //nolint:errcheck // best-effort close after write error check below

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}
	return f.Sync()
}

// Entries reads back all recorded entries, oldest first.
func (l *Log) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read history log: %w", err)
	}

	var entries []Entry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var entry Entry
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
