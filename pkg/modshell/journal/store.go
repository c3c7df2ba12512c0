// Package journal keeps a durable trail of the registration events of a
// host bootstrap, for post-mortem inspection of which module failed where.
package journal

import (
	"context"
	"errors"
	"time"
)

// Store persists journal entries.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append stores an entry of a run. The store assigns the sequence,
	// and the timestamp when it is zero, and returns the stored entry.
	Append(ctx context.Context, entry Entry) (Entry, error)

	// List returns the entries of a run ordered by sequence.
	// Returns an empty slice (not an error) for an unknown run.
	List(ctx context.Context, runID string) ([]Entry, error)

	// Runs returns the ids of every run, in the order they started.
	Runs(ctx context.Context) ([]string, error)

	// DeleteRun removes every entry of a run.
	// Returns nil if the run has no entries.
	DeleteRun(ctx context.Context, runID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Entry is one journaled registration event.
type Entry struct {
	RunID      string
	Sequence   int
	Event      string
	RegistryID string
	// Owner and Position identify the module of a failure event.
	Owner    string
	Position string
	// Count is the count carried by started and completed events.
	Count     int
	Error     string
	Timestamp time.Time
}

// Failed reports whether the entry records a failure.
func (e Entry) Failed() bool {
	return e.Error != ""
}

// Sentinel errors for journal operations.
var (
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("journal store closed")
)
