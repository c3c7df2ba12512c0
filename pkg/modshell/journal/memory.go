package journal

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory journal.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	runs   []string
	data   map[string][]Entry
	closed bool
}

// NewMemoryStore creates an empty in-memory journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]Entry),
	}
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, entry Entry) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return Entry{}, ErrStoreClosed
	}

	if _, ok := m.data[entry.RunID]; !ok {
		m.runs = append(m.runs, entry.RunID)
	}
	entry.Sequence = len(m.data[entry.RunID]) + 1
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	m.data[entry.RunID] = append(m.data[entry.RunID], entry)
	return entry, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, runID string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	return append([]Entry{}, m.data[runID]...), nil
}

// Runs implements Store.
func (m *MemoryStore) Runs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	return append([]string{}, m.runs...), nil
}

// DeleteRun implements Store.
func (m *MemoryStore) DeleteRun(_ context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.data, runID)
	for i, id := range m.runs {
		if id == runID {
			m.runs = append(m.runs[:i:i], m.runs[i+1:]...)
			break
		}
	}
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	m.runs = nil
	return nil
}
