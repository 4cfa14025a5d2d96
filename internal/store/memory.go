package store

import (
	"context"
	"sync"

	"github.com/kination/alkeeper/internal/task"
)

// MemoryStore keeps the rotation index and history in memory
type MemoryStore struct {
	mu      sync.RWMutex
	next    task.Task
	history []Record
}

// NewMemoryStore creates a store positioned at the start of the rotation
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{next: task.HarvestTransmuter}
}

func (m *MemoryStore) Load(ctx context.Context) (task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.next, nil
}

func (m *MemoryStore) Save(ctx context.Context, next task.Task) error {
	if !next.Valid() {
		return decodeErr(next)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next = next
	return nil
}

func (m *MemoryStore) Append(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, rec)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.history[i])
	}
	return out, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func decodeErr(t task.Task) error {
	_, err := decodeIndex(int(t))
	return err
}
