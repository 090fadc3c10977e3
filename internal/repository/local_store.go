package repository

import (
	"context"
	"sort"
	"sync"

	"slugstate/internal/domain"
)

// LocalStore is the offline engine's durable key-value boundary.
// Delete of a missing key is not an error.
type LocalStore interface {
	Get(ctx context.Context, key string) (*domain.SyncRecord, error)
	Put(ctx context.Context, record *domain.SyncRecord) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]*domain.SyncRecord, error)
}

// MemoryStore keeps records for the lifetime of the process. The engine
// uses it for state that must not be written to disk.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*domain.SyncRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*domain.SyncRecord)}
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*domain.SyncRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	return record.Clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, record *domain.SyncRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[record.Key] = record.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*domain.SyncRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]*domain.SyncRecord, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, record.Clone())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })
	return records, nil
}
