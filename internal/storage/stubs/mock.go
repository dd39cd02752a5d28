package stubs

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"consumo/internal/storage"
)

// MockService is an in-memory implementation of storage.Service for tests and local runs
type MockService struct {
	mu       sync.RWMutex
	rows     map[storage.Key]storage.Entity
	failures map[string]error
	afterGet func(key storage.Key)
	init     storage.LazyInit
	inits    int
}

var _ storage.Service = (*MockService)(nil)

// NewMockService creates an empty in-memory store
func NewMockService() *MockService {
	return &MockService{
		rows:     make(map[storage.Key]storage.Entity),
		failures: make(map[string]error),
	}
}

// Name returns the backend name
func (m *MockService) Name() string {
	return "memory"
}

// GetStorageKey derives the partition/row address of a record
func (m *MockService) GetStorageKey(keyType storage.KeyType, kc storage.KeyContext) (storage.Key, error) {
	return storage.DeriveKey(keyType, kc)
}

// FailNext makes the next call of op ("init", "get", "add", "add_or_update") return err
func (m *MockService) FailNext(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

// AfterGet registers a hook invoked after every Get, outside the lock
func (m *MockService) AfterGet(fn func(key storage.Key)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.afterGet = fn
}

// Inits returns how many times initialization ran successfully
func (m *MockService) Inits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.inits
}

// Keys returns the stored addresses sorted by partition and row
func (m *MockService) Keys() []storage.Key {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]storage.Key, 0, len(m.rows))
	for k := range m.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].PartitionKey != keys[j].PartitionKey {
			return keys[i].PartitionKey < keys[j].PartitionKey
		}
		return keys[i].RowKey < keys[j].RowKey
	})
	return keys
}

func (m *MockService) ensureInit(ctx context.Context) error {
	return m.init.Do(ctx, func(ctx context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		if err := m.takeFailure("init"); err != nil {
			return storage.NewBackendError(m.Name(), "init", err)
		}
		m.inits++
		return nil
	})
}

// takeFailure must be called with mu held
func (m *MockService) takeFailure(op string) error {
	err, ok := m.failures[op]
	if !ok {
		return nil
	}
	delete(m.failures, op)
	return err
}

// Get returns a copy of the entity stored at key
func (m *MockService) Get(ctx context.Context, key storage.Key) (storage.Entity, error) {
	if err := m.ensureInit(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if err := m.takeFailure("get"); err != nil {
		m.mu.Unlock()
		return nil, storage.NewBackendError(m.Name(), "get", err)
	}
	e, ok := m.rows[normalize(key)]
	hook := m.afterGet
	m.mu.Unlock()

	if hook != nil {
		hook(key)
	}
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, storage.ErrNotFound)
	}
	return maps.Clone(e), nil
}

// Add inserts a new entity, failing with storage.ErrConflict if the row exists
func (m *MockService) Add(ctx context.Context, key storage.Key, entity storage.Entity) error {
	if err := m.ensureInit(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("add"); err != nil {
		return storage.NewBackendError(m.Name(), "add", err)
	}
	k := normalize(key)
	if _, exists := m.rows[k]; exists {
		return fmt.Errorf("add %s: %w", key, storage.ErrConflict)
	}
	m.rows[k] = maps.Clone(entity)
	return nil
}

// AddOrUpdate inserts or replaces the entity at key
func (m *MockService) AddOrUpdate(ctx context.Context, key storage.Key, entity storage.Entity) error {
	if err := m.ensureInit(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.takeFailure("add_or_update"); err != nil {
		return storage.NewBackendError(m.Name(), "add_or_update", err)
	}
	m.rows[normalize(key)] = maps.Clone(entity)
	return nil
}

// Close is a no-op
func (m *MockService) Close() error {
	return nil
}

// normalize drops the key type so rows are addressed by partition and row only
func normalize(key storage.Key) storage.Key {
	return storage.Key{PartitionKey: key.PartitionKey, RowKey: key.RowKey}
}
