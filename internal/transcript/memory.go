package transcript

import (
	"context"
	"sync"
	"time"
)

type memItem struct {
	value   []byte
	expires time.Time
}

// MemoryStorage is a process-scoped Storage. Entries older than the TTL read
// as absent; a zero TTL keeps them until deleted.
type MemoryStorage struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	items map[string]memItem
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage(ttl time.Duration) *MemoryStorage {
	return &MemoryStorage{ttl: ttl, now: time.Now, items: make(map[string]memItem)}
}

func (m *MemoryStorage) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := memItem{value: append([]byte(nil), value...)}
	if m.ttl > 0 {
		it.expires = m.now().Add(m.ttl)
	}
	m.items[key] = it
	return nil
}

func (m *MemoryStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	if m.expired(it) {
		delete(m.items, key)
		return nil, false, nil
	}
	return append([]byte(nil), it.value...), true, nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}

// PurgeExpired removes every expired entry and returns how many were dropped.
func (m *MemoryStorage) PurgeExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, it := range m.items {
		if m.expired(it) {
			delete(m.items, k)
			n++
		}
	}
	return n
}

func (m *MemoryStorage) expired(it memItem) bool {
	return !it.expires.IsZero() && m.now().After(it.expires)
}
