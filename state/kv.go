package state

import (
	"context"
	"sync"
	"time"
)

// MemoryKV is the in-process KV used when no redis address is configured
// and by tests. Expiry is checked lazily on read.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	val      []byte
	deadline time.Time
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]memoryEntry)}
}

func (m *MemoryKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.deadline.IsZero() && time.Now().After(e.deadline) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.val...), true, nil
}

func (m *MemoryKV) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{val: append([]byte(nil), val...)}
	if ttl > 0 {
		e.deadline = time.Now().Add(ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryKV) Del(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}
