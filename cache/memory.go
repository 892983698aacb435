package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store used in tests and single-node setups.
// TTLs are honoured lazily on read.
type Memory struct {
	mu   sync.Mutex
	data map[string]entry
}

type entry struct {
	value   string
	expires time.Time
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]entry)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	if !ok {
		return "", false
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(m.data, key)
		return "", false
	}
	return e.value, true
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.expires = time.Now().Add(ttl)
	}
	m.data[key] = e
	return nil
}

func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
