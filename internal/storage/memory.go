package storage

import (
	"context"
	"sync"
)

// MemoryBackend keeps values in process memory. Watchers are notified
// synchronously after each write, which lets several stores in one process
// share a session the way browser tabs share localStorage.
type MemoryBackend struct {
	mu       sync.RWMutex
	values   map[string][]byte
	watchers map[string]map[int]ChangeFunc
	nextID   int
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values:   make(map[string][]byte),
		watchers: make(map[string]map[int]ChangeFunc),
	}
}

func (m *MemoryBackend) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryBackend) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.values[key] = append([]byte(nil), value...)
	fns := m.watchersLocked(key)
	m.mu.Unlock()

	for _, fn := range fns {
		fn(append([]byte(nil), value...), true)
	}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	_, existed := m.values[key]
	delete(m.values, key)
	fns := m.watchersLocked(key)
	m.mu.Unlock()

	if !existed {
		return nil
	}
	for _, fn := range fns {
		fn(nil, false)
	}
	return nil
}

func (m *MemoryBackend) Watch(key string, fn ChangeFunc) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watchers[key] == nil {
		m.watchers[key] = make(map[int]ChangeFunc)
	}
	id := m.nextID
	m.nextID++
	m.watchers[key][id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers[key], id)
	}, nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watchers = make(map[string]map[int]ChangeFunc)
	return nil
}

// watchersLocked snapshots the callbacks for key (caller must hold the lock).
func (m *MemoryBackend) watchersLocked(key string) []ChangeFunc {
	fns := make([]ChangeFunc, 0, len(m.watchers[key]))
	for _, fn := range m.watchers[key] {
		fns = append(fns, fn)
	}
	return fns
}
