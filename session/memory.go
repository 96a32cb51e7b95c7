package session

import (
	"context"
	"sync"
)

// MemoryStore is a goroutine-safe in-memory Store. Sessions are lost on
// restart.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Session
	opts options
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Session),
		opts: buildOptions(opts),
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	s, ok := m.data[id]
	m.mu.RUnlock()
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.expired(m.opts.clock.Now(), m.opts.idleTimeout) {
		m.mu.Lock()
		delete(m.data, id)
		m.mu.Unlock()
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) Put(_ context.Context, s Session) error {
	m.mu.Lock()
	m.data[s.ID] = s
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*Session) error) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	if s.expired(m.opts.clock.Now(), m.opts.idleTimeout) {
		delete(m.data, id)
		return Session{}, ErrNotFound
	}
	if err := fn(&s); err != nil {
		return Session{}, err
	}
	s.ID = id
	m.data[id] = s
	return s, nil
}

func (m *MemoryStore) Destroy(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.data, id)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
