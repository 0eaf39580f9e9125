package storage

import (
	"context"
	"sync"

	"ckbot/internal/registry"
)

// Memory keeps the last saved State in process.
type Memory struct {
	mu     sync.Mutex
	st     registry.State
	saves  int
	closed bool
}

func NewMemory() *Memory { return &Memory{st: emptyState()} }

func (m *Memory) Load(context.Context) (registry.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Clone(), nil
}

func (m *Memory) Save(_ context.Context, st registry.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.st = st.Clone()
	m.saves++
	return nil
}

// Saves counts successful saves.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
