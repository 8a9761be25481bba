package session

import (
	"context"
	"sync"
)

// Slots is an in-process backing shared by memory stores. Stores built on
// the same Slots behave like tabs of one browser origin.
type Slots struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewSlots() *Slots {
	return &Slots{data: map[string][]byte{}}
}

type memoryBackend struct {
	slots *Slots
	slot  string
}

func (m *memoryBackend) load(_ context.Context) ([]byte, error) {
	m.slots.mu.RLock()
	defer m.slots.mu.RUnlock()
	val, ok := m.slots.data[m.slot]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), val...), nil
}

func (m *memoryBackend) save(_ context.Context, val []byte) error {
	m.slots.mu.Lock()
	defer m.slots.mu.Unlock()
	m.slots.data[m.slot] = append([]byte(nil), val...)
	return nil
}

func (m *memoryBackend) remove(_ context.Context) error {
	m.slots.mu.Lock()
	defer m.slots.mu.Unlock()
	delete(m.slots.data, m.slot)
	return nil
}

func (m *memoryBackend) close() error { return nil }
