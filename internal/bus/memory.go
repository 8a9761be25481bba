package bus

import (
	"context"
	"sync"
	"time"

	"github.com/hubenschmidt/station-notify/internal/clock"
)

// Memory delivers synchronously: Publish returns after every subscriber's
// handler has run. Handlers are called without the bus lock held, so a
// handler may publish in turn.
type Memory struct {
	mu     sync.Mutex
	prefix string
	clock  clock.Clock
	subs   map[string]map[*memorySub]struct{}
	claims map[string]time.Time
	closed bool
}

type memorySub struct {
	bus   *Memory
	topic string
	fn    Handler
	once  sync.Once
}

func newMemory(prefix string, c clock.Clock) *Memory {
	return &Memory{
		prefix: prefix,
		clock:  c,
		subs:   map[string]map[*memorySub]struct{}{},
		claims: map[string]time.Time{},
	}
}

// NewMemory returns an in-process bus using the real clock.
func NewMemory() *Memory {
	return newMemory("", clock.Real())
}

func (m *Memory) Publish(_ context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	topic = m.prefix + topic
	targets := make([]*memorySub, 0, len(m.subs[topic]))
	for s := range m.subs[topic] {
		targets = append(targets, s)
	}
	m.mu.Unlock()

	for _, s := range targets {
		s.fn(append([]byte(nil), payload...))
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, topic string, fn Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	topic = m.prefix + topic
	s := &memorySub{bus: m, topic: topic, fn: fn}
	if m.subs[topic] == nil {
		m.subs[topic] = map[*memorySub]struct{}{}
	}
	m.subs[topic][s] = struct{}{}
	return s, nil
}

func (m *Memory) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}

	now := m.clock.Now()
	for k, exp := range m.claims {
		if !now.Before(exp) {
			delete(m.claims, k)
		}
	}

	key = m.prefix + key
	if _, held := m.claims[key]; held {
		return false, nil
	}
	m.claims[key] = now.Add(ttl)
	return true, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.subs = map[string]map[*memorySub]struct{}{}
	return nil
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.topic], s)
		s.bus.mu.Unlock()
	})
	return nil
}
