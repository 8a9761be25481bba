package main

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// hubBuffer is how many events a slow UI client may fall behind before
// events are dropped for it.
const hubBuffer = 16

// hub fans incident frames and lifecycle events out to local UI clients
// connected to the event stream.
type hub struct {
	mu   sync.Mutex
	subs map[chan []byte]struct{}
}

func newHub() *hub {
	return &hub{subs: map[chan []byte]struct{}{}}
}

func (h *hub) subscribe() chan []byte {
	ch := make(chan []byte, hubBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// broadcast never blocks: a client whose buffer is full misses the event.
func (h *hub) broadcast(data []byte) {
	if data == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
			slog.Debug("event stream client behind, dropping event")
		}
	}
}

// publish marshals a lifecycle event of the given type.
func (h *hub) publish(typ string, fields map[string]any) {
	ev := map[string]any{"type": typ}
	for k, v := range fields {
		ev[k] = v
	}
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("event marshal", "type", typ, "error", err)
		return
	}
	h.broadcast(data)
}
