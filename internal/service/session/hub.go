package session

import (
	"log"
	"sync"

	"github.com/zhouzirui/scene-guide/backend/internal/service/companion"
)

// Hub fans session events out to subscribers. Slow subscribers lose events
// instead of stalling the session loop.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan companion.Event
	next   int
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan companion.Event)}
}

// Notify implements companion.Notifier.
func (h *Hub) Notify(e companion.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			log.Printf("[session] %s subscriber %d lagging, dropped %s event", e.SessionID, id, e.Type)
		}
	}
}

// Subscribe registers a listener. The channel is closed by cancel or Close.
func (h *Hub) Subscribe(buffer int) (<-chan companion.Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan companion.Event, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.next
	h.next++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
