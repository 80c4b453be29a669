package realtime

import (
	"encoding/json"
	"sync"

	"academy/internal/feed"
)

// Change is what listeners are told after a mirror applied an event. For a
// resync, Record holds the whole collection as a JSON array.
type Change struct {
	Collection string          `json:"collection"`
	Type       feed.EventType  `json:"type"`
	ID         string          `json:"id,omitempty"`
	Record     json.RawMessage `json:"record,omitempty"`
}

// Bus notifies listeners of applied changes. Listeners run on the
// notifying goroutine and must not block.
type Bus struct {
	mu        sync.RWMutex
	next      int
	listeners map[int]func(Change)
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[int]func(Change))}
}

// Listen registers fn until the returned cancel func is called.
func (b *Bus) Listen(fn func(Change)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.listeners[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

// Notify calls every listener with c.
func (b *Bus) Notify(c Change) {
	b.mu.RLock()
	fns := make([]func(Change), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()
	for _, fn := range fns {
		fn(c)
	}
}

// Len is the number of registered listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
