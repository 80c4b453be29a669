package feed

import (
	"context"
	"sync"
)

// InMemory is a process-local feed for dev and tests.
type InMemory struct {
	buffer int
	mu     sync.Mutex
	subs   map[string]map[*memSub]struct{}
}

type memSub struct {
	ch chan Event
}

// NewInMemory creates a feed whose subscribers buffer up to buffer events.
func NewInMemory(buffer int) *InMemory {
	if buffer <= 0 {
		buffer = 64
	}
	return &InMemory{buffer: buffer, subs: make(map[string]map[*memSub]struct{})}
}

// Publish never blocks. A subscriber with a full buffer would miss the event,
// so its subscription is closed instead; it resubscribes and reloads.
func (f *InMemory) Publish(ctx context.Context, evt Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs[evt.Collection] {
		if !trySend(s.ch, evt) {
			f.drop(evt.Collection, s)
		}
	}
	return nil
}

// Invalidate closes every subscription to collection.
func (f *InMemory) Invalidate(collection string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs[collection] {
		f.drop(collection, s)
	}
}

// drop must be called with f.mu held.
func (f *InMemory) drop(collection string, s *memSub) {
	if _, ok := f.subs[collection][s]; ok {
		delete(f.subs[collection], s)
		close(s.ch)
	}
}

// Subscribe registers a subscriber; its first event is a Resync.
func (f *InMemory) Subscribe(ctx context.Context, collection string) (*Subscription, error) {
	s := &memSub{ch: make(chan Event, f.buffer)}
	s.ch <- Event{Type: Resync, Collection: collection}

	f.mu.Lock()
	if f.subs[collection] == nil {
		f.subs[collection] = make(map[*memSub]struct{})
	}
	f.subs[collection][s] = struct{}{}
	f.mu.Unlock()

	stop := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.drop(collection, s)
	}
	sub := newSubscription(s.ch, stop)
	context.AfterFunc(ctx, sub.Cancel)
	return sub, nil
}

func trySend(ch chan Event, evt Event) bool {
	select {
	case ch <- evt:
		return true
	default:
		return false
	}
}
