package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPubSub shares change events between processes over Redis Pub/Sub.
type RedisPubSub struct {
	client *redis.Client
	prefix string

	mu    sync.Mutex
	local map[string]map[*Subscription]struct{}
}

// NewRedisPubSub publishes on channels named prefix+collection.
func NewRedisPubSub(client *redis.Client, prefix string) *RedisPubSub {
	if prefix == "" {
		prefix = "academy:changes:"
	}
	return &RedisPubSub{client: client, prefix: prefix, local: make(map[string]map[*Subscription]struct{})}
}

// Publish sends the event to every process subscribed to the collection.
func (f *RedisPubSub) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return f.client.Publish(ctx, f.prefix+evt.Collection, payload).Err()
}

// Invalidate cancels this process's subscriptions to collection. Other
// processes are told through their own connection: a publish that failed
// here usually means their Receive fails too, and they resync on reconnect.
func (f *RedisPubSub) Invalidate(collection string) {
	f.mu.Lock()
	subs := make([]*Subscription, 0, len(f.local[collection]))
	for sub := range f.local[collection] {
		subs = append(subs, sub)
	}
	f.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
}

// Subscribe streams events for a collection. Every subscribe confirmation
// (the first one and each one after go-redis reconnects) is surfaced as a
// Resync, since messages published while disconnected are lost.
func (f *RedisPubSub) Subscribe(ctx context.Context, collection string) (*Subscription, error) {
	ps := f.client.Subscribe(ctx, f.prefix+collection)
	// wait for the confirmation so that no publish after return is missed
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer ps.Close()

		send := func(evt Event) bool {
			select {
			case out <- evt:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if !send(Event{Type: Resync, Collection: collection}) {
			return
		}

		backoff := 100 * time.Millisecond
		broken := false
		for {
			msg, err := ps.Receive(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				broken = true
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}
				if backoff < 5*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = 100 * time.Millisecond

			switch m := msg.(type) {
			case *redis.Subscription:
				if m.Kind == "subscribe" {
					broken = false
					if !send(Event{Type: Resync, Collection: collection}) {
						return
					}
				}
			case *redis.Message:
				if broken {
					broken = false
					if !send(Event{Type: Resync, Collection: collection}) {
						return
					}
				}
				var evt Event
				if err := json.Unmarshal([]byte(m.Payload), &evt); err != nil {
					continue
				}
				if !send(evt) {
					return
				}
			}
		}
	}()
	// a blocked Receive only returns once the connection is closed
	var sub *Subscription
	sub = newSubscription(out, func() {
		cancel()
		_ = ps.Close()
		f.mu.Lock()
		delete(f.local[collection], sub)
		f.mu.Unlock()
	})
	f.mu.Lock()
	if f.local[collection] == nil {
		f.local[collection] = make(map[*Subscription]struct{})
	}
	f.local[collection][sub] = struct{}{}
	f.mu.Unlock()
	context.AfterFunc(parent, sub.Cancel)
	return sub, nil
}
