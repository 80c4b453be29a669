// Package feed fans record changes out to every subscriber of a collection.
// The feed has no replay: a subscriber that connects or reconnects receives
// a Resync event and must reload the collection. A subscriber that falls
// behind has its subscription closed.
package feed

import (
	"context"
	"encoding/json"
	"sync"
)

// EventType is the kind of change.
type EventType string

const (
	Insert EventType = "insert"
	Update EventType = "update"
	Delete EventType = "delete"
	Resync EventType = "resync"
)

// Event describes one write to a collection. Record is the full row after an
// insert or update and the removed row after a delete.
type Event struct {
	Type       EventType       `json:"type"`
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Record     json.RawMessage `json:"record,omitempty"`
}

// Feed is the abstraction over the fan-out backends.
type Feed interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(ctx context.Context, collection string) (*Subscription, error)
	// Invalidate ends this process's subscriptions to collection. Their
	// owners see Events close, subscribe again and reload on the Resync.
	Invalidate(collection string)
}

// Subscription delivers events until cancelled or until its context ends.
type Subscription struct {
	events <-chan Event
	once   sync.Once
	stop   func()
}

func newSubscription(events <-chan Event, stop func()) *Subscription {
	return &Subscription{events: events, stop: stop}
}

// Events is closed once the subscription ends.
func (s *Subscription) Events() <-chan Event { return s.events }

// Cancel ends the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(s.stop)
}
