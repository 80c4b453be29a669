// Package realtime keeps in-memory copies of store collections in step with
// the change feed. Each Mirror is an actor: one goroutine owns the
// collection and everything else talks to it through messages.
package realtime

import (
	"encoding/json"
	"fmt"
	"sort"

	"academy/internal/feed"
)

// Record is anything with a stable id.
type Record interface {
	RecordID() string
}

// Collection is an id-keyed set of records with an idempotent merge.
//
// Ids are never reused, so an insert for an id already held (or already
// deleted) is a stale re-delivery and is ignored, while an update upserts.
// That makes insert/update pairs converge whatever order they arrive in.
type Collection[T Record] struct {
	items   map[string]T
	deleted map[string]struct{}
}

// NewCollection returns an empty collection.
func NewCollection[T Record]() *Collection[T] {
	return &Collection[T]{items: make(map[string]T), deleted: make(map[string]struct{})}
}

// Reset replaces the contents with a fresh read.
func (c *Collection[T]) Reset(items []T) {
	c.items = make(map[string]T, len(items))
	c.deleted = make(map[string]struct{})
	for _, it := range items {
		c.items[it.RecordID()] = it
	}
}

// Apply merges one change event and reports whether the contents changed.
// Resync events are not applied here; the owner reloads instead.
func (c *Collection[T]) Apply(evt feed.Event) (bool, error) {
	switch evt.Type {
	case feed.Insert, feed.Update:
		var rec T
		if err := json.Unmarshal(evt.Record, &rec); err != nil {
			return false, fmt.Errorf("decode %s %s: %w", evt.Type, evt.ID, err)
		}
		id := rec.RecordID()
		if id == "" {
			id = evt.ID
		}
		if _, gone := c.deleted[id]; gone {
			return false, nil
		}
		if _, exists := c.items[id]; exists && evt.Type == feed.Insert {
			return false, nil
		}
		c.items[id] = rec
		return true, nil
	case feed.Delete:
		c.deleted[evt.ID] = struct{}{}
		if _, ok := c.items[evt.ID]; !ok {
			return false, nil
		}
		delete(c.items, evt.ID)
		return true, nil
	case feed.Resync:
		return false, nil
	}
	return false, fmt.Errorf("unknown event type %q", evt.Type)
}

// Get returns the record with the given id.
func (c *Collection[T]) Get(id string) (T, bool) {
	v, ok := c.items[id]
	return v, ok
}

// Len is the number of records held.
func (c *Collection[T]) Len() int { return len(c.items) }

// Items returns a copy of the records ordered by id.
func (c *Collection[T]) Items() []T {
	out := make([]T, 0, len(c.items))
	for _, v := range c.items {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordID() < out[j].RecordID() })
	return out
}
