package recordstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"academy/internal/apperr"
	"academy/internal/feed"
	"academy/internal/logger"
)

// Memory is an in-process Store enforcing the same unique keys and
// references as the Postgres schema. Used for dev and tests.
type Memory struct {
	mu     sync.RWMutex
	tables map[Collection]*table
	feed   feed.Feed
	log    *logger.Logger
	now    func() time.Time
}

type table struct {
	order []string
	rows  map[string]row
}

// NewMemory creates an empty store publishing its writes to f.
func NewMemory(f feed.Feed) *Memory {
	m := &Memory{tables: make(map[Collection]*table), feed: f, log: logger.Discard(), now: time.Now}
	for _, c := range Collections() {
		m.tables[c] = &table{rows: make(map[string]row)}
	}
	return m
}

// SetLogger sets where feed failures are reported.
func (m *Memory) SetLogger(l *logger.Logger) { m.log = l.Named("recordstore") }

// Read returns the matching rows in insertion order.
func (m *Memory) Read(ctx context.Context, c Collection, f Filter) ([]json.RawMessage, error) {
	s, err := SchemaFor(c)
	if err != nil {
		return nil, err
	}
	if err := validateFilter(s, f); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	t := m.tables[c]
	out := make([]json.RawMessage, 0, len(t.order))
	for _, id := range t.order {
		r := t.rows[id]
		if matches(r, f) {
			raw, err := json.Marshal(r)
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
		}
	}
	return out, nil
}

// Insert stores a new row. Unique key violations yield ErrConflict and a
// dangling reference yields ErrNotFound.
func (m *Memory) Insert(ctx context.Context, c Collection, record any) (json.RawMessage, error) {
	s, err := SchemaFor(c)
	if err != nil {
		return nil, err
	}
	r, err := toRow(s, record)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	prepareInsert(s, r, m.now())
	id, _ := scalar(r["id"])
	t := m.tables[c]
	if _, exists := t.rows[id]; exists {
		m.mu.Unlock()
		return nil, apperr.Conflict("recordstore.insert", "%s %s already exists", c, id)
	}
	if err := m.checkConstraints(s, id, r); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	t.rows[id] = r
	t.order = append(t.order, id)
	raw, err := json.Marshal(r)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	// publishing under the lock keeps per-record event order equal to write order
	publish(ctx, m.feed, m.log, feed.Insert, c, id, raw)
	m.mu.Unlock()
	return raw, nil
}

// Update patches an existing row.
func (m *Memory) Update(ctx context.Context, c Collection, id string, p Patch) (json.RawMessage, error) {
	s, err := SchemaFor(c)
	if err != nil {
		return nil, err
	}
	if err := validatePatch(s, p); err != nil {
		return nil, err
	}
	patch, err := toRow(s, map[string]any(p))
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	t := m.tables[c]
	current, ok := t.rows[id]
	if !ok {
		m.mu.Unlock()
		return nil, apperr.NotFound("recordstore.update", "%s %s not found", c, id)
	}
	next := make(row, len(current))
	for k, v := range current {
		next[k] = v
	}
	for k, v := range patch {
		next[k] = v
	}
	for _, col := range s.Touched {
		if _, set := p[col]; !set {
			next[col] = m.now().UTC().Format(time.RFC3339Nano)
		}
	}
	if err := m.checkConstraints(s, id, next); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	t.rows[id] = next
	raw, err := json.Marshal(next)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	publish(ctx, m.feed, m.log, feed.Update, c, id, raw)
	m.mu.Unlock()
	return raw, nil
}

// Delete removes a row. Rows still referenced by other collections cannot be
// deleted.
func (m *Memory) Delete(ctx context.Context, c Collection, id string) error {
	if _, err := SchemaFor(c); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	t := m.tables[c]
	old, ok := t.rows[id]
	if !ok {
		m.mu.Unlock()
		return apperr.NotFound("recordstore.delete", "%s %s not found", c, id)
	}
	if other, referenced := m.referencedBy(c, id); referenced {
		m.mu.Unlock()
		return apperr.Conflict("recordstore.delete", "%s %s is still referenced by %s", c, id, other)
	}
	delete(t.rows, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	raw, err := json.Marshal(old)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	publish(ctx, m.feed, m.log, feed.Delete, c, id, raw)
	m.mu.Unlock()
	return nil
}

// Subscribe opens a change subscription on the store's feed.
func (m *Memory) Subscribe(ctx context.Context, c Collection) (*feed.Subscription, error) {
	if _, err := SchemaFor(c); err != nil {
		return nil, err
	}
	return m.feed.Subscribe(ctx, string(c))
}

// checkConstraints must be called with m.mu held.
func (m *Memory) checkConstraints(s Schema, id string, r row) error {
	t := m.tables[s.Collection]
	for _, key := range s.Unique {
		want, ok := keyOf(r, key)
		if !ok {
			continue
		}
		for otherID, other := range t.rows {
			if otherID == id {
				continue
			}
			if got, ok := keyOf(other, key); ok && got == want {
				return apperr.Conflict("recordstore", "duplicate %s on %s", joinKey(key), s.Collection)
			}
		}
	}
	for _, ref := range s.References {
		target, ok := scalar(r[ref.Column])
		if !ok {
			continue
		}
		if _, exists := m.tables[ref.Collection].rows[target]; !exists {
			return apperr.NotFound("recordstore", "%s %s referenced by %s.%s not found", ref.Collection, target, s.Collection, ref.Column)
		}
	}
	return nil
}

// referencedBy must be called with m.mu held.
func (m *Memory) referencedBy(c Collection, id string) (Collection, bool) {
	for _, s := range schemas {
		for _, ref := range s.References {
			if ref.Collection != c {
				continue
			}
			for _, r := range m.tables[s.Collection].rows {
				if v, ok := scalar(r[ref.Column]); ok && v == id {
					return s.Collection, true
				}
			}
		}
	}
	return "", false
}

// keyOf returns the composite key value; rows with a NULL column never collide.
func keyOf(r row, cols []string) (string, bool) {
	key := ""
	for _, c := range cols {
		v, ok := scalar(r[c])
		if !ok {
			return "", false
		}
		key += v + "\x00"
	}
	return key, true
}

func joinKey(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ","
		}
		out += c
	}
	return out
}

func matches(r row, f Filter) bool {
	for k, want := range f {
		got, gotOK := scalar(r[k])
		w, wantOK := scalar(want)
		if gotOK != wantOK || got != w {
			return false
		}
	}
	return true
}
