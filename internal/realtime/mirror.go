package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"academy/internal/feed"
	"academy/internal/logger"
	"academy/internal/recordstore"
)

// Mirror keeps a Collection in step with one store collection. Run owns the
// collection; Snapshot and Watch are served by the same goroutine.
type Mirror[T Record] struct {
	store      recordstore.Store
	collection recordstore.Collection
	bus        *Bus
	log        *logger.Logger

	items    *Collection[T]
	requests chan func()
	ready    chan struct{}
	loaded   bool

	minBackoff time.Duration
	maxBackoff time.Duration
	onResync   func(recordstore.Collection)
}

// Option tunes a Mirror.
type Option func(*mirrorOptions)

type mirrorOptions struct {
	minBackoff, maxBackoff time.Duration
	onResync               func(recordstore.Collection)
}

// WithBackoff bounds the delay between failed subscribe or reload attempts.
func WithBackoff(min, max time.Duration) Option {
	return func(o *mirrorOptions) { o.minBackoff, o.maxBackoff = min, max }
}

// WithResyncHook is called after every completed reload.
func WithResyncHook(fn func(recordstore.Collection)) Option {
	return func(o *mirrorOptions) { o.onResync = fn }
}

// NewMirror creates a mirror; call Run to start it.
func NewMirror[T Record](s recordstore.Store, c recordstore.Collection, log *logger.Logger, opts ...Option) *Mirror[T] {
	o := mirrorOptions{minBackoff: 200 * time.Millisecond, maxBackoff: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	return &Mirror[T]{
		store:      s,
		collection: c,
		bus:        NewBus(),
		log:        log.Named("mirror." + string(c)),
		items:      NewCollection[T](),
		requests:   make(chan func()),
		ready:      make(chan struct{}),
		minBackoff: o.minBackoff,
		maxBackoff: o.maxBackoff,
		onResync:   o.onResync,
	}
}

// Collection names the mirrored collection.
func (m *Mirror[T]) Collection() recordstore.Collection { return m.collection }

// Bus carries the changes applied by this mirror.
func (m *Mirror[T]) Bus() *Bus { return m.bus }

// Ready is closed once the first full read has completed.
func (m *Mirror[T]) Ready() <-chan struct{} { return m.ready }

// Run subscribes and applies events until ctx ends. A closed or failed
// subscription is reopened; every (re)subscription starts with a Resync so
// the collection is reloaded rather than assumed current.
func (m *Mirror[T]) Run(ctx context.Context) error {
	backoff := m.minBackoff
	for {
		sub, err := m.store.Subscribe(ctx, m.collection)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			m.log.Warnf("subscribe failed, retrying in %s: %v", backoff, err)
			if !m.wait(ctx, backoff) {
				return ctx.Err()
			}
			backoff = m.grow(backoff)
			continue
		}
		backoff = m.minBackoff

		m.consume(ctx, sub)
		sub.Cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.log.Warn("subscription closed, resubscribing")
	}
}

func (m *Mirror[T]) consume(ctx context.Context, sub *feed.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-m.requests:
			req()
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if evt.Type == feed.Resync {
				if !m.reload(ctx) {
					return
				}
				continue
			}
			changed, err := m.items.Apply(evt)
			if err != nil {
				m.log.Errorf("apply %s %s: %v", evt.Type, evt.ID, err)
				continue
			}
			if changed {
				m.bus.Notify(Change{Collection: string(m.collection), Type: evt.Type, ID: evt.ID, Record: evt.Record})
			}
		}
	}
}

// reload reads the whole collection, retrying with backoff until it
// succeeds or ctx ends.
func (m *Mirror[T]) reload(ctx context.Context) bool {
	backoff := m.minBackoff
	for {
		items, err := recordstore.ReadAs[T](ctx, m.store, m.collection, nil)
		if err == nil {
			m.items.Reset(items)
			break
		}
		if ctx.Err() != nil {
			return false
		}
		m.log.Warnf("reload failed, retrying in %s: %v", backoff, err)
		if !m.wait(ctx, backoff) {
			return false
		}
		backoff = m.grow(backoff)
	}

	if !m.loaded {
		m.loaded = true
		close(m.ready)
	}
	m.log.Debugf("reloaded %d records", m.items.Len())
	if m.onResync != nil {
		m.onResync(m.collection)
	}
	raw, err := json.Marshal(m.items.Items())
	if err != nil {
		m.log.Errorf("encode snapshot: %v", err)
		return true
	}
	m.bus.Notify(Change{Collection: string(m.collection), Type: feed.Resync, Record: raw})
	return true
}

// wait sleeps for d while still serving requests.
func (m *Mirror[T]) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case req := <-m.requests:
			req()
		}
	}
}

func (m *Mirror[T]) grow(d time.Duration) time.Duration {
	d *= 2
	if d > m.maxBackoff {
		d = m.maxBackoff
	}
	return d
}

// do runs fn on the actor goroutine.
func (m *Mirror[T]) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case m.requests <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns a copy of the records ordered by id.
func (m *Mirror[T]) Snapshot(ctx context.Context) ([]T, error) {
	var out []T
	err := m.do(ctx, func() { out = m.items.Items() })
	return out, err
}

// Get returns one record.
func (m *Mirror[T]) Get(ctx context.Context, id string) (T, bool, error) {
	var (
		v  T
		ok bool
	)
	err := m.do(ctx, func() { v, ok = m.items.Get(id) })
	return v, ok, err
}

// Watch registers fn on the bus and returns the current records, both taken
// on the actor goroutine so that no change falls between the two.
func (m *Mirror[T]) Watch(ctx context.Context, fn func(Change)) (json.RawMessage, func(), error) {
	var (
		raw    json.RawMessage
		cancel func()
		encErr error
	)
	err := m.do(ctx, func() {
		raw, encErr = json.Marshal(m.items.Items())
		if encErr == nil {
			cancel = m.bus.Listen(fn)
		}
	})
	if err != nil {
		return nil, nil, err
	}
	if encErr != nil {
		return nil, nil, encErr
	}
	return raw, cancel, nil
}

// View is the type-erased face of a Mirror used by push transports.
type View interface {
	Collection() recordstore.Collection
	Ready() <-chan struct{}
	Watch(ctx context.Context, fn func(Change)) (json.RawMessage, func(), error)
}

var _ View = (*Mirror[Record])(nil)

// ErrUnknownView is returned by Registry.Get for unmirrored collections.
var ErrUnknownView = errors.New("collection is not mirrored")

// Registry indexes views by collection.
type Registry map[recordstore.Collection]View

// Get returns the view for c.
func (r Registry) Get(c recordstore.Collection) (View, error) {
	v, ok := r[c]
	if !ok {
		return nil, ErrUnknownView
	}
	return v, nil
}
