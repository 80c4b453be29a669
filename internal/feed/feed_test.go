package feed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case evt, ok := <-sub.Events():
		require.True(t, ok, "subscription closed")
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestInMemoryDeliversResyncThenEvents(t *testing.T) {
	ctx := context.Background()
	f := NewInMemory(8)

	sub, err := f.Subscribe(ctx, "attendance")
	require.NoError(t, err)
	defer sub.Cancel()

	require.NoError(t, f.Publish(ctx, Event{Type: Insert, Collection: "attendance", ID: "a1"}))
	require.NoError(t, f.Publish(ctx, Event{Type: Insert, Collection: "fee_records", ID: "f1"}))

	assert.Equal(t, Resync, next(t, sub).Type)
	evt := next(t, sub)
	assert.Equal(t, Insert, evt.Type)
	assert.Equal(t, "a1", evt.ID)
	assert.Empty(t, sub.Events())
}

func closed(t *testing.T, sub *Subscription) {
	t.Helper()
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Events():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, time.Millisecond)
}

func TestInMemoryLaggingSubscriberIsClosed(t *testing.T) {
	ctx := context.Background()
	f := NewInMemory(2)

	sub, err := f.Subscribe(ctx, "attendance")
	require.NoError(t, err)
	defer sub.Cancel()

	// buffer holds the initial resync plus one event; the next one closes it
	for _, id := range []string{"a1", "a2"} {
		require.NoError(t, f.Publish(ctx, Event{Type: Insert, Collection: "attendance", ID: id}))
	}
	assert.Equal(t, Resync, next(t, sub).Type)
	assert.Equal(t, "a1", next(t, sub).ID)
	closed(t, sub)

	// a fresh subscription starts over with a resync
	again, err := f.Subscribe(ctx, "attendance")
	require.NoError(t, err)
	defer again.Cancel()
	assert.Equal(t, Resync, next(t, again).Type)
}

func TestInMemoryInvalidate(t *testing.T) {
	ctx := context.Background()
	f := NewInMemory(8)

	att, err := f.Subscribe(ctx, "attendance")
	require.NoError(t, err)
	fees, err := f.Subscribe(ctx, "fee_records")
	require.NoError(t, err)
	defer fees.Cancel()

	f.Invalidate("attendance")
	assert.Equal(t, Resync, next(t, att).Type)
	closed(t, att)
	att.Cancel()

	require.NoError(t, f.Publish(ctx, Event{Type: Insert, Collection: "fee_records", ID: "f1"}))
	assert.Equal(t, Resync, next(t, fees).Type)
	assert.Equal(t, "f1", next(t, fees).ID)
}

func TestInMemoryCancelClosesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := NewInMemory(4)

	sub, err := f.Subscribe(ctx, "students")
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Events():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	sub.Cancel()
	assert.NoError(t, f.Publish(context.Background(), Event{Type: Insert, Collection: "students", ID: "s1"}))
}

func TestRedisPubSubRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := NewRedisPubSub(client, "")
	sub, err := publisher.Subscribe(ctx, "fee_records")
	require.NoError(t, err)

	assert.Equal(t, Resync, next(t, sub).Type)

	require.NoError(t, publisher.Publish(ctx, Event{
		Type:       Insert,
		Collection: "fee_records",
		ID:         "f1",
		Record:     []byte(`{"id":"f1","amount":200000}`),
	}))

	evt := next(t, sub)
	assert.Equal(t, Insert, evt.Type)
	assert.Equal(t, "f1", evt.ID)
	assert.JSONEq(t, `{"id":"f1","amount":200000}`, string(evt.Record))

	sub.Cancel()
}

func TestRedisPubSubInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := NewRedisPubSub(client, "")
	sub, err := f.Subscribe(ctx, "fee_records")
	require.NoError(t, err)
	assert.Equal(t, Resync, next(t, sub).Type)

	f.Invalidate("fee_records")
	closed(t, sub)

	f.mu.Lock()
	assert.Empty(t, f.local["fee_records"])
	f.mu.Unlock()
}
