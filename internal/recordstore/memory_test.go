package recordstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academy/internal/apperr"
	"academy/internal/feed"
	"academy/internal/model"
)

func newMemory(t *testing.T) (*Memory, *feed.InMemory) {
	t.Helper()
	f := feed.NewInMemory(32)
	return NewMemory(f), f
}

func seedStudent(t *testing.T, s Store, id, email string) model.Student {
	t.Helper()
	st, err := InsertAs(context.Background(), s, Students, model.Student{ID: id, Name: id, Email: email})
	require.NoError(t, err)
	return st
}

func TestMemoryInsertAssignsIDAndStamps(t *testing.T) {
	m, _ := newMemory(t)
	ctx := context.Background()

	st, err := InsertAs(ctx, m, Students, model.Student{Name: "Asha", Email: "asha@example.com"})
	require.NoError(t, err)
	assert.NotEmpty(t, st.ID)
	assert.False(t, st.JoinedAt.IsZero())
	assert.Nil(t, st.Fee)

	got, err := GetAs[model.Student](ctx, m, Students, st.ID)
	require.NoError(t, err)
	assert.Equal(t, st.Email, got.Email)
}

func TestMemoryUniqueEmail(t *testing.T) {
	m, _ := newMemory(t)
	seedStudent(t, m, "s1", "same@example.com")

	_, err := m.Insert(context.Background(), Students, model.Student{ID: "s2", Name: "B", Email: "same@example.com"})
	assert.True(t, errors.Is(err, apperr.ErrConflict))
}

func TestMemoryAttendanceMembershipIsUnique(t *testing.T) {
	m, _ := newMemory(t)
	ctx := context.Background()
	seedStudent(t, m, "s1", "s1@example.com")

	rec := model.AttendanceRecord{StudentID: model.Ptr("s1"), Date: "2024-05-01", Timing: model.Timings[0], Status: model.StatusPresent}
	_, err := m.Insert(ctx, Attendance, rec)
	require.NoError(t, err)
	_, err = m.Insert(ctx, Attendance, rec)
	assert.True(t, errors.Is(err, apperr.ErrConflict))

	// placeholders carry no student and never collide
	ph := model.AttendanceRecord{Date: "2024-05-01", Timing: model.Timings[0], Status: model.StatusPresent}
	_, err = m.Insert(ctx, Attendance, ph)
	require.NoError(t, err)
	_, err = m.Insert(ctx, Attendance, ph)
	require.NoError(t, err)
}

func TestMemoryDanglingReference(t *testing.T) {
	m, _ := newMemory(t)
	_, err := m.Insert(context.Background(), Attendance, model.AttendanceRecord{
		StudentID: model.Ptr("ghost"), Date: "2024-05-01", Timing: model.Timings[1], Status: model.StatusPresent,
	})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestMemoryReadFiltersIncludingNull(t *testing.T) {
	m, _ := newMemory(t)
	ctx := context.Background()
	seedStudent(t, m, "s1", "s1@example.com")

	for _, r := range []model.AttendanceRecord{
		{StudentID: model.Ptr("s1"), Date: "2024-05-01", Timing: model.Timings[0], Status: model.StatusPresent},
		{Date: "2024-05-01", Timing: model.Timings[1], Status: model.StatusPresent},
		{StudentID: model.Ptr("s1"), Date: "2024-05-02", Timing: model.Timings[0], Status: model.StatusPresent},
	} {
		_, err := m.Insert(ctx, Attendance, r)
		require.NoError(t, err)
	}

	rows, err := ReadAs[model.AttendanceRecord](ctx, m, Attendance, Filter{"student_id": "s1"})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = ReadAs[model.AttendanceRecord](ctx, m, Attendance, Filter{"student_id": nil})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsPlaceholder())

	_, err = m.Read(ctx, Attendance, Filter{"nope": 1})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestMemoryUpdate(t *testing.T) {
	m, _ := newMemory(t)
	ctx := context.Background()
	seedStudent(t, m, "s1", "s1@example.com")

	st, err := UpdateAs[model.Student](ctx, m, Students, "s1", Patch{"fee": int64(800000)})
	require.NoError(t, err)
	require.NotNil(t, st.Fee)
	assert.Equal(t, int64(800000), *st.Fee)

	_, err = m.Update(ctx, Students, "missing", Patch{"name": "x"})
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = m.Update(ctx, Students, "s1", Patch{"id": "other"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestMemoryUpdateTouchesUpdatedAt(t *testing.T) {
	m, _ := newMemory(t)
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }
	seedStudent(t, m, "s1", "s1@example.com")

	o, err := InsertAs(ctx, m, PaymentOrders, model.PaymentOrder{
		ID: "order_1", StudentID: "s1", Amount: 100, Currency: "INR", Receipt: "r1", Status: model.OrderCreated,
	})
	require.NoError(t, err)
	assert.Equal(t, clock, o.UpdatedAt)

	clock = clock.Add(time.Minute)
	o, err = UpdateAs[model.PaymentOrder](ctx, m, PaymentOrders, "order_1", Patch{"status": model.OrderAwaitingClient})
	require.NoError(t, err)
	assert.Equal(t, model.OrderAwaitingClient, o.Status)
	assert.Equal(t, clock, o.UpdatedAt)
	assert.Equal(t, clock.Add(-time.Minute), o.CreatedAt)
}

func TestMemoryDeleteReferencedStudentConflicts(t *testing.T) {
	m, _ := newMemory(t)
	ctx := context.Background()
	seedStudent(t, m, "s1", "s1@example.com")

	rec, err := InsertAs(ctx, m, Attendance, model.AttendanceRecord{
		StudentID: model.Ptr("s1"), Date: "2024-05-01", Timing: model.Timings[0], Status: model.StatusPresent,
	})
	require.NoError(t, err)

	assert.True(t, errors.Is(m.Delete(ctx, Students, "s1"), apperr.ErrConflict))
	require.NoError(t, m.Delete(ctx, Attendance, rec.ID))
	require.NoError(t, m.Delete(ctx, Students, "s1"))
	assert.True(t, errors.Is(m.Delete(ctx, Students, "s1"), apperr.ErrNotFound))
}

func TestMemoryPublishesWritesInOrder(t *testing.T) {
	m, _ := newMemory(t)
	ctx := context.Background()

	sub, err := m.Subscribe(ctx, Students)
	require.NoError(t, err)
	defer sub.Cancel()

	seedStudent(t, m, "s1", "s1@example.com")
	_, err = m.Update(ctx, Students, "s1", Patch{"name": "Renamed"})
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, Students, "s1"))

	var types []feed.EventType
	for len(types) < 4 {
		select {
		case evt := <-sub.Events():
			types = append(types, evt.Type)
			if evt.Type != feed.Resync {
				assert.Equal(t, "s1", evt.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("got only %v", types)
		}
	}
	assert.Equal(t, []feed.EventType{feed.Resync, feed.Insert, feed.Update, feed.Delete}, types)
}

func TestMemoryFailedWriteLeavesStateUnchanged(t *testing.T) {
	m, _ := newMemory(t)
	ctx := context.Background()
	seedStudent(t, m, "s1", "a@example.com")
	seedStudent(t, m, "s2", "b@example.com")

	_, err := m.Update(ctx, Students, "s2", Patch{"email": "a@example.com"})
	require.Error(t, err)

	got, err := GetAs[model.Student](ctx, m, Students, "s2")
	require.NoError(t, err)
	assert.Equal(t, "b@example.com", got.Email)
}

// brokenFeed fails every publish for one collection.
type brokenFeed struct {
	*feed.InMemory
	collection string
}

func (f brokenFeed) Publish(ctx context.Context, evt feed.Event) error {
	if evt.Collection == f.collection {
		return errors.New("redis: connection refused")
	}
	return f.InMemory.Publish(ctx, evt)
}

func TestMemoryCommittedWriteSurvivesFeedFailure(t *testing.T) {
	f := brokenFeed{InMemory: feed.NewInMemory(8), collection: string(Students)}
	m := NewMemory(f)
	ctx := context.Background()

	sub, err := m.Subscribe(ctx, Students)
	require.NoError(t, err)
	defer sub.Cancel()
	assert.Equal(t, feed.Resync, (<-sub.Events()).Type)

	seedStudent(t, m, "s1", "s1@example.com")
	_, err = m.Update(ctx, Students, "s1", Patch{"name": "Renamed"})
	require.NoError(t, err)

	got, err := GetAs[model.Student](ctx, m, Students, "s1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)

	// the lost events close the subscription so its owner reloads
	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription was not invalidated")
	}
}
