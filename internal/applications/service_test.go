package applications

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academy/internal/apperr"
	"academy/internal/feed"
	"academy/internal/logger"
	"academy/internal/model"
	"academy/internal/recordstore"
)

func TestSubmitListAndReview(t *testing.T) {
	svc := NewService(recordstore.NewMemory(feed.NewInMemory(16)), logger.Discard())
	ctx := context.Background()

	first, err := svc.Submit(ctx, SubmitInput{Name: "Meera", Email: "MEERA@example.com", Phone: "98450", Course: "Vocals"})
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationPending, first.Status)
	assert.Equal(t, "meera@example.com", first.Email)

	second, err := svc.Submit(ctx, SubmitInput{Name: "Kiran", Email: "kiran@example.com", Phone: "98451", Course: "Guitar", Message: model.Ptr("weekends only")})
	require.NoError(t, err)

	list, err := svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 2)

	approved, err := svc.SetStatus(ctx, first.ID, model.ApplicationApproved)
	require.NoError(t, err)
	assert.Equal(t, model.ApplicationApproved, approved.Status)

	pending, err := svc.List(ctx, "pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func TestSubmitValidation(t *testing.T) {
	svc := NewService(recordstore.NewMemory(feed.NewInMemory(16)), logger.Discard())
	ctx := context.Background()

	_, err := svc.Submit(ctx, SubmitInput{Name: "Meera", Email: "meera", Phone: "1", Course: "Vocals"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = svc.SetStatus(ctx, "x", "archived")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = svc.SetStatus(ctx, "missing", model.ApplicationRejected)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = svc.List(ctx, "archived")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}
