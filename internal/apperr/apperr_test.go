package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("add member: %w", Conflict("attendance.add", "student already present"))
	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
	assert.Equal(t, "student already present", Message(err))
}

func TestUpstreamHidesCause(t *testing.T) {
	err := Upstream("gateway.create_order", errors.New("dial tcp: connection refused"))
	assert.True(t, errors.Is(err, ErrUpstream))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(err))
	assert.Contains(t, err.Error(), "connection refused")
	assert.NotContains(t, Message(err), "connection refused")
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		nil:                                 http.StatusOK,
		Validation("op", "bad"):             http.StatusBadRequest,
		NotFound("op", "missing"):           http.StatusNotFound,
		VerificationFailed("op", "bad sig"): http.StatusBadRequest,
		errors.New("boom"):                  http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), "%v", err)
	}
	assert.Equal(t, "internal error", Message(errors.New("boom")))
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "conflict", Code(Conflict("op", "dup")))
	assert.Equal(t, "not_found", Code(fmt.Errorf("wrap: %w", NotFound("op", "gone"))))
	assert.Equal(t, "upstream", Code(Upstream("op", errors.New("timeout"))))
	assert.Equal(t, "internal", Code(errors.New("boom")))
}
