package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorString(t *testing.T) {
	err := NewValidation("quantity must be positive")
	assert.Equal(t, "VALIDATION_ERROR: quantity must be positive", err.Error())

	cause := errors.New("connection refused")
	assert.Contains(t, NewInternal(cause).Error(), "connection refused")
}

func TestAppError_UnwrapChain(t *testing.T) {
	cause := errors.New("serialization failure")
	err := NewTransient(cause, 3)

	assert.True(t, errors.Is(err, cause))

	wrapped := fmt.Errorf("run transaction: %w", err)
	appErr, ok := AsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeTransient, appErr.Code)
	assert.Equal(t, 3, appErr.Details["retries"])
}

func TestAppError_WithDetail(t *testing.T) {
	err := NewConflict("count already preloaded").
		WithDetail("countId", "abc").
		WithDetail("items", 4)

	assert.Equal(t, "abc", err.Details["countId"])
	assert.Equal(t, 4, err.Details["items"])
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want int
	}{
		{"validation", NewValidation("bad"), http.StatusBadRequest},
		{"not found", NewNotFound("balance", "p1"), http.StatusNotFound},
		{"insufficient stock", NewInsufficientStock("p1", 5, 3), http.StatusUnprocessableEntity},
		{"invalid transition", NewInvalidStateTransition("transfer", "received", "ship"), http.StatusUnprocessableEntity},
		{"concurrent modification", NewConcurrentModification("balance", "p1"), http.StatusConflict},
		{"idempotency conflict", NewIdempotencyConflict("k1"), http.StatusConflict},
		{"transient", NewTransient(errors.New("x"), 3), http.StatusServiceUnavailable},
		{"internal", NewInternal(errors.New("x")), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.HTTPStatus)
			assert.Equal(t, tt.want, GetHTTPStatus(tt.err))
		})
	}

	assert.Equal(t, http.StatusInternalServerError, GetHTTPStatus(errors.New("plain")))
}

func TestHelpers(t *testing.T) {
	assert.True(t, IsNotFound(NewNotFound("balance", "p1")))
	assert.True(t, IsInsufficientStock(NewInsufficientStock("p1", 2, 1)))
	assert.True(t, IsConcurrentModification(NewConcurrentModification("balance", "p1")))
	assert.True(t, IsCode(NewIdempotencyMismatch("k1"), CodeIdempotency))

	wrapped := fmt.Errorf("apply movement: %w", NewNotFound("balance", "p1"))
	assert.True(t, IsNotFound(wrapped), "codes survive wrapping")

	assert.False(t, IsAppError(errors.New("plain")))
	assert.False(t, IsNotFound(nil))
}
