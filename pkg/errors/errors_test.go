package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_MessageIncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewStoreFailureError(cause)

	assert.Contains(t, err.Error(), "STORE_FAILURE")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus)
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := WrapError(cause, ErrCodeInternal, "wrapped", http.StatusInternalServerError)
	assert.ErrorIs(t, err, cause)
}

func TestGetAppError_FindsWrappedError(t *testing.T) {
	app := NewCallStateError("not idle")
	chained := fmt.Errorf("handling command: %w", app)

	got := GetAppError(chained)
	require.NotNil(t, got)
	assert.Equal(t, ErrCodeCallState, got.Code)
}

func TestGetAppError_NilForPlainError(t *testing.T) {
	assert.Nil(t, GetAppError(errors.New("plain")))
}
