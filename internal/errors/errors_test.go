package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnsid/vnsid/internal/wire"
)

func TestNewAssignsReturnCode(t *testing.T) {
	tests := []struct {
		errType    ErrorType
		code       uint32
		httpStatus int
		fatal      bool
	}{
		{ErrorTypeProtocol, wire.RetError, http.StatusInternalServerError, true},
		{ErrorTypeFatalIO, wire.RetError, http.StatusInternalServerError, true},
		{ErrorTypeTransientIO, wire.RetError, http.StatusInternalServerError, false},
		{ErrorTypeNotFound, wire.RetDataUnknown, http.StatusNotFound, false},
		{ErrorTypeInvalidData, wire.RetDataInvalid, http.StatusBadRequest, false},
		{ErrorTypeLocked, wire.RetDataLocked, http.StatusConflict, false},
		{ErrorTypeResourceExhausted, wire.RetDataLocked, http.StatusServiceUnavailable, false},
		{ErrorTypeNotSupported, wire.RetNotSupported, http.StatusNotImplemented, false},
		{ErrorTypeRecRunning, wire.RetRecRunning, http.StatusInternalServerError, false},
		{ErrorTypeInternal, wire.RetError, http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.errType), func(t *testing.T) {
			err := New(tt.errType, "x")
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.httpStatus, err.HTTPStatus)
			assert.Equal(t, tt.fatal, err.Fatal())
		})
	}
}

func TestSentinelSurvivesWrapping(t *testing.T) {
	sentinel := NewNotFoundError("channel")
	wrapped := fmt.Errorf("lookup 42: %w", sentinel)

	assert.True(t, Is(wrapped, sentinel))
	assert.True(t, Is(wrapped, NewNotFoundError("channel")))
	assert.False(t, Is(wrapped, NewNotFoundError("timer")))

	appErr, ok := GetAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrorTypeNotFound, appErr.Type)
	assert.Equal(t, ErrorTypeNotFound, TypeOf(wrapped))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("broken pipe")
	err := WrapFatalIO(cause, "write failed")

	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "FATAL_IO: write failed")
	assert.Contains(t, err.Error(), "broken pipe")
	assert.True(t, err.Fatal())
}

func TestTypeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorTypeInternal, TypeOf(stderrors.New("plain")))
	assert.False(t, IsAppError(stderrors.New("plain")))
}
