package errors

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/wire"
)

func TestResolve(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	h := NewErrorHandler(logger.FromLogrus(base))

	code, fatal := h.Resolve(nil, nil)
	assert.Equal(t, wire.RetOK, code)
	assert.False(t, fatal)
	assert.Empty(t, hook.Entries)

	code, fatal = h.Resolve(NewNotFoundError("channel"), logger.Fields{"opcode": 20})
	assert.Equal(t, wire.RetDataUnknown, code)
	assert.False(t, fatal)
	assert.Equal(t, logrus.DebugLevel, hook.LastEntry().Level)
	assert.Equal(t, 20, hook.LastEntry().Data["opcode"])

	code, fatal = h.Resolve(NewProtocolError("payload %d too large", 300000), nil)
	assert.Equal(t, wire.RetError, code)
	assert.True(t, fatal)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	code, fatal = h.Resolve(stderrors.New("boom"), nil)
	assert.Equal(t, wire.RetError, code)
	assert.False(t, fatal)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestHandleError(t *testing.T) {
	h := NewErrorHandler(logger.NewNop())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/x", nil)
	req.Header.Set("X-Request-ID", "trace-1")
	h.HandleError(rec, req, NewNotFoundError("session"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, ErrorTypeNotFound, body.Error.Type)
	assert.Equal(t, "session not found", body.Error.Message)
	assert.Equal(t, wire.RetDataUnknown, body.Error.Code)
	assert.Equal(t, "trace-1", body.TraceID)
}

func TestMiddlewareRecoversPanic(t *testing.T) {
	h := NewErrorHandler(logger.NewNop())
	wrapped := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
