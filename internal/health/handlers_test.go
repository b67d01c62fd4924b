package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnsid/vnsid/internal/logger"
)

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		want     Status
	}{
		{"ok", nil, http.StatusOK, StatusOK},
		{"degraded", Degraded(errors.New("low")), http.StatusOK, StatusDegraded},
		{"down", errors.New("gone"), http.StatusServiceUnavailable, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(logger.NewNop())
			m.Register(&mockChecker{name: "store", err: tt.err})
			h := NewHandler(m)

			rr := httptest.NewRecorder()
			h.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Equal(t, "no-cache, no-store, must-revalidate", rr.Header().Get("Cache-Control"))

			var resp Response
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Status)
			assert.NotEmpty(t, resp.Version)
			assert.NotEmpty(t, resp.Uptime)
			require.Contains(t, resp.Checks, "store")
			assert.Equal(t, tt.want, resp.Checks["store"].Status)
		})
	}
}

func TestHandleReady(t *testing.T) {
	m := NewManager(logger.NewNop())
	h := NewHandler(m)

	rr := httptest.NewRecorder()
	h.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	m.Register(&mockChecker{name: "store"})
	m.RunChecks(t.Context())

	rr = httptest.NewRecorder()
	h.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestHandleLive(t *testing.T) {
	h := NewHandler(NewManager(logger.NewNop()))
	rr := httptest.NewRecorder()
	h.HandleLive(rr, httptest.NewRequest(http.MethodGet, "/live", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"alive"`)
}
