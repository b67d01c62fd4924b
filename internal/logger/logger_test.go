package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnsid/vnsid/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  *config.LoggingConfig
		wantErr bool
		check   func(t *testing.T, logger *logrus.Logger)
	}{
		{
			name:   "json format stdout",
			config: &config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.InfoLevel, logger.Level)
				_, ok := logger.Formatter.(*logrus.JSONFormatter)
				assert.True(t, ok)
			},
		},
		{
			name:   "text format stderr",
			config: &config.LoggingConfig{Level: "debug", Format: "text", Output: "stderr"},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.DebugLevel, logger.Level)
				_, ok := logger.Formatter.(*logrus.TextFormatter)
				assert.True(t, ok)
			},
		},
		{
			name: "file output",
			config: &config.LoggingConfig{
				Level:      "warn",
				Format:     "json",
				Output:     filepath.Join(t.TempDir(), "logs", "vnsid.log"),
				MaxSize:    10,
				MaxBackups: 3,
				MaxAge:     7,
			},
			check: func(t *testing.T, logger *logrus.Logger) {
				assert.Equal(t, logrus.WarnLevel, logger.Level)
				logger.Warn("rotated output")
			},
		},
		{
			name:    "invalid level",
			config:  &config.LoggingConfig{Level: "chatty", Format: "json", Output: "stdout"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, logger)
		})
	}
}

func TestFileOutputCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vnsid.log")
	l, err := New(&config.LoggingConfig{Level: "info", Format: "text", Output: path, MaxSize: 1})
	require.NoError(t, err)

	l.Info("hello")
	_, err = os.Stat(filepath.Dir(path))
	assert.NoError(t, err)
}

func TestServiceFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	l := WithSession(WithComponent(Service(base), "session"), "abc", "10.0.0.1:1234")

	l.Info("connected")

	require.Len(t, hook.Entries, 1)
	entry := hook.LastEntry()
	assert.Equal(t, "vnsid", entry.Data["service"])
	assert.Equal(t, "session", entry.Data["component"])
	assert.Equal(t, "abc", entry.Data["session_id"])
	assert.Equal(t, "10.0.0.1:1234", entry.Data["remote_addr"])
}

func TestNopLoggerDoesNotExit(t *testing.T) {
	l := NewNop()
	l.WithField("k", "v").WithError(assert.AnError).Error("ignored")
	l.Fatal("still running")
}

func TestContextLogger(t *testing.T) {
	base, hook := test.NewNullLogger()
	l := FromLogrus(base)

	ctx := WithLogger(context.Background(), l.WithField("request_id", "r1"))
	FromContext(ctx).Info("from context")
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "r1", hook.LastEntry().Data["request_id"])

	// missing logger falls back to a discarding one
	FromContext(context.Background()).Info("dropped")
	assert.Len(t, hook.Entries, 1)
}

func TestRequestLoggerMiddleware(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)

	var seenID string
	h := RequestLoggerMiddleware(FromLogrus(base))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.NotEmpty(t, seenID)
	assert.Equal(t, seenID, rec.Header().Get("X-Request-ID"))
	require.NotEmpty(t, hook.Entries)
	assert.Equal(t, http.StatusTeapot, hook.LastEntry().Data["status"])
}
