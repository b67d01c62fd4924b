package health

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vnsid/vnsid/internal/logger"
)

type mockChecker struct {
	name  string
	err   error
	delay time.Duration
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestRunChecks(t *testing.T) {
	m := NewManager(logger.NewNop())
	m.Register(&mockChecker{name: "store"})
	m.Register(&mockChecker{name: "redis", err: errors.New("connection refused")})
	m.Register(&mockChecker{name: "disk", err: Degraded(errors.New("low space"))})

	results := m.RunChecks(context.Background())
	require.Len(t, results, 3)
	assert.Equal(t, StatusOK, results["store"].Status)
	assert.Empty(t, results["store"].Message)
	assert.Equal(t, StatusDown, results["redis"].Status)
	assert.Contains(t, results["redis"].Message, "connection refused")
	assert.Equal(t, StatusDegraded, results["disk"].Status)
	assert.Equal(t, "low space", results["disk"].Message)

	cached := m.GetResults()
	require.Len(t, cached, 3)
	cached["store"].Status = StatusDown
	assert.Equal(t, StatusOK, m.GetResults()["store"].Status)
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{"no results", nil, StatusDown},
		{"all ok", []Checker{&mockChecker{name: "a"}, &mockChecker{name: "b"}}, StatusOK},
		{"degraded", []Checker{&mockChecker{name: "a"}, &mockChecker{name: "b", err: Degraded(errors.New("x"))}}, StatusDegraded},
		{"down wins", []Checker{
			&mockChecker{name: "a", err: Degraded(errors.New("x"))},
			&mockChecker{name: "b", err: errors.New("y")},
		}, StatusDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(logger.NewNop())
			for _, c := range tt.checkers {
				m.Register(c)
			}
			if len(tt.checkers) > 0 {
				m.RunChecks(context.Background())
			}
			assert.Equal(t, tt.want, m.GetOverallStatus())
		})
	}
}

func TestCheckTimeout(t *testing.T) {
	m := NewManager(logger.NewNop())
	m.Register(&mockChecker{name: "slow", delay: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	results := m.RunChecks(ctx)
	assert.Equal(t, StatusDown, results["slow"].Status)
	assert.Equal(t, "Health check timed out", results["slow"].Message)
}

func TestDegradedNil(t *testing.T) {
	assert.NoError(t, Degraded(nil))
	base := errors.New("base")
	assert.ErrorIs(t, Degraded(base), base)
}

func TestPingChecker(t *testing.T) {
	ok := NewPingChecker("store", pingFunc(func(context.Context) error { return nil }))
	assert.Equal(t, "store", ok.Name())
	assert.NoError(t, ok.Check(context.Background()))

	bad := NewPingChecker("store", pingFunc(func(context.Context) error { return errors.New("database is locked") }))
	assert.ErrorContains(t, bad.Check(context.Background()), "database is locked")
}

func TestRedisChecker(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()

	c := NewRedisChecker(client)
	assert.Equal(t, "redis", c.Name())
	assert.NoError(t, c.Check(context.Background()))

	mr.Close()
	assert.Error(t, c.Check(context.Background()))
}

func TestDiskChecker(t *testing.T) {
	dir := t.TempDir()

	assert.NoError(t, NewDiskChecker(dir, 0).Check(context.Background()))

	err := NewDiskChecker(dir, ^uint64(0)).Check(context.Background())
	var degraded *degradedError
	assert.ErrorAs(t, err, &degraded)

	missing := NewDiskChecker(dir+string(os.PathSeparator)+"missing", 0).Check(context.Background())
	assert.Error(t, missing)
	assert.False(t, errors.As(missing, &degraded))
}

func TestMemoryChecker(t *testing.T) {
	assert.NoError(t, NewMemoryChecker(100).Check(context.Background()))

	var degraded *degradedError
	assert.ErrorAs(t, NewMemoryChecker(-1).Check(context.Background()), &degraded)
}

func TestCapacityChecker(t *testing.T) {
	used := 1
	c := NewCapacityChecker("inputs", func() int { return used }, 2)
	assert.NoError(t, c.Check(context.Background()))
	used = 2
	assert.Error(t, c.Check(context.Background()))
	assert.NoError(t, NewCapacityChecker("inputs", func() int { return 5 }, 0).Check(context.Background()))
}
