package logger

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampledLoggerBurstThenDrop(t *testing.T) {
	base, hook := test.NewNullLogger()
	s := NewSampledLogger(FromLogrus(base)).WithSampler("overflow", time.Hour, 3)

	for i := 0; i < 10; i++ {
		s.WarnWithCategory("overflow", "ring buffer overflow", Fields{"bytes": i})
	}

	assert.Len(t, hook.Entries, 3)
	assert.Equal(t, "overflow", hook.LastEntry().Data["category"])

	stats := s.Stats()["overflow"]
	assert.Equal(t, int64(10), stats.Total)
	assert.Equal(t, int64(7), stats.Dropped)
}

func TestSampledLoggerReportsSuppressed(t *testing.T) {
	base, hook := test.NewNullLogger()
	s := NewSampledLogger(FromLogrus(base)).WithSampler("sync", 20*time.Millisecond, 1)

	s.WarnWithCategory("sync", "lost sync", nil)
	s.WarnWithCategory("sync", "lost sync", nil)
	s.WarnWithCategory("sync", "lost sync", nil)
	require.Len(t, hook.Entries, 1)

	time.Sleep(40 * time.Millisecond)
	s.WarnWithCategory("sync", "lost sync", nil)
	require.Len(t, hook.Entries, 2)
	assert.Equal(t, int64(2), hook.LastEntry().Data["suppressed"])
}

func TestSampledLoggerUnconfiguredCategory(t *testing.T) {
	base, hook := test.NewNullLogger()
	s := NewSampledLogger(FromLogrus(base))

	for i := 0; i < 5; i++ {
		s.InfoWithCategory("other", "always", nil)
	}
	assert.Len(t, hook.Entries, 5)
}

func TestSampledLoggerErrorsNeverSampled(t *testing.T) {
	base, hook := test.NewNullLogger()
	s := NewSampledLogger(FromLogrus(base)).WithSampler("x", time.Hour, 1)

	for i := 0; i < 4; i++ {
		s.ErrorWithCategory("x", "boom", nil)
	}
	assert.Len(t, hook.Entries, 4)
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestSampledLoggerDerivedSharesLimiter(t *testing.T) {
	base, hook := test.NewNullLogger()
	s := NewSampledLogger(FromLogrus(base)).WithSampler("x", time.Hour, 1)

	child := Sampled(s.WithField("stream", "a"))
	s.WarnWithCategory("x", "first", nil)
	child.WarnWithCategory("x", "second", nil)

	assert.Len(t, hook.Entries, 1)
}
