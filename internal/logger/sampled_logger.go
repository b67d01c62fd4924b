package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SampledLogger rate-limits high-frequency log categories. Categories without
// a sampler are always logged.
type SampledLogger struct {
	Logger
	samplers *samplerSet
}

type samplerSet struct {
	mu sync.RWMutex
	m  map[string]*sampler
}

type sampler struct {
	limiter *rate.Limiter
	total   atomic.Int64
	dropped atomic.Int64
	// dropped messages since the last emitted line, reported on the next one
	suppressed atomic.Int64
}

// SamplerStats holds statistics for a log category
type SamplerStats struct {
	Name    string `json:"name"`
	Total   int64  `json:"total"`
	Dropped int64  `json:"dropped"`
}

// Log categories used by the streaming pipeline.
const (
	CategoryRingOverflow = "ring_overflow"
	CategoryTSSync       = "ts_sync"
	CategoryContinuity   = "continuity"
	CategoryScrambled    = "scrambled"
	CategoryStarvation   = "starvation"
	CategoryWriteRetry   = "write_retry"
	CategoryRejected     = "connection_rejected"
)

// NewSampledLogger creates a sampled logger with no categories configured.
func NewSampledLogger(base Logger) *SampledLogger {
	return &SampledLogger{
		Logger:   base,
		samplers: &samplerSet{m: make(map[string]*sampler)},
	}
}

// WithSampler allows every messages per interval for a category after an
// initial burst.
func (s *SampledLogger) WithSampler(category string, every time.Duration, burst int) *SampledLogger {
	s.samplers.mu.Lock()
	defer s.samplers.mu.Unlock()

	s.samplers.m[category] = &sampler{limiter: rate.NewLimiter(rate.Every(every), burst)}
	return s
}

// NewStreamLogger returns the sampled logger used by ring buffers, demuxers
// and sessions.
func NewStreamLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		WithSampler(CategoryRingOverflow, time.Second, 3).
		WithSampler(CategoryTSSync, time.Second, 5).
		WithSampler(CategoryContinuity, 5*time.Second, 5).
		WithSampler(CategoryScrambled, 10*time.Second, 1).
		WithSampler(CategoryStarvation, 5*time.Second, 1).
		WithSampler(CategoryWriteRetry, time.Second, 3).
		WithSampler(CategoryRejected, time.Second, 10)
}

func (s *SampledLogger) allow(category string) (bool, int64) {
	s.samplers.mu.RLock()
	sm, ok := s.samplers.m[category]
	s.samplers.mu.RUnlock()
	if !ok {
		return true, 0
	}

	sm.total.Add(1)
	if !sm.limiter.Allow() {
		sm.dropped.Add(1)
		sm.suppressed.Add(1)
		return false, 0
	}
	return true, sm.suppressed.Swap(0)
}

// LogCategory logs msg at level unless the category is over its rate.
func (s *SampledLogger) LogCategory(level logrus.Level, category, msg string, fields Fields) {
	ok, suppressed := s.allow(category)
	if !ok {
		return
	}

	f := make(Fields, len(fields)+2)
	for k, v := range fields {
		f[k] = v
	}
	f["category"] = category
	if suppressed > 0 {
		f["suppressed"] = suppressed
	}
	s.Logger.WithFields(f).Log(level, msg)
}

func (s *SampledLogger) DebugWithCategory(category, msg string, fields Fields) {
	s.LogCategory(logrus.DebugLevel, category, msg, fields)
}

func (s *SampledLogger) InfoWithCategory(category, msg string, fields Fields) {
	s.LogCategory(logrus.InfoLevel, category, msg, fields)
}

func (s *SampledLogger) WarnWithCategory(category, msg string, fields Fields) {
	s.LogCategory(logrus.WarnLevel, category, msg, fields)
}

// ErrorWithCategory is never sampled.
func (s *SampledLogger) ErrorWithCategory(category, msg string, fields Fields) {
	f := make(Fields, len(fields)+1)
	for k, v := range fields {
		f[k] = v
	}
	f["category"] = category
	s.Logger.WithFields(f).Error(msg)
}

// Stats returns per-category counters.
func (s *SampledLogger) Stats() map[string]SamplerStats {
	s.samplers.mu.RLock()
	defer s.samplers.mu.RUnlock()

	stats := make(map[string]SamplerStats, len(s.samplers.m))
	for name, sm := range s.samplers.m {
		stats[name] = SamplerStats{
			Name:    name,
			Total:   sm.total.Load(),
			Dropped: sm.dropped.Load(),
		}
	}
	return stats
}

// The derived loggers share the parent's limiters.

func (s *SampledLogger) WithFields(fields map[string]interface{}) Logger {
	return &SampledLogger{Logger: s.Logger.WithFields(fields), samplers: s.samplers}
}

func (s *SampledLogger) WithField(key string, value interface{}) Logger {
	return &SampledLogger{Logger: s.Logger.WithField(key, value), samplers: s.samplers}
}

func (s *SampledLogger) WithError(err error) Logger {
	return &SampledLogger{Logger: s.Logger.WithError(err), samplers: s.samplers}
}

// Sampled upgrades l to a SampledLogger, reusing l's samplers when it
// already is one.
func Sampled(l Logger) *SampledLogger {
	if s, ok := l.(*SampledLogger); ok {
		return s
	}
	return NewStreamLogger(l)
}
