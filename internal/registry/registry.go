// Package registry publishes the streams a process serves, in memory or
// in Redis so several instances can be observed together.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnsid/vnsid/internal/config"
	"github.com/vnsid/vnsid/internal/logger"
)

var (
	// ErrStreamNotFound is returned when a stream is not found in the registry
	ErrStreamNotFound = errors.New("stream not found")
)

// Registry defines the interface for stream registry operations
type Registry interface {
	// Register adds a stream, or refreshes it keeping its creation time.
	Register(ctx context.Context, stream *Stream) error
	Unregister(ctx context.Context, streamID string) error
	Get(ctx context.Context, streamID string) (*Stream, error)
	// List returns all streams ordered by creation time.
	List(ctx context.Context) ([]*Stream, error)
	UpdateStatus(ctx context.Context, streamID string, status StreamStatus) error
	// UpdateStats refreshes statistics and the heartbeat.
	UpdateStats(ctx context.Context, streamID string, stats *StreamStats) error
	Close() error
}

// New returns a Redis registry when cfg enables it, an in-memory one
// otherwise.
func New(ctx context.Context, cfg config.RedisConfig, log logger.Logger) (Registry, error) {
	if !cfg.Enabled {
		return NewMemoryRegistry(), nil
	}
	if len(cfg.Addresses) == 0 {
		return nil, errors.New("redis enabled without addresses")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addresses[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedisRegistry(client, log, cfg.TTL), nil
}

// MemoryRegistry keeps streams in process.
type MemoryRegistry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{streams: make(map[string]*Stream)}
}

func (m *MemoryRegistry) Register(ctx context.Context, stream *Stream) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if old, ok := m.streams[stream.ID]; ok {
		stream.CreatedAt = old.CreatedAt
	} else {
		stream.CreatedAt = now
	}
	stream.LastHeartbeat = now
	cp := *stream
	m.streams[stream.ID] = &cp
	return nil
}

func (m *MemoryRegistry) Unregister(ctx context.Context, streamID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.streams[streamID]; !ok {
		return ErrStreamNotFound
	}
	delete(m.streams, streamID)
	return nil
}

func (m *MemoryRegistry) Get(ctx context.Context, streamID string) (*Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[streamID]
	if !ok {
		return nil, ErrStreamNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryRegistry) List(ctx context.Context) ([]*Stream, error) {
	m.mu.RLock()
	out := make([]*Stream, 0, len(m.streams))
	for _, s := range m.streams {
		cp := *s
		out = append(out, &cp)
	}
	m.mu.RUnlock()
	sortStreams(out)
	return out, nil
}

func (m *MemoryRegistry) UpdateStatus(ctx context.Context, streamID string, status StreamStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[streamID]
	if !ok {
		return ErrStreamNotFound
	}
	s.Status = status
	s.LastHeartbeat = time.Now()
	return nil
}

func (m *MemoryRegistry) UpdateStats(ctx context.Context, streamID string, stats *StreamStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[streamID]
	if !ok {
		return ErrStreamNotFound
	}
	s.ApplyStats(stats)
	s.LastHeartbeat = time.Now()
	return nil
}

func (m *MemoryRegistry) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streams = make(map[string]*Stream)
	return nil
}

func sortStreams(streams []*Stream) {
	sort.Slice(streams, func(i, j int) bool {
		if streams[i].CreatedAt.Equal(streams[j].CreatedAt) {
			return streams[i].ID < streams[j].ID
		}
		return streams[i].CreatedAt.Before(streams[j].CreatedAt)
	})
}
