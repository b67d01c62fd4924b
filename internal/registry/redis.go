package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnsid/vnsid/internal/logger"
)

const defaultPrefix = "vnsid:streams:"

var (
	registerScript = redis.NewScript(`
		local key = KEYS[1]
		local active_key = KEYS[2]
		local data = ARGV[1]
		local ttl = tonumber(ARGV[2])
		local stream_id = ARGV[3]
		redis.call('SET', key, data, 'PX', ttl)
		redis.call('SADD', active_key, stream_id)
		return 1
	`)

	listScript = redis.NewScript(`
		local active_key = KEYS[1]
		local prefix = ARGV[1]
		local active = redis.call('SMEMBERS', active_key)
		local result = {}
		local to_remove = {}
		for i, id in ipairs(active) do
			local stream = redis.call('GET', prefix .. id)
			if stream then
				table.insert(result, stream)
			else
				table.insert(to_remove, id)
			end
		end
		for i, id in ipairs(to_remove) do
			redis.call('SREM', active_key, id)
		end
		return result
	`)

	statusScript = redis.NewScript(`
		local key = KEYS[1]
		local ttl = tonumber(ARGV[1])
		local data = redis.call('GET', key)
		if not data then
			return redis.error_reply("stream not found")
		end
		local stream = cjson.decode(data)
		stream.status = ARGV[2]
		stream.last_heartbeat = ARGV[3]
		redis.call('SET', key, cjson.encode(stream), 'PX', ttl)
		return "OK"
	`)

	statsScript = redis.NewScript(`
		local key = KEYS[1]
		local ttl = tonumber(ARGV[1])
		local data = redis.call('GET', key)
		if not data then
			return redis.error_reply("stream not found")
		end
		local stream = cjson.decode(data)
		local stats = cjson.decode(ARGV[2])
		stream.serial = stats.Serial
		stream.packets = stats.Packets
		stream.bytes = stats.Bytes
		stream.errors = stats.Errors
		stream.last_heartbeat = ARGV[3]
		redis.call('SET', key, cjson.encode(stream), 'PX', ttl)
		return "OK"
	`)
)

// RedisRegistry implements Registry with Redis as backend. Entries expire
// after ttl unless refreshed, so streams of a crashed process disappear.
type RedisRegistry struct {
	client *redis.Client
	log    logger.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisRegistry creates a new Redis-backed registry
func NewRedisRegistry(client *redis.Client, log logger.Logger, ttl time.Duration) *RedisRegistry {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisRegistry{
		client: client,
		log:    logger.WithComponent(log, "registry"),
		prefix: defaultPrefix,
		ttl:    ttl,
	}
}

// Client exposes the connection for health checks.
func (r *RedisRegistry) Client() redis.UniversalClient { return r.client }

func (r *RedisRegistry) activeKey() string { return r.prefix + "active" }

func (r *RedisRegistry) Register(ctx context.Context, stream *Stream) error {
	key := r.prefix + stream.ID
	now := time.Now()
	existing, err := r.Get(ctx, stream.ID)
	switch {
	case err == nil:
		stream.CreatedAt = existing.CreatedAt
	case errors.Is(err, ErrStreamNotFound):
		stream.CreatedAt = now
	default:
		return fmt.Errorf("failed to check existing stream: %w", err)
	}
	stream.LastHeartbeat = now

	data, err := json.Marshal(stream)
	if err != nil {
		return fmt.Errorf("failed to marshal stream: %w", err)
	}
	if err := registerScript.Run(ctx, r.client, []string{key, r.activeKey()},
		data, r.ttl.Milliseconds(), stream.ID).Err(); err != nil {
		return fmt.Errorf("failed to register stream: %w", err)
	}

	r.log.WithFields(logger.Fields{
		"stream_id": stream.ID,
		"kind":      stream.Kind,
		"channel":   stream.ChannelName,
	}).Debug("Stream registered")
	return nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, streamID string) error {
	deleted, err := r.client.Del(ctx, r.prefix+streamID).Result()
	if err != nil {
		return fmt.Errorf("failed to unregister stream: %w", err)
	}
	if err := r.client.SRem(ctx, r.activeKey(), streamID).Err(); err != nil {
		r.log.Warnf("Failed to remove stream %s from active set: %v", streamID, err)
	}
	if deleted == 0 {
		return ErrStreamNotFound
	}
	r.log.WithField("stream_id", streamID).Debug("Stream unregistered")
	return nil
}

func (r *RedisRegistry) Get(ctx context.Context, streamID string) (*Stream, error) {
	data, err := r.client.Get(ctx, r.prefix+streamID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStreamNotFound
		}
		return nil, fmt.Errorf("failed to get stream: %w", err)
	}
	var stream Stream
	if err := json.Unmarshal(data, &stream); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stream: %w", err)
	}
	return &stream, nil
}

// List returns all live entries and prunes expired ids from the active set.
func (r *RedisRegistry) List(ctx context.Context) ([]*Stream, error) {
	res, err := listScript.Run(ctx, r.client, []string{r.activeKey()}, r.prefix).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	values, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected result type from script")
	}

	streams := make([]*Stream, 0, len(values))
	for _, val := range values {
		data, ok := val.(string)
		if !ok {
			r.log.Warn("Invalid data type in result")
			continue
		}
		var stream Stream
		if err := json.Unmarshal([]byte(data), &stream); err != nil {
			r.log.WithError(err).Warn("Failed to unmarshal stream")
			continue
		}
		streams = append(streams, &stream)
	}
	sortStreams(streams)
	return streams, nil
}

func (r *RedisRegistry) UpdateStatus(ctx context.Context, streamID string, status StreamStatus) error {
	now := time.Now().Format(time.RFC3339Nano)
	err := statusScript.Run(ctx, r.client, []string{r.prefix + streamID},
		r.ttl.Milliseconds(), string(status), now).Err()
	if err != nil {
		return r.scriptError("update status", err)
	}
	r.log.WithFields(logger.Fields{
		"stream_id": streamID,
		"status":    status,
	}).Debug("Stream status updated")
	return nil
}

func (r *RedisRegistry) UpdateStats(ctx context.Context, streamID string, stats *StreamStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	now := time.Now().Format(time.RFC3339Nano)
	err = statsScript.Run(ctx, r.client, []string{r.prefix + streamID},
		r.ttl.Milliseconds(), string(statsJSON), now).Err()
	if err != nil {
		return r.scriptError("update stats", err)
	}
	return nil
}

func (r *RedisRegistry) scriptError(op string, err error) error {
	if strings.Contains(err.Error(), "stream not found") {
		return ErrStreamNotFound
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// Close closes the Redis client.
func (r *RedisRegistry) Close() error {
	return r.client.Close()
}
