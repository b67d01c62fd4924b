package health

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Pinger is anything that can verify its backing connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker checks a Pinger such as the channel store.
type PingChecker struct {
	name   string
	pinger Pinger
}

func NewPingChecker(name string, p Pinger) *PingChecker {
	return &PingChecker{name: name, pinger: p}
}

func (p *PingChecker) Name() string { return p.name }

func (p *PingChecker) Check(ctx context.Context) error {
	if err := p.pinger.Ping(ctx); err != nil {
		return fmt.Errorf("%s ping failed: %w", p.name, err)
	}
	return nil
}

// RedisChecker checks Redis connectivity.
type RedisChecker struct {
	client redis.UniversalClient
}

// NewRedisChecker creates a new Redis health checker.
func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (r *RedisChecker) Name() string { return "redis" }

func (r *RedisChecker) Check(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// DiskChecker reports degraded when the recordings volume runs low.
type DiskChecker struct {
	path    string
	minFree uint64
}

// NewDiskChecker creates a disk checker for path. A zero minFree only
// verifies the path is statable.
func NewDiskChecker(path string, minFree uint64) *DiskChecker {
	return &DiskChecker{path: path, minFree: minFree}
}

func (d *DiskChecker) Name() string { return "disk" }

func (d *DiskChecker) Check(ctx context.Context) error {
	usage, err := disk.UsageWithContext(ctx, d.path)
	if err != nil {
		return fmt.Errorf("disk usage of %s: %w", d.path, err)
	}
	if usage.Free < d.minFree {
		return Degraded(fmt.Errorf("%s: %d bytes free, want %d", d.path, usage.Free, d.minFree))
	}
	return nil
}

// MemoryChecker reports degraded above a used-memory percentage.
type MemoryChecker struct {
	threshold float64
}

// NewMemoryChecker creates a memory checker; threshold is in percent.
func NewMemoryChecker(threshold float64) *MemoryChecker {
	return &MemoryChecker{threshold: threshold}
}

func (m *MemoryChecker) Name() string { return "memory" }

func (m *MemoryChecker) Check(ctx context.Context) error {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("memory stats: %w", err)
	}
	if vm.UsedPercent > m.threshold {
		return Degraded(fmt.Errorf("memory %.1f%% used, threshold %.1f%%", vm.UsedPercent, m.threshold))
	}
	return nil
}

// CapacityChecker reports degraded when every tuner input is in use.
type CapacityChecker struct {
	name  string
	used  func() int
	limit int
}

func NewCapacityChecker(name string, used func() int, limit int) *CapacityChecker {
	return &CapacityChecker{name: name, used: used, limit: limit}
}

func (c *CapacityChecker) Name() string { return c.name }

func (c *CapacityChecker) Check(ctx context.Context) error {
	if c.limit <= 0 {
		return nil
	}
	if n := c.used(); n >= c.limit {
		return Degraded(fmt.Errorf("%d of %d in use", n, c.limit))
	}
	return nil
}
