package ringbuffer

import (
	"sync"

	"github.com/vnsid/vnsid/internal/metrics"
)

// The I/O throttle is engaged while any ring buffer is close to full, so
// bulk file I/O can back off in favour of live inputs.
var throttle struct {
	mu    sync.Mutex
	count int
}

// Throttled reports whether at least one buffer requests the throttle.
func Throttled() bool {
	throttle.mu.Lock()
	defer throttle.mu.Unlock()
	return throttle.count > 0
}

// SetIoThrottle engages the global throttle on behalf of this buffer. It is
// released by Clear, Close, or once the buffer drains below a quarter.
func (rb *RingBuffer) SetIoThrottle() {
	rb.mu.Lock()
	rb.engageThrottle()
	rb.mu.Unlock()
}

// engageThrottle counts this buffer at most once. Caller holds rb.mu.
func (rb *RingBuffer) engageThrottle() {
	if rb.throttled {
		return
	}
	rb.throttled = true

	throttle.mu.Lock()
	throttle.count++
	n := throttle.count
	throttle.mu.Unlock()
	metrics.SetIOThrottle(n)
}

// releaseThrottle is a no-op when this buffer did not engage. Caller holds rb.mu.
func (rb *RingBuffer) releaseThrottle() {
	if !rb.throttled {
		return
	}
	rb.throttled = false

	throttle.mu.Lock()
	throttle.count--
	n := throttle.count
	throttle.mu.Unlock()
	metrics.SetIOThrottle(n)
}
