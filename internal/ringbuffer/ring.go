// Package ringbuffer provides the bounded byte buffer between an input
// device and the demultiplexer.
package ringbuffer

import (
	"errors"
	"sync"
	"time"

	"github.com/vnsid/vnsid/internal/logger"
	"github.com/vnsid/vnsid/internal/metrics"
)

var ErrClosed = errors.New("ring buffer closed")

// RingBuffer is a single-producer single-consumer byte ring.
//
// The first margin bytes of the backing array are not part of the ring.
// When the unread data wraps and fewer than margin bytes remain before the
// physical end, Get copies that tail in front of the ring start so that at
// least margin contiguous bytes can be returned.
type RingBuffer struct {
	name   string
	log    *logger.SampledLogger
	buf    []byte
	margin int

	mu         sync.Mutex
	head       int // next write position
	tail       int // next read position
	closed     bool
	endOfData  bool
	throttled  bool
	putTimeout time.Duration
	getTimeout time.Duration

	overflowBytes  int64
	overflowEvents int64
	putBytes       int64

	dataReady  chan struct{}
	spaceReady chan struct{}
}

// Stats is a snapshot of a ring buffer's state.
type Stats struct {
	Name           string `json:"name"`
	Size           int    `json:"size"`
	Margin         int    `json:"margin"`
	Available      int    `json:"available"`
	Free           int    `json:"free"`
	BytesIn        int64  `json:"bytes_in"`
	OverflowBytes  int64  `json:"overflow_bytes"`
	OverflowEvents int64  `json:"overflow_events"`
	Throttled      bool   `json:"throttled"`
}

// New creates a ring holding up to capacity unread bytes, of which Get
// returns at least margin contiguous bytes once that many are available.
func New(name string, capacity, margin int, log logger.Logger) *RingBuffer {
	if margin < 0 {
		margin = 0
	}
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		name:       name,
		log:        logger.Sampled(logger.WithComponent(log, "ringbuffer").WithField("buffer", name)),
		buf:        make([]byte, capacity+margin+1),
		margin:     margin,
		head:       margin,
		tail:       margin,
		dataReady:  make(chan struct{}, 1),
		spaceReady: make(chan struct{}, 1),
	}
}

// Size returns the length of the backing array. For every state
// Available()+Free()+Margin()+1 == Size().
func (rb *RingBuffer) Size() int { return len(rb.buf) }

// Margin returns the contiguous read guarantee.
func (rb *RingBuffer) Margin() int { return rb.margin }

// Capacity returns the maximum number of unread bytes.
func (rb *RingBuffer) Capacity() int { return len(rb.buf) - rb.margin - 1 }

func (rb *RingBuffer) available() int {
	diff := rb.head - rb.tail
	if diff >= 0 {
		return diff
	}
	return len(rb.buf) - rb.margin + diff
}

func (rb *RingBuffer) free() int {
	return rb.Capacity() - rb.available()
}

// Available returns the number of unread bytes.
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.available()
}

// Free returns the number of bytes Put can store without dropping.
func (rb *RingBuffer) Free() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.free()
}

// SetTimeouts bounds how long Put waits for space and Get waits for data.
// Zero means no waiting.
func (rb *RingBuffer) SetTimeouts(put, get time.Duration) {
	rb.mu.Lock()
	rb.putTimeout = put
	rb.getTimeout = get
	rb.mu.Unlock()
}

// SetEndOfData tells Get that no more data will arrive until the flag is
// cleared, so it may return fewer than margin bytes.
func (rb *RingBuffer) SetEndOfData(eod bool) {
	rb.mu.Lock()
	rb.endOfData = eod
	rb.mu.Unlock()
	if eod {
		signal(rb.dataReady)
	}
}

// EndOfData reports whether the producer has flagged end of data.
func (rb *RingBuffer) EndOfData() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.endOfData
}

// Put stores as much of data as fits, waiting up to the put timeout for
// space. Bytes that still do not fit are dropped and reported as overflow.
// It returns the number of bytes stored.
func (rb *RingBuffer) Put(data []byte) int {
	if len(data) == 0 {
		return 0
	}

	rb.mu.Lock()
	if rb.free() < len(data) && rb.putTimeout > 0 && !rb.closed {
		deadline := time.Now().Add(rb.putTimeout)
		for rb.free() < len(data) && !rb.closed {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			rb.mu.Unlock()
			wait(rb.spaceReady, remaining)
			rb.mu.Lock()
		}
	}

	if rb.closed {
		rb.mu.Unlock()
		return 0
	}

	n := len(data)
	if f := rb.free(); n > f {
		n = f
	}
	if n > 0 {
		rb.write(data[:n])
	}
	rb.putBytes += int64(n)
	fill := rb.available()
	if fill > rb.Capacity()*3/4 {
		rb.engageThrottle()
	}
	rb.mu.Unlock()

	if n > 0 {
		signal(rb.dataReady)
	}
	metrics.SetRingFill(rb.name, fill)
	if n < len(data) {
		rb.ReportOverflow(len(data) - n)
	}
	return n
}

// write copies p at head. Caller holds mu and guarantees len(p) <= free().
func (rb *RingBuffer) write(p []byte) {
	size := len(rb.buf)
	rest := size - rb.head
	if len(p) >= rest {
		copy(rb.buf[rb.head:], p[:rest])
		copy(rb.buf[rb.margin:], p[rest:])
		rb.head = rb.margin + len(p) - rest
		return
	}
	copy(rb.buf[rb.head:], p)
	rb.head += len(p)
}

// contiguous returns the unread bytes readable without wrapping, moving a
// short wrapped tail into the margin area first. Caller holds mu.
func (rb *RingBuffer) contiguous() []byte {
	size := len(rb.buf)
	if rb.head >= rb.tail {
		return rb.buf[rb.tail:rb.head]
	}
	rest := size - rb.tail
	if rest < rb.margin {
		t := rb.margin - rest
		copy(rb.buf[t:rb.margin], rb.buf[rb.tail:size])
		rb.tail = t
		return rb.buf[rb.tail:rb.head]
	}
	return rb.buf[rb.tail:size]
}

// Get returns a view of unread contiguous data without consuming it; call
// Del to consume. Once Available() >= Margin() the view holds at least
// Margin() bytes. Get waits up to the get timeout and returns nil when not
// enough data arrived. After SetEndOfData or Close any remainder is
// returned regardless of the margin.
func (rb *RingBuffer) Get() []byte {
	rb.mu.Lock()
	var deadline time.Time
	if rb.getTimeout > 0 {
		deadline = time.Now().Add(rb.getTimeout)
	}

	for {
		if rb.available() > 0 {
			p := rb.contiguous()
			if len(p) >= rb.margin || rb.endOfData || rb.closed {
				rb.mu.Unlock()
				return p
			}
		}
		if rb.closed || deadline.IsZero() {
			rb.mu.Unlock()
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			rb.mu.Unlock()
			return nil
		}
		rb.mu.Unlock()
		wait(rb.dataReady, remaining)
		rb.mu.Lock()
	}
}

// Del consumes n bytes from the front of the last Get view.
func (rb *RingBuffer) Del(n int) {
	if n <= 0 {
		return
	}

	rb.mu.Lock()
	if a := rb.available(); n > a {
		n = a
	}
	rb.tail += n
	if rb.tail >= len(rb.buf) {
		rb.tail = rb.margin + rb.tail - len(rb.buf)
	}
	fill := rb.available()
	if rb.throttled && fill < rb.Capacity()/4 {
		rb.releaseThrottle()
	}
	rb.mu.Unlock()

	signal(rb.spaceReady)
	metrics.SetRingFill(rb.name, fill)
}

// Clear discards all unread data.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	rb.head = rb.margin
	rb.tail = rb.margin
	rb.endOfData = false
	rb.releaseThrottle()
	rb.mu.Unlock()

	signal(rb.spaceReady)
	metrics.SetRingFill(rb.name, 0)
}

// ReportOverflow accounts n dropped bytes.
func (rb *RingBuffer) ReportOverflow(n int) {
	if n <= 0 {
		return
	}
	rb.mu.Lock()
	rb.overflowBytes += int64(n)
	rb.overflowEvents++
	total := rb.overflowBytes
	rb.mu.Unlock()

	metrics.AddRingOverflow(rb.name, n)
	rb.log.WarnWithCategory(logger.CategoryRingOverflow, "Ring buffer overflow", logger.Fields{
		"dropped_bytes": n,
		"total_dropped": total,
	})
}

// Close wakes any waiter; later Puts store nothing and Get drains what is
// left.
func (rb *RingBuffer) Close() {
	rb.mu.Lock()
	if rb.closed {
		rb.mu.Unlock()
		return
	}
	rb.closed = true
	rb.releaseThrottle()
	rb.mu.Unlock()

	signal(rb.dataReady)
	signal(rb.spaceReady)
	metrics.RemoveRing(rb.name)
}

// Closed reports whether Close was called.
func (rb *RingBuffer) Closed() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.closed
}

// Stats returns a snapshot of the buffer.
func (rb *RingBuffer) Stats() Stats {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return Stats{
		Name:           rb.name,
		Size:           len(rb.buf),
		Margin:         rb.margin,
		Available:      rb.available(),
		Free:           rb.free(),
		BytesIn:        rb.putBytes,
		OverflowBytes:  rb.overflowBytes,
		OverflowEvents: rb.overflowEvents,
		Throttled:      rb.throttled,
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func wait(ch chan struct{}, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
	case <-t.C:
	}
}
