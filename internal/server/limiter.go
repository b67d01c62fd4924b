package server

import "sync"

// Reasons a connection is turned away, used as metric labels.
const (
	rejectCapacity     = "capacity"
	rejectHostCapacity = "host_capacity"
)

// connLimiter caps concurrent sessions in total and per client host. A
// limit of zero means unlimited.
type connLimiter struct {
	maxPerHost int
	maxTotal   int

	mu    sync.Mutex
	hosts map[string]int
	total int
}

func newConnLimiter(maxPerHost, maxTotal int) *connLimiter {
	return &connLimiter{
		maxPerHost: maxPerHost,
		maxTotal:   maxTotal,
		hosts:      make(map[string]int),
	}
}

// tryAcquire takes a slot for host. On failure it returns the reason.
func (l *connLimiter) tryAcquire(host string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.maxTotal > 0 && l.total >= l.maxTotal {
		return rejectCapacity, false
	}
	current := l.hosts[host]
	if l.maxPerHost > 0 && current >= l.maxPerHost {
		return rejectHostCapacity, false
	}
	l.hosts[host] = current + 1
	l.total++
	return "", true
}

func (l *connLimiter) release(host string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n, ok := l.hosts[host]; ok {
		if n <= 1 {
			delete(l.hosts, host)
		} else {
			l.hosts[host] = n - 1
		}
		l.total--
	}
}

func (l *connLimiter) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}
