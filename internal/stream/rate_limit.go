package stream

import (
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxTotal caps concurrent streams across all clients.
const DefaultMaxTotal = 1000

// streamLimiter admits SSE subscribers under a global slot pool and a per-IP
// ceiling. A slot is only taken from the pool once the per-IP check passes.
type streamLimiter struct {
	slots    *semaphore.Weighted
	maxPerIP int

	mu    sync.Mutex
	perIP map[string]int
}

func newStreamLimiter(maxPerIP, maxTotal int) *streamLimiter {
	if maxTotal <= 0 {
		maxTotal = DefaultMaxTotal
	}
	return &streamLimiter{
		slots:    semaphore.NewWeighted(int64(maxTotal)),
		maxPerIP: maxPerIP,
		perIP:    make(map[string]int),
	}
}

// acquire reserves a stream for ip, reporting false when either cap is hit.
func (l *streamLimiter) acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.perIP[ip] >= l.maxPerIP || !l.slots.TryAcquire(1) {
		return false
	}
	l.perIP[ip]++
	return true
}

// release returns a stream previously granted by acquire.
func (l *streamLimiter) release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.perIP[ip]
	if !ok {
		return
	}
	if n <= 1 {
		delete(l.perIP, ip)
	} else {
		l.perIP[ip] = n - 1
	}
	l.slots.Release(1)
}

func (l *streamLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.perIP[ip]
}
