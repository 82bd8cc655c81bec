package backend

import (
	"net"
	"sync"
	"time"
)

// connLimiter caps concurrent connections per remote IP.
type connLimiter struct {
	mu       sync.Mutex
	active   map[string]int
	maxPerIP int
}

func newConnLimiter(maxPerIP int) *connLimiter {
	return &connLimiter{
		active:   make(map[string]int),
		maxPerIP: maxPerIP,
	}
}

// acquire reserves a slot for ip. It reports false when ip is at its cap.
func (l *connLimiter) acquire(ip string) bool {
	if l.maxPerIP <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active[ip] >= l.maxPerIP {
		return false
	}
	l.active[ip]++
	return true
}

// release frees a slot taken by acquire.
func (l *connLimiter) release(ip string) {
	if l.maxPerIP <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active[ip] > 0 {
		l.active[ip]--
		if l.active[ip] == 0 {
			delete(l.active, ip)
		}
	}
}

func (l *connLimiter) count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[ip]
}

// handshakeLimiter is a token bucket over all handshakes.
type handshakeLimiter struct {
	mu         sync.Mutex
	rate       float64
	burst      int
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

func newHandshakeLimiter(rate float64, burst int) *handshakeLimiter {
	if rate > 0 && burst <= 0 {
		burst = 1
	}
	return &handshakeLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// allow consumes one token if available.
func (l *handshakeLimiter) allow() bool {
	if l.rate <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.rate
	if l.tokens > float64(l.burst) {
		l.tokens = float64(l.burst)
	}
	l.lastRefill = now

	if l.tokens >= 1 {
		l.tokens--
		return true
	}
	return false
}

// remoteIP extracts the host part of addr, or returns addr unchanged.
func remoteIP(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
