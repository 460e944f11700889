package transport

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// connRateLimiter protects accept-side admission with a global token
// bucket and a per-remote-IP token bucket. This predates Session
// construction entirely: a rejected connection is closed before a Session
// (and therefore any index entry) ever exists, so it cannot affect
// delivery semantics for already-admitted sessions.
type connRateLimiter struct {
	global *rate.Limiter

	mu      sync.Mutex
	perIP   map[string]*ipLimiterEntry
	ipBurst int
	ipRate  float64
	ipTTL   time.Duration
}

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newConnRateLimiter(globalBurst int, globalRate float64, ipBurst int, ipRatePerSec float64) *connRateLimiter {
	return &connRateLimiter{
		global:  rate.NewLimiter(rate.Limit(globalRate), globalBurst),
		perIP:   make(map[string]*ipLimiterEntry),
		ipBurst: ipBurst,
		ipRate:  ipRatePerSec,
		ipTTL:   5 * time.Minute,
	}
}

// Allow reports whether a new connection from ip should be admitted.
func (l *connRateLimiter) Allow(ip string) bool {
	if !l.global.Allow() {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.perIP[ip]
	if !ok {
		entry = &ipLimiterEntry{limiter: rate.NewLimiter(rate.Limit(l.ipRate), l.ipBurst)}
		l.perIP[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter.Allow()
}

// EvictStale removes per-IP limiters that have not been touched within the
// configured TTL, bounding the map's memory under a churning address pool.
func (l *connRateLimiter) EvictStale() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-l.ipTTL)
	for ip, entry := range l.perIP {
		if entry.lastSeen.Before(cutoff) {
			delete(l.perIP, ip)
		}
	}
}
