package transport

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL  = 10 * time.Minute
	limiterPruneLen = 1024
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// sessionLimiter keeps one token bucket per session id.
type sessionLimiter struct {
	mu      sync.Mutex
	perSec  rate.Limit
	burst   int
	entries map[string]*limiterEntry
	now     func() time.Time
}

func newSessionLimiter(perSec float64, burst int) *sessionLimiter {
	if burst <= 0 {
		burst = int(math.Ceil(perSec))
	}
	return &sessionLimiter{
		perSec:  rate.Limit(perSec),
		burst:   burst,
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

func (l *sessionLimiter) allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[id]
	if !ok {
		if len(l.entries) >= limiterPruneLen {
			l.prune(now)
		}
		e = &limiterEntry{limiter: rate.NewLimiter(l.perSec, l.burst)}
		l.entries[id] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (l *sessionLimiter) forget(id string) {
	l.mu.Lock()
	delete(l.entries, id)
	l.mu.Unlock()
}

func (l *sessionLimiter) prune(now time.Time) {
	for id, e := range l.entries {
		if now.Sub(e.lastSeen) > limiterIdleTTL {
			delete(l.entries, id)
		}
	}
}
