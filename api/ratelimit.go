package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleAfter is how long a caller goes without a request before its bucket is
// forgotten. A forgotten bucket would have refilled by then unless the rate
// is below one burst per idleAfter.
const idleAfter = 10 * time.Minute

type callerBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out a token bucket per caller. Buckets of callers idle
// for longer than idleAfter are dropped, so the map holds at most the callers
// seen within the last two idle periods.
type RateLimiter struct {
	mu        sync.Mutex
	callers   map[string]*callerBucket
	r         rate.Limit
	b         int
	now       func() time.Time
	lastSweep time.Time
}

// NewRateLimiter returns a limiter allowing each caller perSecond requests
// per second with bursts of up to burst requests.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		callers: make(map[string]*callerBucket),
		r:       rate.Limit(perSecond),
		b:       burst,
		now:     time.Now,
	}
}

// Allow reports whether the caller may make a request now.
func (l *RateLimiter) Allow(callerID string) bool {
	l.mu.Lock()
	now := l.now()
	if l.lastSweep.IsZero() {
		l.lastSweep = now
	}
	if now.Sub(l.lastSweep) >= idleAfter {
		l.sweep(now)
	}

	c, ok := l.callers[callerID]
	if !ok {
		c = &callerBucket{limiter: rate.NewLimiter(l.r, l.b)}
		l.callers[callerID] = c
	}
	c.lastSeen = now
	l.mu.Unlock()
	return c.limiter.AllowN(now, 1)
}

// sweep drops idle buckets. l.mu must be held.
func (l *RateLimiter) sweep(now time.Time) {
	for id, c := range l.callers {
		if now.Sub(c.lastSeen) >= idleAfter {
			delete(l.callers, id)
		}
	}
	l.lastSweep = now
}

func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.callers)
}
