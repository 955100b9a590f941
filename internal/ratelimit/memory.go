package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryLimiter keeps one token bucket per subject in process memory. It
// suits a single api replica or local runs without Redis.
type MemoryLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewMemoryLimiter(capacity int, window time.Duration) (*MemoryLimiter, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}

	return &MemoryLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(float64(capacity) / window.Seconds()),
		burst:    capacity,
		idleTTL:  2 * window,
		now:      time.Now,
	}, nil
}

func (l *MemoryLimiter) Allow(_ context.Context, subject string) (Decision, error) {
	subject = normalizeSubject(subject)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictIdle(now)
	e, ok := l.limiters[subject]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[subject] = e
	}
	e.lastSeen = now

	if e.limiter.AllowN(now, 1) {
		return Decision{Allowed: true, Remaining: remaining(e.limiter.TokensAt(now))}, nil
	}

	deficit := 1 - e.limiter.TokensAt(now)
	retryAfter := time.Duration(deficit / float64(l.limit) * float64(time.Second))
	return Decision{Allowed: false, Remaining: 0, RetryAfter: retryAfter}, nil
}

func (l *MemoryLimiter) evictIdle(now time.Time) {
	for subject, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.limiters, subject)
		}
	}
}

func remaining(tokens float64) int64 {
	if tokens <= 0 {
		return 0
	}
	return int64(math.Floor(tokens))
}
