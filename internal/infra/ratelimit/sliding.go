package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingLimiter allows at most limit events per key in any window-long
// interval. It keeps the timestamps of the admitted events, so it suits small
// budgets such as backend fetches per minute.
type SlidingLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events map[string][]time.Time
	now    func() time.Time
}

func NewSliding(limit int, window time.Duration) *SlidingLimiter {
	return &SlidingLimiter{
		limit:  limit,
		window: window,
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// WithClock replaces the time source; used by tests and by callers that share
// a clock with the limiter.
func (l *SlidingLimiter) WithClock(now func() time.Time) *SlidingLimiter {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *SlidingLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	if l.limit <= 0 || l.window <= 0 {
		return true, 0
	}

	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.events[key]
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	ts = ts[i:]

	if len(ts) >= l.limit {
		l.events[key] = ts
		return false, ts[0].Add(l.window).Sub(now)
	}
	ts = append(ts, now)
	l.events[key] = ts
	return true, 0
}
