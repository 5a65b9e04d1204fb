package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a fixed-window counter per key. It is the default limiter
// for the local API and the fallback of RedisLimiter.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	windows map[string]*fixedWindow
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type fixedWindow struct {
	count int
	reset time.Time
}

func NewMemory(limit int, window time.Duration) *MemoryLimiter {
	l := &MemoryLimiter{
		limit:   limit,
		window:  window,
		windows: make(map[string]*fixedWindow),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	every := window * 2
	if every < time.Minute {
		every = time.Minute
	}
	go l.sweep(every)
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	if key == "" || l.limit <= 0 {
		return true, 0
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || !now.Before(w.reset) {
		w = &fixedWindow{reset: now.Add(l.window)}
		l.windows[key] = w
	}
	if w.count >= l.limit {
		return false, w.reset.Sub(now)
	}
	w.count++
	return true, 0
}

// Close stops the background sweeper.
func (l *MemoryLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *MemoryLimiter) sweep(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-t.C:
		}
		now := l.now()
		l.mu.Lock()
		for k, w := range l.windows {
			if !now.Before(w.reset) {
				delete(l.windows, k)
			}
		}
		l.mu.Unlock()
	}
}
