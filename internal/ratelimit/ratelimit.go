// Package ratelimit caps scan submissions per user with a fixed-window counter.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter manages per-user submission limits. A zero or negative limit disables it.
type Limiter struct {
	mu      sync.Mutex
	now     func() time.Time
	window  time.Duration
	limit   int
	buckets map[string]*bucket
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

// New creates a Limiter allowing perWindow submissions per user in each window.
func New(perWindow int, window time.Duration) *Limiter {
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		now:     time.Now,
		window:  window,
		limit:   perWindow,
		buckets: make(map[string]*bucket),
	}
}

// WithClock swaps the time source; used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Allow consumes one submission for userID and reports whether it was permitted.
func (l *Limiter) Allow(userID string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[userID]
	if !ok || now.Sub(b.lastReset) >= l.window {
		b = &bucket{tokens: l.limit, lastReset: now}
		l.buckets[userID] = b
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Prune drops buckets whose window has fully elapsed and returns how many were removed.
func (l *Limiter) Prune() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	n := 0
	for id, b := range l.buckets {
		if now.Sub(b.lastReset) >= l.window {
			delete(l.buckets, id)
			n++
		}
	}
	return n
}
