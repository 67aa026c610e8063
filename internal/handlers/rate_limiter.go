package handlers

import (
	"strings"
	"sync"
	"time"
)

// rateLimiter admits or rejects one call for the given caller key.
type rateLimiter interface {
	Allow(key string) bool
}

// fixedWindowLimiter caps how many calls a key may make inside a fixed
// window. Counts reset in full once the window elapses.
type fixedWindowLimiter struct {
	budget int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]windowBucket
	sweepAt time.Time
}

type windowBucket struct {
	openedAt time.Time
	used     int
}

// newFixedWindowLimiter returns nil when either limit or window is
// non-positive, which callers treat as rate limiting disabled.
func newFixedWindowLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &fixedWindowLimiter{
		budget:  limit,
		window:  window,
		now:     clock,
		buckets: make(map[string]windowBucket),
	}
}

func (l *fixedWindowLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	if key = strings.TrimSpace(key); key == "" {
		key = "anonymous"
	}

	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweepLocked(now)

	bucket := l.buckets[key]
	if bucket.openedAt.IsZero() || now.Sub(bucket.openedAt) >= l.window {
		l.buckets[key] = windowBucket{openedAt: now, used: 1}
		return true
	}
	if bucket.used >= l.budget {
		return false
	}
	bucket.used++
	l.buckets[key] = bucket
	return true
}

// sweepLocked drops expired buckets at most once per window so idle keys
// do not accumulate forever.
func (l *fixedWindowLimiter) sweepLocked(now time.Time) {
	if now.Before(l.sweepAt) {
		return
	}
	for key, bucket := range l.buckets {
		if now.Sub(bucket.openedAt) >= l.window {
			delete(l.buckets, key)
		}
	}
	l.sweepAt = now.Add(l.window)
}
