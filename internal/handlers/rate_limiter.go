package handlers

import (
	"math"
	"strings"
	"sync"
	"time"
)

// rateLimiter reports whether key may proceed and, when it may not, how long until it can.
type rateLimiter interface {
	Allow(key string) (bool, time.Duration)
}

// windowLimiter counts requests per key in fixed windows. Counts are per process.
type windowLimiter struct {
	limit   int
	window  time.Duration
	clock   func() time.Time
	mu      sync.Mutex
	buckets map[string]windowBucket
}

type windowBucket struct {
	count int
	reset time.Time
}

func newSimpleRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &windowLimiter{
		limit:   limit,
		window:  window,
		clock:   clock,
		buckets: make(map[string]windowBucket),
	}
}

func (l *windowLimiter) Allow(key string) (bool, time.Duration) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	bucket, ok := l.buckets[key]
	if !ok || !now.Before(bucket.reset) {
		l.pruneLocked(now)
		l.buckets[key] = windowBucket{count: 1, reset: now.Add(l.window)}
		return true, 0
	}
	if bucket.count >= l.limit {
		return false, bucket.reset.Sub(now)
	}
	bucket.count++
	l.buckets[key] = bucket
	return true, 0
}

func (l *windowLimiter) pruneLocked(now time.Time) {
	for key, bucket := range l.buckets {
		if !now.Before(bucket.reset) {
			delete(l.buckets, key)
		}
	}
}

func retryAfterSeconds(wait time.Duration) int {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}
