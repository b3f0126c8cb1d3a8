package service

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// RateGate throttles requests per user and resolved provider.
type RateGate interface {
	Allow(userID uint, apiType string) bool
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter keeps one token bucket per user and provider. A bucket
// refills perMinute tokens a minute and bursts up to perMinute.
type UserRateLimiter struct {
	mu        sync.Mutex
	perMinute int
	buckets   map[string]*limiterEntry
	now       func() time.Time
}

// NewUserRateLimiter returns nil when perMinute is not positive; a nil
// limiter allows everything.
func NewUserRateLimiter(perMinute int) *UserRateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &UserRateLimiter{
		perMinute: perMinute,
		buckets:   make(map[string]*limiterEntry),
		now:       time.Now,
	}
}

func (l *UserRateLimiter) Allow(userID uint, apiType string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := fmt.Sprintf("%d:%s", userID, apiType)
	entry, ok := l.buckets[key]
	if !ok {
		every := time.Minute / time.Duration(l.perMinute)
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(every), l.perMinute), lastSeen: now}
		l.buckets[key] = entry
		l.evictIdle(now)
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// evictIdle drops buckets that have been quiet long enough to be full again.
func (l *UserRateLimiter) evictIdle(now time.Time) {
	for key, entry := range l.buckets {
		if now.Sub(entry.lastSeen) > limiterIdleTTL {
			delete(l.buckets, key)
		}
	}
}
