package channels

import (
	"sync"
	"time"
)

const (
	// maxTrackedKeys caps the number of tracked senders so a burst of distinct
	// accounts cannot grow the table without bound.
	maxTrackedKeys = 4096

	// rateLimitWindow is the fixed window duration for rate counting.
	rateLimitWindow = 60 * time.Second
)

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// SenderRateLimiter bounds how many messages one sender may push through a
// channel per minute. Safe for concurrent use.
type SenderRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
	maxHits int
	now     func() time.Time
}

// NewSenderRateLimiter creates a limiter allowing perMinute messages per sender.
// It returns nil when perMinute is not positive, which disables limiting.
func NewSenderRateLimiter(perMinute int) *SenderRateLimiter {
	if perMinute <= 0 {
		return nil
	}
	return &SenderRateLimiter{
		entries: make(map[string]*rateLimitEntry),
		maxHits: perMinute,
		now:     time.Now,
	}
}

// Allow returns true if the key is within rate limits.
// Prunes stale entries and enforces a hard cap on tracked keys.
func (r *SenderRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= rateLimitWindow {
				delete(r.entries, k)
			}
		}
		// Hard eviction if still at cap
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= rateLimitWindow {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= r.maxHits
}
