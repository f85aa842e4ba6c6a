package governance

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimiterConfig defines the request budget granted to every client.
type RateLimiterConfig struct {
	RequestsPerSecond int
	BurstSize         int
}

// Enabled reports whether any limit is configured.
func (c RateLimiterConfig) Enabled() bool {
	return c.RequestsPerSecond > 0
}

// RateLimiter implements token bucket rate limiting per client key.
// Buckets are created on first use and dropped once they have been full
// and unused for idleAfter.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*tokenBucket
	config    RateLimiterConfig
	idleAfter time.Duration
	now       func() time.Time
}

// NewRateLimiter creates a rate limiter. A zero RequestsPerSecond disables
// limiting and Take always succeeds.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		buckets:   make(map[string]*tokenBucket),
		idleAfter: time.Minute,
		now:       time.Now,
	}
	rl.Configure(config)
	return rl
}

// Configure updates the limits. Existing buckets keep their tokens, capped at
// the new burst size.
func (rl *RateLimiter) Configure(config RateLimiterConfig) {
	if config.BurstSize <= 0 {
		config.BurstSize = config.RequestsPerSecond
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.config = config
	for _, b := range rl.buckets {
		b.configure(config)
	}
}

// allow consumes one token for key. It returns false when the key has
// exhausted its budget.
func (rl *RateLimiter) allow(key string) bool {
	_, ok := rl.Take(key)
	return ok
}

// Take consumes one token for key and returns the bucket state after the
// attempt.
func (rl *RateLimiter) Take(key string) (RateLimitStats, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if !rl.config.Enabled() {
		return RateLimitStats{}, true
	}

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = newTokenBucket(rl.config, now)
		rl.buckets[key] = b
	}
	allowed := b.take(now)
	return b.stats(now), allowed
}

// Prune drops buckets that have refilled completely and seen no traffic for
// the idle period. It returns the number of buckets removed.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, b := range rl.buckets {
		b.refill(now)
		if b.tokens >= b.capacity && now.Sub(b.lastUsed) >= rl.idleAfter {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// RateLimitStats exposes current state of a rate limit bucket.
type RateLimitStats struct {
	Limit     int
	BurstSize int
	Available float64
	// ResetAt is when the bucket will hold at least one token again.
	ResetAt time.Time
}

// tokenBucket is guarded by the owning RateLimiter's mutex.
type tokenBucket struct {
	rate       float64 // tokens per second
	capacity   float64
	tokens     float64
	lastRefill time.Time
	lastUsed   time.Time
}

func newTokenBucket(cfg RateLimiterConfig, now time.Time) *tokenBucket {
	return &tokenBucket{
		rate:       float64(cfg.RequestsPerSecond),
		capacity:   float64(cfg.BurstSize),
		tokens:     float64(cfg.BurstSize),
		lastRefill: now,
		lastUsed:   now,
	}
}

func (tb *tokenBucket) configure(cfg RateLimiterConfig) {
	tb.rate = float64(cfg.RequestsPerSecond)
	tb.capacity = float64(cfg.BurstSize)
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}

func (tb *tokenBucket) take(now time.Time) bool {
	tb.refill(now)
	tb.lastUsed = now
	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

func (tb *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

func (tb *tokenBucket) stats(now time.Time) RateLimitStats {
	reset := now
	if tb.tokens < 1.0 && tb.rate > 0 {
		reset = now.Add(time.Duration((1.0 - tb.tokens) / tb.rate * float64(time.Second)))
	}
	return RateLimitStats{
		Limit:     int(tb.rate),
		BurstSize: int(tb.capacity),
		Available: tb.tokens,
		ResetAt:   reset,
	}
}

// WriteRateLimitHeaders adds rate limit status headers to the response.
func WriteRateLimitHeaders(w http.ResponseWriter, stats RateLimitStats) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(stats.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(stats.Available)))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(stats.ResetAt.Unix(), 10))
}
