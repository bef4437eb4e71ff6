// Package ratelimit provides per-caller rate limiting for the GraphQL endpoint.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the rate limiting configuration.
type Config struct {
	AnonRPS         float64       // Requests per second for callers without a token (keyed by IP)
	AnonBurst       int           // Burst size for anonymous callers
	AuthRPS         float64       // Requests per second for signed-in users (keyed by user ID)
	AuthBurst       int           // Burst size for signed-in users
	CleanupInterval time.Duration // How often to clean up idle limiters

	// TrustForwardedFor keys anonymous callers on the first X-Forwarded-For
	// hop. Enable only behind a proxy that overwrites the header.
	TrustForwardedFor bool
}

// DefaultConfig provides sensible defaults for rate limiting.
var DefaultConfig = Config{
	AnonRPS:         5,
	AnonBurst:       20,
	AuthRPS:         20,
	AuthBurst:       60,
	CleanupInterval: time.Hour,
}

type rateLimiterEntry struct {
	limiter       *rate.Limiter
	lastUsed      time.Time
	authenticated bool
}

// RateLimiter manages per-key token buckets.
type RateLimiter struct {
	limiters map[string]*rateLimiterEntry
	mu       sync.Mutex
	config   Config

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRateLimiter creates a new rate limiter with the given configuration.
// It starts a background goroutine for cleanup.
func NewRateLimiter(config Config) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*rateLimiterEntry),
		config:   config,
		stopCh:   make(chan struct{}),
	}

	rl.wg.Add(1)
	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a request for key is within its limit.
func (rl *RateLimiter) Allow(key string, authenticated bool) bool {
	return rl.GetLimiter(key, authenticated).Allow()
}

// GetLimiter returns the limiter for key, creating one if necessary.
// A key that switches tier gets a fresh limiter sized for the new tier.
func (rl *RateLimiter) GetLimiter(key string, authenticated bool) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, exists := rl.limiters[key]
	if exists && entry.authenticated == authenticated {
		entry.lastUsed = now
		return entry.limiter
	}

	rps, burst := rl.config.AnonRPS, rl.config.AnonBurst
	if authenticated {
		rps, burst = rl.config.AuthRPS, rl.config.AuthBurst
	}

	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	rl.limiters[key] = &rateLimiterEntry{
		limiter:       limiter,
		lastUsed:      now,
		authenticated: authenticated,
	}
	return limiter
}

// Cleanup removes limiters idle for longer than the cleanup interval.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.config.CleanupInterval)
	for key, entry := range rl.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimiter) cleanupLoop() {
	defer rl.wg.Done()

	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine and waits for it to finish.
func (rl *RateLimiter) Stop() {
	close(rl.stopCh)
	rl.wg.Wait()
}

// Len returns the number of active limiters.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}
