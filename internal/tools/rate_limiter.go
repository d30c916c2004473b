package tools

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter is a sliding-window limiter for tool executions, keyed by tool
// name. Protects external services (search APIs, home bridges) from runaway
// loops.
type RateLimiter struct {
	mu        sync.Mutex
	windows   map[string][]time.Time
	maxPerMin int
	window    time.Duration
}

// NewRateLimiter creates a limiter with the given max executions per minute.
// Returns nil for maxPerMinute <= 0 (disabled).
func NewRateLimiter(maxPerMinute int) *RateLimiter {
	if maxPerMinute <= 0 {
		return nil
	}
	return &RateLimiter{
		windows:   make(map[string][]time.Time),
		maxPerMin: maxPerMinute,
		window:    time.Minute,
	}
}

// Allow checks if an execution is allowed for the key.
func (rl *RateLimiter) Allow(key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	entries := rl.windows[key]
	start := 0
	for start < len(entries) && entries[start].Before(cutoff) {
		start++
	}
	entries = entries[start:]

	if len(entries) >= rl.maxPerMin {
		return fmt.Errorf("tool rate limit exceeded: %d/min for %s", rl.maxPerMin, key)
	}

	rl.windows[key] = append(entries, now)
	return nil
}
