package ipc

import (
	"sync"
	"time"
)

// DialLimiter caps connection attempts to a local service endpoint.
// Max attempts per sliding window, keyed by endpoint path. Used to avoid
// hammering the bundle service socket when it is down.
type DialLimiter struct {
	maxAttempts int
	window      time.Duration
	mu          sync.Mutex
	attempts    map[string][]time.Time
}

// NewDialLimiter creates a limiter with the given max attempts per window.
func NewDialLimiter(maxAttempts int, window time.Duration) *DialLimiter {
	return &DialLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		attempts:    make(map[string][]time.Time),
	}
}

// Allow checks whether a dial to the endpoint is allowed. If allowed, it
// records the attempt.
func (r *DialLimiter) Allow(endpoint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	existing := r.attempts[endpoint]
	pruned := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			pruned = append(pruned, t)
		}
	}

	if len(pruned) >= r.maxAttempts {
		r.attempts[endpoint] = pruned
		return false
	}

	r.attempts[endpoint] = append(pruned, now)
	return true
}

// Reset clears all limiter state.
func (r *DialLimiter) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = make(map[string][]time.Time)
}
