// Package breaker implements the "fail-soft" per-subsystem circuit
// breaker described in spec §9: a tri-state {ok, in_progress,
// cool_down_until} that lives only in memory, never in the durable
// Store.
package breaker

import (
	"sync"
	"time"
)

const maxBackoff = 60 * time.Second

// Breaker guards one subsystem call site (e.g. one camera's motion
// poll) against overlapping or rapid-retry invocations.
type Breaker struct {
	mu          sync.Mutex
	inProgress  bool
	failed      bool
	retryAfter  time.Time
	attempt     int
}

// Allow reports whether a call may proceed right now: not already
// in-flight, and not within a backoff cool-down window.
func (b *Breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inProgress {
		return false
	}
	if b.failed && now.Before(b.retryAfter) {
		return false
	}
	return true
}

// Begin marks the breaker in-progress. Callers must pair with End.
func (b *Breaker) Begin() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inProgress = true
}

// End reports the outcome of the call and clears in-progress. On
// failure, schedules the next retry with exponential backoff capped at
// maxBackoff; on success, clears the failed state and resets backoff.
func (b *Breaker) End(now time.Time, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inProgress = false
	if ok {
		b.failed = false
		b.attempt = 0
		return
	}
	b.failed = true
	b.attempt++
	b.retryAfter = now.Add(backoff(b.attempt))
}

// Trip immediately forces the breaker into a failed/cool-down state,
// used when a caller (e.g. the Stream Controller) observes a fatal
// condition without going through Begin/End.
func (b *Breaker) Trip(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failed = true
	b.attempt++
	b.retryAfter = now.Add(backoff(b.attempt))
}

func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxBackoff || d <= 0 {
		return maxBackoff
	}
	return d
}
