// Package camera owns the shared mutable per-camera runtime state
// (spec §5/§9): last-poll timestamps, the motion-poll circuit breaker,
// and stream-started bookkeeping used to gate the movement-startup
// delay. It is the "owned aggregate behind a lock" §9 calls for; all
// access goes through per-camera locks so the Control Loop and the Web
// Surface's mutators never observe a torn snapshot.
package camera

import (
	"sync"
	"time"

	"nvr/internal/breaker"
)

// Entry is one camera's runtime state.
type Entry struct {
	mu sync.Mutex

	PollBreaker   *breaker.Breaker
	LastPollAt    time.Time
	StreamStarted time.Time
}

// SecondsSinceStreamStart returns how long the stream has been up,
// used by the Motion Poller's startup-delay gate (§4.5).
func (e *Entry) SecondsSinceStreamStart(now time.Time) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.StreamStarted.IsZero() {
		return 0
	}
	return int(now.Sub(e.StreamStarted).Seconds())
}

// MarkStreamStarted records when the camera's transcoder most recently
// (re)started, resetting the movement-startup-delay window.
func (e *Entry) MarkStreamStarted(at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StreamStarted = at
}

// DuePoll reports whether at least intervalMs have passed since the
// last poll, and if so stamps LastPollAt as now (so callers don't also
// need a separate "mark done" step).
func (e *Entry) DuePoll(now time.Time, intervalMs int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now.Sub(e.LastPollAt) < time.Duration(intervalMs)*time.Millisecond {
		return false
	}
	e.LastPollAt = now
	return true
}

// Cache is the process-wide registry of per-camera Entries, keyed by
// camera key. Entries are created lazily and never removed for the
// lifetime of the process (a tombstoned camera simply stops being
// ticked by the Control Loop).
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Entry)}
}

// Get returns (creating if necessary) the Entry for cameraKey.
func (c *Cache) Get(cameraKey string) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cameraKey]
	if !ok {
		e = &Entry{PollBreaker: &breaker.Breaker{}}
		c.entries[cameraKey] = e
	}
	return e
}
