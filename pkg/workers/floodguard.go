package workers

import (
	"sync"
	"time"
)

// FloodGuard bounds how many events pass through in any trailing window,
// dropping the excess rather than queuing it. Used by the logger worker to
// cap client log forwarding at 60 messages per 60 seconds (spec.md §4.6).
type FloodGuard struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events []time.Time
}

// NewFloodGuard returns a guard allowing at most limit events per window.
func NewFloodGuard(limit int, window time.Duration) *FloodGuard {
	return &FloodGuard{limit: limit, window: window}
}

// Allow reports whether an event happening now should be let through. It
// evicts events older than the window before counting, so the limit always
// applies to a genuine sliding window rather than fixed buckets.
func (g *FloodGuard) Allow() bool {
	now := time.Now()

	g.mu.Lock()
	defer g.mu.Unlock()

	cutoff := now.Add(-g.window)
	kept := g.events[:0]
	for _, t := range g.events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	g.events = kept

	if len(g.events) >= g.limit {
		return false
	}
	g.events = append(g.events, now)
	return true
}
