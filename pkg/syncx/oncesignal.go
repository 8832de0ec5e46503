// Package syncx provides one-shot coordination primitives shared by the
// service and the user-agent control loops.
package syncx

import (
	"context"
	"sync"
)

// OnceSignal is a one-shot broadcast cancellation signal. Set is idempotent;
// every current and future Wait call is released exactly once, immediately
// after the first Set.
type OnceSignal struct {
	once sync.Once
	ch   chan struct{}
}

// NewOnceSignal returns a signal that has not fired yet.
func NewOnceSignal() *OnceSignal {
	return &OnceSignal{ch: make(chan struct{})}
}

// Set fires the signal. Safe to call more than once and from multiple
// goroutines concurrently; only the first call has any effect.
func (s *OnceSignal) Set() {
	s.once.Do(func() { close(s.ch) })
}

// IsSet reports whether the signal has fired.
func (s *OnceSignal) IsSet() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// Done returns the underlying channel, closed once the signal fires. Useful
// for select statements alongside other channels.
func (s *OnceSignal) Done() <-chan struct{} {
	return s.ch
}

// Wait blocks until the signal fires or ctx is done, whichever comes first.
// It returns nil if the signal fired, or ctx.Err() on context cancellation.
func (s *OnceSignal) Wait(ctx context.Context) error {
	select {
	case <-s.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitTimedOut is like Wait but communicates cancellation vs timeout
// distinguishably to callers that passed a context.WithTimeout/WithDeadline,
// per the "stop-aware timed wait" requirement: it returns (true, nil) if the
// signal fired, (false, nil) if the deadline elapsed, and (false, err) for
// any other context error.
func (s *OnceSignal) WaitTimedOut(ctx context.Context) (fired bool, err error) {
	select {
	case <-s.ch:
		return true, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return false, nil
		}
		return false, ctx.Err()
	}
}
