package workers

import (
	"github.com/rs/zerolog"
)

// Guard runs fn and recovers any panic, logging it instead of letting it
// escape the worker goroutine. A single worker's failure must never take
// down the service or user-agent process (spec.md §7's Integrity class).
func Guard(logger zerolog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Str("worker", name).Interface("panic", r).Msg("worker panicked, recovered")
		}
	}()
	fn()
}
