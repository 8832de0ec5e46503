// Package session drives the user-agent's idle, deadline, and signal
// control loops: the three cooperating watchers that decide when a remote
// session should end on its own, independent of anything the service side
// asks for.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/udsactor/agent/pkg/osfacade"
	"github.com/udsactor/agent/pkg/syncx"
)

const (
	idleNotifyWindow     = 120 * time.Second
	idleTick             = 1 * time.Second
	idleDebugLogInterval = 30 * time.Second
	deadlineGraceCap     = 300 * time.Second
	joinTimeout          = 5 * time.Second
)

// Controller owns the idle and deadline loops for one logged-in session,
// plus the signal watcher that maps process termination signals onto the
// shared stop signal. MaxIdle/Deadline of zero disable the respective
// loop (it just awaits Stop).
type Controller struct {
	OS       osfacade.OS
	Stop     *syncx.OnceSignal
	Logger   zerolog.Logger
	MaxIdle  time.Duration
	Deadline time.Duration
}

// Run starts the idle loop, the deadline loop, and the signal watcher, and
// blocks until Stop fires (from any of the three, or externally). It then
// joins the loops' reason strings with a bounded wait and returns the
// first non-empty one, per the reason-aggregation rule: whichever loop
// actually caused the stop explains why to the caller, who forwards it to
// the broker's logout call.
func (c *Controller) Run(ctx context.Context) string {
	reasons := make(chan string, 2)
	go func() { reasons <- c.idleLoop(ctx) }()
	go func() { reasons <- c.deadlineLoop(ctx) }()
	go watchSignals(c.Stop)

	<-c.Stop.Done()

	joinCtx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	var reason string
	for i := 0; i < 2; i++ {
		select {
		case r := <-reasons:
			if reason == "" && r != "" {
				reason = r
			}
		case <-joinCtx.Done():
			return reason
		}
	}
	return reason
}

// idleLoop polls OS idle time once a second, warns the user 120s before
// max_idle is reached, logs every 30s, and logs the user off (firing Stop)
// once max_idle is actually reached.
func (c *Controller) idleLoop(ctx context.Context) string {
	if c.MaxIdle <= 0 {
		<-c.Stop.Done()
		return ""
	}

	if err := c.OS.InitIdle(); err != nil {
		c.Logger.Warn().Err(err).Msg("session: idle timer init failed")
	}

	notified := false
	lastLog := time.Now()

	for {
		if c.Stop.IsSet() {
			return ""
		}

		idle, err := c.OS.IdleDuration()
		if err != nil {
			c.Logger.Warn().Err(err).Msg("session: idle query failed")
		}

		remaining := c.MaxIdle - idle
		if remaining < 0 {
			remaining = 0
		}

		if remaining > idleNotifyWindow && notified {
			notified = false
		}
		if remaining <= idleNotifyWindow && remaining > 0 && !notified {
			notified = true
			c.warnAsync(fmt.Sprintf("This session will end in %d seconds due to inactivity.", int(remaining.Seconds())))
		}

		if time.Since(lastLog) >= idleDebugLogInterval {
			c.Logger.Debug().Dur("remaining", remaining).Msg("session: idle check")
			lastLog = time.Now()
		}

		if remaining == 0 {
			if err := c.OS.Logoff(); err != nil {
				c.Logger.Warn().Err(err).Msg("session: logoff on idle timeout failed")
			}
			c.Stop.Set()
			return fmt.Sprintf("idle of %ds reached", int(c.MaxIdle.Seconds()))
		}

		if c.waitOrStop(ctx, idleTick) {
			return ""
		}
	}
}

// deadlineLoop sleeps until 5 minutes (or the whole deadline, whichever is
// shorter) before the session's hard end, warns once, sleeps the remaining
// grace period, then fires Stop.
func (c *Controller) deadlineLoop(ctx context.Context) string {
	if c.Deadline <= 0 {
		<-c.Stop.Done()
		return ""
	}

	grace := c.Deadline
	if grace > deadlineGraceCap {
		grace = deadlineGraceCap
	}
	main := c.Deadline - grace

	if main > 0 {
		if c.waitOrStop(ctx, main) {
			return ""
		}
	}

	c.warnAsync("This session will end in 5 minutes.")

	if c.waitOrStop(ctx, grace) {
		return ""
	}

	c.Stop.Set()
	return fmt.Sprintf("deadline of %ds reached", int(c.Deadline.Seconds()))
}

// warnAsync shows a dialog without blocking the calling loop's tick; the
// OS facade's dialog helpers run as external subprocesses the Go side does
// not hold a window handle for (see DESIGN.md's "dialog dismissal"
// decision), so "dismissing" a warning is modeled as simply not re-showing
// it rather than killing the subprocess.
func (c *Controller) warnAsync(text string) {
	go func() {
		if err := c.OS.ShowMessage(text); err != nil {
			c.Logger.Warn().Err(err).Msg("session: warning dialog failed")
		}
	}()
}

// waitOrStop blocks for d, or until Stop fires, or ctx is done, whichever
// comes first; it reports whether Stop/ctx won the race.
func (c *Controller) waitOrStop(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.Stop.Done():
		return true
	case <-ctx.Done():
		return true
	case <-timer.C:
		return false
	}
}
