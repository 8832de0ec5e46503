//go:build !windows

package session

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/udsactor/agent/pkg/syncx"
)

// watchSignals sets stop on SIGTERM/SIGINT, mirroring the teacher's
// cmd/warren main.go signal.Notify(os.Interrupt, syscall.SIGTERM) pattern.
func watchSignals(stop *syncx.OnceSignal) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
		stop.Set()
	case <-stop.Done():
	}
}
