//go:build windows

package svcmanager

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/windows/svc"

	"github.com/udsactor/agent/pkg/syncx"
)

// checkpointInterval is how often Execute advances the STOP_PENDING
// checkpoint while waiting for run to return, per spec.md §4.9.
const checkpointInterval = 100 * time.Millisecond

// serviceSpecificRestart is the service-specific error code reported to
// the SCM when RestartFlag was set, triggering the service's configured
// restart-on-failure recovery action.
const serviceSpecificRestart = 1

// handler implements golang.org/x/sys/windows/svc.Handler directly
// (rather than through go-svc) so Execute can report the SCM's
// STOP_PENDING checkpoint and exit code exactly as spec.md §4.9 requires.
type handler struct {
	run         RunFunc
	stop        *syncx.OnceSignal
	restartFlag func() bool
	logger      zerolog.Logger
}

func (h *handler) Execute(_ []string, r <-chan svc.ChangeRequest, s chan<- svc.Status) (bool, uint32) {
	s <- svc.Status{State: svc.StartPending}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- h.run(ctx) }()

	s <- svc.Status{State: svc.Running, Accepts: svc.AcceptStop | svc.AcceptShutdown}

loop:
	for {
		select {
		case req := <-r:
			switch req.Cmd {
			case svc.Interrogate:
				s <- req.CurrentStatus
			case svc.Stop, svc.Shutdown:
				h.stop.Set()
				cancel()
				break loop
			}
		case <-done:
			break loop
		}
	}

	s <- svc.Status{State: svc.StopPending, CheckPoint: 1, WaitHint: uint32(checkpointInterval.Milliseconds()) * 20}
	checkpoint := uint32(1)
	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			goto stopped
		case <-ticker.C:
			checkpoint++
			s <- svc.Status{State: svc.StopPending, CheckPoint: checkpoint, WaitHint: uint32(checkpointInterval.Milliseconds()) * 20}
		}
	}

stopped:
	s <- svc.Status{State: svc.Stopped}

	if h.restartFlag() {
		return true, serviceSpecificRestart
	}
	return false, 0
}

// Run registers with the SCM when running as a Windows service, mapping
// Stop/Shutdown control requests onto stop and reporting an advancing
// STOP_PENDING checkpoint every 100ms while run winds down; it exits with
// ERROR_SERVICE_SPECIFIC_ERROR when restartFlag is set (so the service's
// recovery action fires) or NO_ERROR otherwise.
func Run(run RunFunc, stop *syncx.OnceSignal, restartFlag func() bool, logger zerolog.Logger) error {
	isService, err := svc.IsWindowsService()
	if err != nil {
		return err
	}

	h := &handler{run: run, stop: stop, restartFlag: restartFlag, logger: logger}

	if !isService {
		// Running interactively (development, or --install/--uninstall
		// invocation context): drive run directly, no SCM involved.
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-stop.Done()
			cancel()
		}()
		return run(ctx)
	}

	return svc.Run(serviceName(), h)
}

func serviceName() string { return "UDSActor" }
