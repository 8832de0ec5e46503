//go:build !windows

package svcmanager

import (
	"context"
	"os"

	svc "github.com/judwhite/go-svc"
	"github.com/rs/zerolog"

	"github.com/udsactor/agent/pkg/syncx"
)

// program adapts a RunFunc + syncx.OnceSignal pair to go-svc's Service
// interface so the same main-loop body behaves identically run directly
// from a terminal during development and under a process supervisor
// (systemd, launchd) in production; go-svc maps SIGINT/SIGTERM onto
// Stop/Init/Start/Stop itself on these platforms.
type program struct {
	run    RunFunc
	stop   *syncx.OnceSignal
	cancel context.CancelFunc
	done   chan error
	logger zerolog.Logger
}

func (p *program) Init(env svc.Environment) error {
	return nil
}

func (p *program) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)

	go func() { p.done <- p.run(ctx) }()
	go func() {
		<-p.stop.Done()
		cancel()
	}()
	return nil
}

func (p *program) Stop() error {
	p.stop.Set()
	if p.cancel != nil {
		p.cancel()
	}
	if p.done == nil {
		return nil
	}
	return <-p.done
}

// Run drives run under go-svc, then translates restartFlag into
// ExitCodeRestart so a wrapping process supervisor configured with a
// matching restart-on-exit-code rule can restart the agent cleanly, per
// spec.md §4.1's "service manager wrapper translates restart_flag into a
// distinct exit code".
func Run(run RunFunc, stop *syncx.OnceSignal, restartFlag func() bool, logger zerolog.Logger) error {
	p := &program{run: run, stop: stop, logger: logger}
	if err := svc.Run(p); err != nil {
		return err
	}
	if restartFlag() {
		os.Exit(ExitCodeRestart)
	}
	return nil
}

// Install is a no-op on Unix: the installer sub-command only registers a
// native service on Windows per spec.md §4.9; Unix deployments run under
// an operator-managed systemd/launchd unit instead.
func Install(InstallOptions) error { return nil }

// Uninstall mirrors Install's no-op.
func Uninstall(name string) error { return nil }
