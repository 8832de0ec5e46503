// Package svcmanager wraps the platform service manager: judwhite/go-svc
// on Unix (a thin run-in-foreground-or-as-a-daemon shim over signal
// handling) and the Windows Service Control Manager directly on Windows,
// where the exact checkpoint/exit-code contract of spec.md §4.9 needs more
// control than go-svc exposes.
package svcmanager

import (
	"context"
	"time"
)

// RunFunc is the long-running service body the wrapper drives. It receives
// a context canceled the moment the service manager asks for a stop, and
// should return once its work has wound down.
type RunFunc func(ctx context.Context) error

// ExitCodeRestart is the distinct process exit code used on platforms
// without a native service-specific-error channel (i.e. whenever the
// process is not actually running under the Windows SCM) to signal to a
// wrapping process supervisor that RestartFlag was set and the process
// should be restarted rather than left dead.
const ExitCodeRestart = 42

// recoveryDelay and recoveryResetPeriod are the Windows SCM recovery
// parameters spec.md §4.9 names explicitly: restart on failure after a 5s
// delay, with the failure count reset after a day of continuous uptime.
const (
	recoveryDelay       = 5 * time.Second
	recoveryResetPeriod = 24 * time.Hour
)

// InstallOptions describes the service identity registered with the
// platform service manager.
type InstallOptions struct {
	Name        string
	DisplayName string
	Description string
	BinaryPath  string
	Args        []string
}
