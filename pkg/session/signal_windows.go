//go:build windows

package session

import "github.com/udsactor/agent/pkg/syncx"

// watchSignals is a no-op on Windows: the service-manager wrapper
// (pkg/svcmanager) maps SCM Stop directly onto the shared stop signal, so
// the user-agent process never needs its own signal handling.
func watchSignals(stop *syncx.OnceSignal) {
	<-stop.Done()
}
