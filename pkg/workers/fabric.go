// Package workers implements the worker fabric described in spec.md §4.6:
// one goroutine per RPC kind on each side of the local link, each
// subscribing to its inbound broadcast, filtering for its expected
// message variant, processing it, and exiting when stop fires.
package workers

import (
	"github.com/rs/zerolog"
	"github.com/udsactor/agent/pkg/rpc"
)

// subscriber is the minimal surface a worker needs from either the
// service-side Hub or the user-agent-side Client: register a channel for a
// message kind.
type subscriber interface {
	Subscribe(k rpc.Kind, ch chan rpc.Envelope)
}

// Fabric spawns and tracks the set of per-kind worker goroutines running
// against a single subscriber (a rpcserver.Hub or an rpcclient.Client).
type Fabric struct {
	sub    subscriber
	stop   <-chan struct{}
	logger zerolog.Logger
}

// New returns a Fabric whose workers stop when stop is closed.
func New(sub subscriber, stop <-chan struct{}, logger zerolog.Logger) *Fabric {
	return &Fabric{sub: sub, stop: stop, logger: logger}
}

// spawnTyped subscribes to kind and runs handle for every inbound envelope
// of that kind until stop fires, recovering any panic handle raises.
func (f *Fabric) spawnTyped(name string, kind rpc.Kind, handle func(rpc.Envelope)) {
	ch := make(chan rpc.Envelope, 32)
	f.sub.Subscribe(kind, ch)

	go func() {
		for {
			select {
			case env := <-ch:
				Guard(f.logger, name, func() { handle(env) })
			case <-f.stop:
				return
			}
		}
	}()
}
