// Package tracker correlates outbound RPC request ids with the inbound
// responses that eventually resolve them, with bounded expiry so a
// disconnected peer can never leak a pending slot forever.
package tracker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/udsactor/agent/pkg/rpc"
	"github.com/udsactor/agent/pkg/rpcerr"
)

const (
	// DefaultTimeout is the default age after which a pending request is
	// swept and resolved with a timeout error.
	DefaultTimeout = 30 * time.Second
	// DefaultSweepInterval is how often the background sweeper runs.
	DefaultSweepInterval = 5 * time.Second
)

type pending struct {
	created time.Time
	resume  chan rpc.Message
}

// Tracker is the sole owner of the one-shot resolvers it hands out via
// Register. Its critical sections are O(1): a single mutex guards a map.
type Tracker struct {
	mu      sync.Mutex
	pending map[uint64]*pending
	nextID  atomic.Uint64
	timeout time.Duration
}

// New creates a Tracker with DefaultTimeout.
func New() *Tracker {
	return &Tracker{
		pending: make(map[uint64]*pending),
		timeout: DefaultTimeout,
	}
}

// WithTimeout overrides the default per-request expiry.
func (t *Tracker) WithTimeout(d time.Duration) *Tracker {
	t.timeout = d
	return t
}

// Register allocates a fresh request id and returns it along with a channel
// that receives exactly one rpc.Message: the eventual response, an error
// envelope, or a timeout error envelope from the sweeper.
func (t *Tracker) Register() (id uint64, resume <-chan rpc.Message) {
	id = t.nextID.Add(1)
	ch := make(chan rpc.Message, 1)

	t.mu.Lock()
	t.pending[id] = &pending{created: time.Now(), resume: ch}
	t.mu.Unlock()

	return id, ch
}

// Deregister removes a pending request without resolving it, e.g. after a
// caller gives up waiting. It is a no-op if the id is already resolved.
func (t *Tracker) Deregister(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

// ResolveOK delivers message to the waiter registered under id. Returns false
// if id is unknown (already resolved, expired, or never registered) — the
// caller should treat that as a silent drop, matching an external broker
// request that was never ours to track.
func (t *Tracker) ResolveOK(id uint64, message rpc.Message) bool {
	t.mu.Lock()
	p, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	p.resume <- message
	return true
}

// ResolveErr delivers an Error message with the given code/message to id.
func (t *Tracker) ResolveErr(id uint64, code int, message string) bool {
	var errMsg *rpc.ErrorMessage
	switch code {
	case 403:
		errMsg = rpcerr.Forbidden(message)
	case 408:
		errMsg = rpcerr.Timeout(message)
	default:
		errMsg = rpcerr.Other(message)
	}
	return t.ResolveOK(id, errMsg)
}

// Sweep removes and resolves (with a 408 timeout error) every pending
// request older than the configured timeout. Returns the number of entries
// swept.
func (t *Tracker) Sweep() int {
	now := time.Now()
	var expired []*pending

	t.mu.Lock()
	for id, p := range t.pending {
		if now.Sub(p.created) > t.timeout {
			expired = append(expired, p)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()

	for _, p := range expired {
		p.resume <- rpcerr.Timeout("")
	}
	return len(expired)
}

// RunSweeper runs Sweep on DefaultSweepInterval until stop fires.
func (t *Tracker) RunSweeper(stop <-chan struct{}) {
	ticker := time.NewTicker(DefaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Sweep()
		case <-stop:
			return
		}
	}
}

// Len reports the number of currently pending requests (test/diagnostic use).
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
