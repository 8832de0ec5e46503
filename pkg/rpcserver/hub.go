package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/udsactor/agent/pkg/rpc"
	"github.com/udsactor/agent/pkg/tracker"
)

// Hub owns the single WebSocket connection to the in-session user agent.
// Broker-facing HTTP handlers call Request to fan a message out over the
// connection and await its paired response through the tracker; the read
// loop routes any inbound envelope carrying a response kind back to the
// tracker, and anything else to the subscriber registered for that kind.
type Hub struct {
	tracker *tracker.Tracker

	mu   sync.Mutex
	conn *websocket.Conn

	subMu       sync.RWMutex
	subscribers map[rpc.Kind][]chan rpc.Envelope
}

// NewHub returns a Hub with no connection attached.
func NewHub(t *tracker.Tracker) *Hub {
	return &Hub{tracker: t, subscribers: make(map[rpc.Kind][]chan rpc.Envelope)}
}

// Attach installs conn as the active connection, replacing and closing any
// previous one, and starts its read loop. The read loop exits when the
// connection closes or errors; callers should Attach again on the next
// successful upgrade.
func (h *Hub) Attach(conn *websocket.Conn) {
	h.mu.Lock()
	old := h.conn
	h.conn = conn
	h.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	go h.readLoop(conn)
}

// Connected reports whether a user-agent connection is currently attached.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil
}

func (h *Hub) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			h.mu.Lock()
			if h.conn == conn {
				h.conn = nil
			}
			h.mu.Unlock()
			return
		}

		var env rpc.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue // malformed frame, drop
		}

		if env.ID != nil && isResponseKind(env.Msg.Kind()) {
			h.tracker.ResolveOK(*env.ID, env.Msg)
			continue
		}
		h.dispatch(env)
	}
}

// isResponseKind reports whether k is a reply to a Request the service
// itself issued (screenshot, uuid, script) as opposed to an unsolicited
// push from the user agent (login, logout, ping, log forward) that a
// worker subscribes to instead.
func isResponseKind(k rpc.Kind) bool {
	switch k {
	case rpc.KindScreenshotResponse, rpc.KindUUidResponse, rpc.KindScriptExecResponse:
		return true
	default:
		return false
	}
}

// Request broadcasts msg with a fresh tracker id and waits up to timeout
// for the paired response. Used by every broker-facing handler that must
// round-trip through the user agent (screenshot, uuid, script).
func (h *Hub) Request(ctx context.Context, msg rpc.Message, timeout time.Duration) (rpc.Message, error) {
	id, resume := h.tracker.Register()
	defer h.tracker.Deregister(id)

	if err := h.write(rpc.NewRequestEnvelope(id, msg)); err != nil {
		return nil, fmt.Errorf("rpcserver: send %s: %w", msg.Kind(), err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case reply := <-resume:
		if errMsg, ok := reply.(*rpc.ErrorMessage); ok {
			return nil, fmt.Errorf("rpcserver: %s: %s (code %d)", msg.Kind(), errMsg.Message, errMsg.Code)
		}
		return reply, nil
	case <-waitCtx.Done():
		return nil, fmt.Errorf("rpcserver: %s: %w", msg.Kind(), waitCtx.Err())
	}
}

// write serializes and sends env over the active connection. Returns an
// error if no user agent is currently connected.
func (h *Hub) write(env rpc.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == nil {
		return fmt.Errorf("no user-agent connection")
	}
	return h.conn.WriteMessage(websocket.TextMessage, data)
}

// Broadcast sends a fire-and-forget envelope with no id: a message or
// logoff notification the broker does not await a reply for.
func (h *Hub) Broadcast(msg rpc.Message) error {
	return h.write(rpc.NewEnvelope(msg))
}

// Reply sends msg tagged with id without waiting for anything back. Used by
// workers answering a request the user agent itself initiated (e.g. the
// login worker echoing a LoginResponse back to the LoginRequest's id),
// where the tracker has no pending entry to resolve because the service is
// the responder, not the requester.
func (h *Hub) Reply(id uint64, msg rpc.Message) error {
	return h.write(rpc.NewRequestEnvelope(id, msg))
}

// Subscribe registers a channel that receives every inbound envelope of
// kind k not routed to the tracker (i.e. non-response kinds the user agent
// pushes unsolicited, such as LoginRequest, LogoutRequest, or Ping). The
// envelope's ID, when present, is the correlation id a worker must echo
// back via Reply (the login worker answering a LoginRequest). Delivery is
// lossy if the channel is full: the capacity-32 buffering the worker
// fabric uses means a lagging subscriber simply misses a frame.
func (h *Hub) Subscribe(k rpc.Kind, ch chan rpc.Envelope) {
	h.subMu.Lock()
	defer h.subMu.Unlock()
	h.subscribers[k] = append(h.subscribers[k], ch)
}

func (h *Hub) dispatch(env rpc.Envelope) {
	h.subMu.RLock()
	defer h.subMu.RUnlock()
	for _, ch := range h.subscribers[env.Msg.Kind()] {
		select {
		case ch <- env:
		default:
		}
	}
}
