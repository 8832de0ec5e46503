// Package rpcclient is the user-agent side of the local RPC link: a single
// WebSocket connection to the privileged service, with a bounded outbound
// queue and a broadcast fan-out of everything read off the wire.
package rpcclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/udsactor/agent/pkg/rpc"
)

// outboundQueueSize bounds the multi-producer queue of outbound envelopes
// (to_ws in the spec's terms) so a stalled write never blocks an unbounded
// number of callers.
const outboundQueueSize = 64

// Client holds the single connection to the service's /ws endpoint. Peer
// certificate verification is disabled: the hop is loopback-only and the
// certificate is ephemeral, generated fresh by the broker per registration.
type Client struct {
	conn *websocket.Conn

	outbound chan rpc.Envelope
	stop     chan struct{}
	closeOnce sync.Once

	subMu       sync.RWMutex
	subscribers map[rpc.Kind][]chan rpc.Envelope
}

// Dial connects to wsURL (e.g. "wss://localhost:8443/ws") and starts the
// read and write loops. The returned Client's Close stops both loops and
// closes the underlying connection.
func Dial(ctx context.Context, wsURL string) (*Client, error) {
	dialer := websocket.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("rpcclient: dial %s: %w", wsURL, err)
	}

	c := &Client{
		conn:        conn,
		outbound:    make(chan rpc.Envelope, outboundQueueSize),
		stop:        make(chan struct{}),
		subscribers: make(map[rpc.Kind][]chan rpc.Envelope),
	}

	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

// Close stops the write loop and closes the connection. Safe to call more
// than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.stop)
		err = c.conn.Close()
	})
	return err
}

// Send enqueues a fire-and-forget envelope. Blocks if the outbound queue is
// full; callers on a hot path should select on ctx.Done() alongside this if
// backpressure matters to them.
func (c *Client) Send(msg rpc.Message) error {
	select {
	case c.outbound <- rpc.NewEnvelope(msg):
		return nil
	case <-c.stop:
		return fmt.Errorf("rpcclient: connection closed")
	}
}

// SendRequest enqueues msg tagged with id, for callers implementing their
// own request/response correlation (the login flow's fixed envelope id).
func (c *Client) SendRequest(id uint64, msg rpc.Message) error {
	select {
	case c.outbound <- rpc.NewRequestEnvelope(id, msg):
		return nil
	case <-c.stop:
		return fmt.Errorf("rpcclient: connection closed")
	}
}

// Reply is an alias for SendRequest used when answering a service-initiated
// request (screenshot, script) with the same correlation id it arrived
// with.
func (c *Client) Reply(id uint64, msg rpc.Message) error {
	return c.SendRequest(id, msg)
}

// Subscribe registers ch to receive every inbound envelope of kind k,
// correlation id included. Like the service-side hub, delivery is
// best-effort: a full channel drops the frame rather than blocking the
// read loop.
func (c *Client) Subscribe(k rpc.Kind, ch chan rpc.Envelope) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers[k] = append(c.subscribers[k], ch)
}

func (c *Client) writeLoop() {
	for {
		select {
		case env := <-c.outbound:
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.stop:
			return
		}
	}
}

// readLoop deserializes every inbound frame into an Envelope and dispatches
// it to subscribers; malformed frames are dropped rather than killing the
// connection, matching the spec's "invalid frames are logged and dropped".
func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var env rpc.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env rpc.Envelope) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, ch := range c.subscribers[env.Msg.Kind()] {
		select {
		case ch <- env:
		default:
		}
	}
}
