package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/udsactor/agent/pkg/rpc"
)

var testUpgrader = websocket.Upgrader{}

// serveEcho runs a bare WS server that echoes the first frame it reads back
// as an UUidResponseMessage carrying the same correlation id, standing in
// for the privileged service during client tests.
func serveEcho(t *testing.T) (wsURL string, close func()) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env rpc.Envelope
		require.NoError(t, json.Unmarshal(data, &env))

		reply := rpc.NewRequestEnvelope(*env.ID, &rpc.UUidResponseMessage{Result: "echoed"})
		out, err := json.Marshal(reply)
		require.NoError(t, err)
		_ = conn.WriteMessage(websocket.TextMessage, out)

		<-make(chan struct{}) // keep the handler alive until the test closes the conn
	}))
	return "ws" + strings.TrimPrefix(ts.URL, "http"), ts.Close
}

func TestSendRequestRoundTrip(t *testing.T) {
	wsURL, closeServer := serveEcho(t)
	defer closeServer()

	c, err := Dial(context.Background(), wsURL)
	require.NoError(t, err)
	defer c.Close()

	received := make(chan rpc.Envelope, 1)
	c.Subscribe(rpc.KindUUidResponse, received)

	require.NoError(t, c.SendRequest(1, &rpc.UUidRequestMessage{}))

	select {
	case env := <-received:
		resp, ok := env.Msg.(*rpc.UUidResponseMessage)
		require.True(t, ok)
		assert.Equal(t, "echoed", resp.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("client never received response")
	}
}

func TestSendFailsAfterClose(t *testing.T) {
	wsURL, closeServer := serveEcho(t)
	defer closeServer()

	c, err := Dial(context.Background(), wsURL)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	err = c.Send(&rpc.PingMessage{})
	assert.Error(t, err)
}

func TestSubscribeDropsOnFullBuffer(t *testing.T) {
	wsURL, closeServer := serveEcho(t)
	defer closeServer()

	c, err := Dial(context.Background(), wsURL)
	require.NoError(t, err)
	defer c.Close()

	full := make(chan rpc.Envelope) // unbuffered, never drained
	c.Subscribe(rpc.KindUUidResponse, full)

	require.NoError(t, c.SendRequest(1, &rpc.UUidRequestMessage{}))
	time.Sleep(100 * time.Millisecond) // dispatch attempt should not block the read loop
}
