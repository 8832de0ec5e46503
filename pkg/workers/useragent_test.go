package workers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/udsactor/agent/pkg/rpc"
	"github.com/udsactor/agent/pkg/rpcclient"
)

// fakeDesktop is a hand-written stand-in for the OS capability facade,
// matching the teacher's preference for hand-rolled fakes over generated
// mocks.
type fakeDesktop struct {
	screenshot   string
	screenshotErr error
	messages     []string
	scripts      []string
	loggedOff    bool
}

func (d *fakeDesktop) Screenshot() (string, error)          { return d.screenshot, d.screenshotErr }
func (d *fakeDesktop) ShowMessage(text string) error         { d.messages = append(d.messages, text); return nil }
func (d *fakeDesktop) RunScript(t, s string) (string, error) { d.scripts = append(d.scripts, s); return "ok", nil }
func (d *fakeDesktop) Logoff() error                         { d.loggedOff = true; return nil }

// serveRelay runs a bare WS server that lets the test drive arbitrary
// envelopes to the connected client and observe what comes back.
func serveRelay(t *testing.T) (wsURL string, toClient chan<- []byte, fromClient <-chan []byte, closeFn func()) {
	t.Helper()
	toClientCh := make(chan []byte, 8)
	fromClientCh := make(chan []byte, 8)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		go func() {
			for data := range toClientCh {
				if conn.WriteMessage(websocket.TextMessage, data) != nil {
					return
				}
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fromClientCh <- data
		}
	}))

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", toClientCh, fromClientCh, ts.Close
}

func TestUserAgentCatalogScreenshot(t *testing.T) {
	wsURL, toClient, fromClient, closeServer := serveRelay(t)
	defer closeServer()

	client, err := rpcclient.Dial(context.Background(), wsURL)
	require.NoError(t, err)
	defer client.Close()

	desktop := &fakeDesktop{screenshot: "b64img"}
	stop := make(chan struct{})
	defer close(stop)
	cat := NewUserAgentCatalog(client, desktop, stop, zerolog.Nop())
	cat.Start()
	time.Sleep(20 * time.Millisecond)

	req := rpc.NewRequestEnvelope(3, &rpc.ScreenshotRequestMessage{})
	data, err := json.Marshal(req)
	require.NoError(t, err)
	toClient <- data

	select {
	case raw := <-fromClient:
		var env rpc.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		resp, ok := env.Msg.(*rpc.ScreenshotResponseMessage)
		require.True(t, ok)
		assert.Equal(t, "b64img", resp.Result)
	case <-time.After(2 * time.Second):
		t.Fatal("no screenshot reply received")
	}
}

func TestUserAgentCatalogMessageAndLogoff(t *testing.T) {
	wsURL, toClient, _, closeServer := serveRelay(t)
	defer closeServer()

	client, err := rpcclient.Dial(context.Background(), wsURL)
	require.NoError(t, err)
	defer client.Close()

	desktop := &fakeDesktop{}
	stop := make(chan struct{})
	defer close(stop)
	cat := NewUserAgentCatalog(client, desktop, stop, zerolog.Nop())
	cat.Start()
	time.Sleep(20 * time.Millisecond)

	msgEnv := rpc.NewEnvelope(&rpc.MessageRequestMessage{Message: "hello"})
	data, _ := json.Marshal(msgEnv)
	toClient <- data

	logoffEnv := rpc.NewEnvelope(&rpc.LogoffRequestMessage{})
	data2, _ := json.Marshal(logoffEnv)
	toClient <- data2

	require.Eventually(t, func() bool {
		return len(desktop.messages) == 1 && desktop.loggedOff
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "hello", desktop.messages[0])
}
