package workers

import (
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
	"github.com/udsactor/agent/pkg/broker"
	"github.com/udsactor/agent/pkg/config"
	"github.com/udsactor/agent/pkg/rpc"
	"github.com/udsactor/agent/pkg/rpcserver"
	"github.com/udsactor/agent/pkg/tracker"
)

// memStore is an in-memory config.Store standing in for the real
// registry/TOML-file backed implementations during tests.
type memStore struct {
	cfg config.ActorConfiguration
}

func (m *memStore) Load() (config.ActorConfiguration, error) { return m.cfg, nil }
func (m *memStore) Save(cfg config.ActorConfiguration) error  { m.cfg = cfg; return nil }
func (m *memStore) Clear() error                              { m.cfg = config.Default(); return nil }

func newTestHub(t *testing.T) (*rpcserver.Hub, string) {
	t.Helper()
	hub := rpcserver.NewHub(tracker.New())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		hub.Attach(conn)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return hub, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialFakeAgent(t *testing.T, wsURL string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestServiceCatalogLoginManagedRoundTrip(t *testing.T) {
	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var result any
		switch {
		case strings.HasSuffix(r.URL.Path, "/login"):
			result = broker.LoginResult{IP: "10.0.0.5", Hostname: "host1", Deadline: 600, MaxIdle: 120, SessionID: "sess-1"}
		default:
			http.NotFound(w, r)
			return
		}
		raw, _ := json.Marshal(result)
		_ = json.NewEncoder(w).Encode(broker.Envelope{Result: raw})
	}))
	defer brokerSrv.Close()

	brk, err := broker.New(broker.Config{BrokerURL: brokerSrv.URL, VerifySSL: true, Version: "1", Build: "1"})
	require.NoError(t, err)

	store := &memStore{cfg: config.ActorConfiguration{
		ActorType: config.Managed,
		OwnToken:  "own-token",
		Config:    &config.ActorDataConfiguration{UniqueID: "unique-1"},
	}}
	mgr, err := config.NewManager(store)
	require.NoError(t, err)

	hub, wsURL := newTestHub(t)
	agentConn := dialFakeAgent(t, wsURL)
	time.Sleep(50 * time.Millisecond) // allow Attach to run

	stop := make(chan struct{})
	defer close(stop)

	cat := NewServiceCatalog(hub, brk, mgr, stop, zerolog.Nop())
	cat.Start()
	time.Sleep(20 * time.Millisecond) // allow subscriptions to register

	loginEnv := rpc.NewRequestEnvelope(1, &rpc.LoginRequestMessage{Username: "alice", SessionType: "rdp"})
	data, err := json.Marshal(loginEnv)
	require.NoError(t, err)
	require.NoError(t, agentConn.WriteMessage(websocket.TextMessage, data))

	_, reply, err := agentConn.ReadMessage()
	require.NoError(t, err)

	var decoded rpc.Envelope
	require.NoError(t, json.Unmarshal(reply, &decoded))
	resp, ok := decoded.Msg.(*rpc.LoginResponseMessage)
	require.True(t, ok)
	assert.Equal(t, "sess-1", resp.SessionID)
	assert.Equal(t, "10.0.0.5", resp.IP)
}

func TestServiceCatalogPingReplyIsPong(t *testing.T) {
	hub, wsURL := newTestHub(t)
	agentConn := dialFakeAgent(t, wsURL)
	time.Sleep(50 * time.Millisecond)

	store := &memStore{cfg: config.Default()}
	mgr, err := config.NewManager(store)
	require.NoError(t, err)
	brk, err := broker.New(broker.Config{BrokerURL: "http://example.invalid"})
	require.NoError(t, err)

	stop := make(chan struct{})
	defer close(stop)
	cat := NewServiceCatalog(hub, brk, mgr, stop, zerolog.Nop())
	cat.Start()
	time.Sleep(20 * time.Millisecond)

	env := rpc.NewRequestEnvelope(7, &rpc.PingMessage{Payload: "hi"})
	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, agentConn.WriteMessage(websocket.TextMessage, data))

	_, reply, err := agentConn.ReadMessage()
	require.NoError(t, err)
	var decoded rpc.Envelope
	require.NoError(t, json.Unmarshal(reply, &decoded))
	msg, ok := decoded.Msg.(*rpc.PongMessage)
	require.True(t, ok)
	assert.Equal(t, "hi", msg.Payload)
}

func TestFloodGuardLimitsLogForward(t *testing.T) {
	var calls int
	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode(broker.Envelope{Result: json.RawMessage(`null`)})
	}))
	defer brokerSrv.Close()

	brk, err := broker.New(broker.Config{BrokerURL: brokerSrv.URL})
	require.NoError(t, err)
	store := &memStore{cfg: config.Default()}
	mgr, err := config.NewManager(store)
	require.NoError(t, err)

	hub, wsURL := newTestHub(t)
	agentConn := dialFakeAgent(t, wsURL)
	time.Sleep(50 * time.Millisecond)

	stop := make(chan struct{})
	defer close(stop)
	cat := NewServiceCatalog(hub, brk, mgr, stop, zerolog.Nop())
	cat.guard = NewFloodGuard(2, time.Minute)
	cat.Start()
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 5; i++ {
		env := rpc.NewEnvelope(&rpc.LogForwardMessage{Level: "info", Message: "x"})
		data, _ := json.Marshal(env)
		require.NoError(t, agentConn.WriteMessage(websocket.TextMessage, data))
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 2, calls)
}
