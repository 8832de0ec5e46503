package lifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udsactor/agent/pkg/broker"
	"github.com/udsactor/agent/pkg/config"
	"github.com/udsactor/agent/pkg/osfacade"
	"github.com/udsactor/agent/pkg/syncx"
)

// memStore is an in-memory config.Store standing in for the registry/TOML
// backed implementations, matching the pattern used by pkg/workers' tests.
type memStore struct {
	cfg config.ActorConfiguration
}

func (m *memStore) Load() (config.ActorConfiguration, error) { return m.cfg, nil }
func (m *memStore) Save(cfg config.ActorConfiguration) error  { m.cfg = cfg; return nil }
func (m *memStore) Clear() error                              { m.cfg = config.Default(); return nil }

func newManager(t *testing.T, cfg config.ActorConfiguration) *config.Manager {
	t.Helper()
	mgr, err := config.NewManager(&memStore{cfg: cfg})
	require.NoError(t, err)
	return mgr
}

func newRunner(t *testing.T, cfg config.ActorConfiguration, brokerURL string, os osfacade.OS) *Runner {
	t.Helper()
	brk, err := broker.New(broker.Config{BrokerURL: brokerURL, Version: "1", Build: "1"})
	require.NoError(t, err)
	mgr := newManager(t, cfg)
	return New(mgr, brk, os, syncx.NewOnceSignal(), zerolog.Nop())
}

func jsonResult(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestWaitForReadinessReturnsImmediatelyWhenStopped(t *testing.T) {
	r := newRunner(t, config.Default(), "http://example.invalid", osfacade.NewMock())
	r.Stop.Set()

	done := make(chan struct{})
	go func() {
		_ = r.waitForReadiness(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waitForReadiness did not return after Stop was set")
	}
}

func TestWaitOrStopReturnsTrueOnStop(t *testing.T) {
	r := newRunner(t, config.Default(), "http://example.invalid", osfacade.NewMock())
	r.Stop.Set()
	assert.True(t, r.waitOrStop(context.Background(), time.Minute))
}

func TestWaitOrStopReturnsFalseOnTimerElapse(t *testing.T) {
	r := newRunner(t, config.Default(), "http://example.invalid", osfacade.NewMock())
	assert.False(t, r.waitOrStop(context.Background(), time.Millisecond))
}

func TestRunManagedSkipsWhenRunOnceExecuted(t *testing.T) {
	cfg := config.ActorConfiguration{
		ActorType:      config.Managed,
		OwnToken:       "own-token",
		RunOnceCommand: "true",
		Config:         &config.ActorDataConfiguration{UniqueID: "u1"},
	}
	mock := osfacade.NewMock()
	mock.ScriptOutput = "ok"
	r := newRunner(t, cfg, "http://example.invalid", mock)

	certInfo, err := r.runManaged(context.Background())
	require.NoError(t, err)
	assert.Nil(t, certInfo)
	assert.Contains(t, mock.Calls, "RunScript")
	assert.Equal(t, "", r.Config.Get().RunOnceCommand, "run-once command should be cleared after execution")
}

func TestRunManagedCallsReadyWhenNoPendingWork(t *testing.T) {
	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.HasSuffix(req.URL.Path, "/ready") {
			_ = json.NewEncoder(w).Encode(broker.Envelope{Result: jsonResult(t, broker.CertificateInfo{
				CertificatePEM: "cert", PrivateKeyPEM: "key",
			})})
			return
		}
		http.NotFound(w, req)
	}))
	defer brokerSrv.Close()

	cfg := config.ActorConfiguration{
		ActorType: config.Managed,
		OwnToken:  "own-token",
		Config:    &config.ActorDataConfiguration{UniqueID: "u1"},
	}
	r := newRunner(t, cfg, brokerSrv.URL, osfacade.NewMock())

	certInfo, err := r.runManaged(context.Background())
	require.NoError(t, err)
	require.NotNil(t, certInfo)
	assert.Equal(t, "cert", certInfo.CertificatePEM)
}

func TestRunManagedInitializesWhenNotYetInitialized(t *testing.T) {
	var initializeCalls int
	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch {
		case strings.HasSuffix(req.URL.Path, "/initialize"):
			initializeCalls++
			_ = json.NewEncoder(w).Encode(broker.Envelope{Result: jsonResult(t, broker.InitializeResult{
				Token: "fresh-own-token", UniqueID: "u-fresh",
			})})
		case strings.HasSuffix(req.URL.Path, "/ready"):
			_ = json.NewEncoder(w).Encode(broker.Envelope{Result: jsonResult(t, broker.CertificateInfo{
				CertificatePEM: "cert",
			})})
		default:
			http.NotFound(w, req)
		}
	}))
	defer brokerSrv.Close()

	cfg := config.ActorConfiguration{ActorType: config.Managed}
	r := newRunner(t, cfg, brokerSrv.URL, osfacade.NewMock())

	certInfo, err := r.runManaged(context.Background())
	require.NoError(t, err)
	require.NotNil(t, certInfo)
	assert.Equal(t, 1, initializeCalls)
	assert.Equal(t, "fresh-own-token", r.Config.Get().OwnToken)
	assert.Equal(t, "u-fresh", r.Config.Get().UniqueID())
}

func TestRunManagedRenameReboots(t *testing.T) {
	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.NotFound(w, req)
	}))
	defer brokerSrv.Close()

	mock := osfacade.NewMock()
	mock.Hostname = "old-name"
	cfg := config.ActorConfiguration{
		ActorType: config.Managed,
		OwnToken:  "own-token",
		Config: &config.ActorDataConfiguration{
			UniqueID: "u1",
			OS: &config.ActorOSConfiguration{
				Action: config.OSActionRename,
				Name:   "new-name",
			},
		},
	}
	r := newRunner(t, cfg, brokerSrv.URL, mock)

	certInfo, err := r.runManaged(context.Background())
	require.NoError(t, err)
	assert.Nil(t, certInfo, "a reboot should short-circuit this boot cycle")
	assert.Equal(t, "new-name", mock.Hostname)
	assert.Contains(t, mock.Calls, "Reboot")
	assert.Nil(t, r.Config.Get().OSAction(), "the OS action must be consumed exactly once")
}

func TestRunManagedRenameSkippedWhenAlreadyCorrect(t *testing.T) {
	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.HasSuffix(req.URL.Path, "/ready") {
			_ = json.NewEncoder(w).Encode(broker.Envelope{Result: jsonResult(t, broker.CertificateInfo{CertificatePEM: "cert"})})
			return
		}
		http.NotFound(w, req)
	}))
	defer brokerSrv.Close()

	mock := osfacade.NewMock()
	mock.Hostname = "HOST-1"
	cfg := config.ActorConfiguration{
		ActorType: config.Managed,
		OwnToken:  "own-token",
		Config: &config.ActorDataConfiguration{
			UniqueID: "u1",
			OS: &config.ActorOSConfiguration{
				Action: config.OSActionRename,
				Name:   "host-1",
			},
		},
	}
	r := newRunner(t, cfg, brokerSrv.URL, mock)

	certInfo, err := r.runManaged(context.Background())
	require.NoError(t, err)
	require.NotNil(t, certInfo, "no actual rename means no reboot, so the flow continues to ready")
	assert.NotContains(t, mock.Calls, "Reboot")
}

func TestRunManagedJoinDomainSkippedWhenAlreadyJoined(t *testing.T) {
	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.HasSuffix(req.URL.Path, "/ready") {
			_ = json.NewEncoder(w).Encode(broker.Envelope{Result: jsonResult(t, broker.CertificateInfo{CertificatePEM: "cert"})})
			return
		}
		http.NotFound(w, req)
	}))
	defer brokerSrv.Close()

	mock := osfacade.NewMock()
	mock.Hostname = "host-1"
	mock.Domain = "example.com"
	custom, err := json.Marshal(map[string]string{"domain": "example.com", "account": "admin", "password": "secret"})
	require.NoError(t, err)
	cfg := config.ActorConfiguration{
		ActorType: config.Managed,
		OwnToken:  "own-token",
		Config: &config.ActorDataConfiguration{
			UniqueID: "u1",
			OS: &config.ActorOSConfiguration{
				Action: config.OSActionJoinDomain,
				Name:   "host-1",
				Custom: custom,
			},
		},
	}
	r := newRunner(t, cfg, brokerSrv.URL, mock)

	certInfo, err2 := r.runManaged(context.Background())
	require.NoError(t, err2)
	require.NotNil(t, certInfo)
	assert.NotContains(t, mock.Calls, "JoinDomain")
	assert.NotContains(t, mock.Calls, "Reboot")
}

func TestRunManagedJoinDomainJoinsAndReboots(t *testing.T) {
	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.NotFound(w, req)
	}))
	defer brokerSrv.Close()

	mock := osfacade.NewMock()
	mock.Hostname = "host-1"
	mock.Domain = ""
	custom, err := json.Marshal(map[string]string{"domain": "example.com", "account": "admin", "password": "secret"})
	require.NoError(t, err)
	cfg := config.ActorConfiguration{
		ActorType: config.Managed,
		OwnToken:  "own-token",
		Config: &config.ActorDataConfiguration{
			UniqueID: "u1",
			OS: &config.ActorOSConfiguration{
				Action: config.OSActionJoinDomain,
				Name:   "host-1",
				Custom: custom,
			},
		},
	}
	r := newRunner(t, cfg, brokerSrv.URL, mock)

	certInfo, err2 := r.runManaged(context.Background())
	require.NoError(t, err2)
	assert.Nil(t, certInfo)
	assert.Equal(t, "example.com", mock.LastJoinedTo.Domain)
	assert.Contains(t, mock.Calls, "Reboot")
	assert.Nil(t, r.Config.Get().OSAction())
}

func TestRunUnmanagedCallsUnmanagedReady(t *testing.T) {
	brokerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if strings.HasSuffix(req.URL.Path, "/unmanaged") {
			_ = json.NewEncoder(w).Encode(broker.Envelope{Result: jsonResult(t, broker.CertificateInfo{CertificatePEM: "cert"})})
			return
		}
		http.NotFound(w, req)
	}))
	defer brokerSrv.Close()

	cfg := config.ActorConfiguration{ActorType: config.Unmanaged}
	r := newRunner(t, cfg, brokerSrv.URL, osfacade.NewMock())

	certInfo, err := r.runUnmanaged(context.Background())
	require.NoError(t, err)
	require.NotNil(t, certInfo)
	assert.Equal(t, "cert", certInfo.CertificatePEM)
}

func TestRunCommandReportsWhetherItRan(t *testing.T) {
	mock := osfacade.NewMock()
	r := newRunner(t, config.Default(), "http://example.invalid", mock)

	assert.False(t, r.runCommand(context.Background(), "run-once", "   "))
	assert.NotContains(t, mock.Calls, "RunScript")

	assert.True(t, r.runCommand(context.Background(), "run-once", "echo hi"))
	assert.Contains(t, mock.Calls, "RunScript")
}

func TestWatchInterfacesReturnsImmediatelyWhenStopped(t *testing.T) {
	r := newRunner(t, config.Default(), "http://example.invalid", osfacade.NewMock())
	r.Stop.Set()

	done := make(chan struct{})
	go func() {
		r.watchInterfaces()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchInterfaces did not return after Stop was set")
	}
	assert.False(t, r.RestartFlag.Load(), "no drift should have been observed before Stop fired")
}

func TestNewAllocatesRestartFlag(t *testing.T) {
	r := newRunner(t, config.Default(), "http://example.invalid", osfacade.NewMock())
	require.NotNil(t, r.RestartFlag)
	var flag atomic.Bool
	flag.Store(true)
	assert.True(t, flag.Load())
}

func TestParseJoinDomainOptionsRequiresCustomData(t *testing.T) {
	_, err := parseJoinDomainOptions(nil)
	assert.Error(t, err)
}

func TestParseJoinDomainOptionsDecodesFields(t *testing.T) {
	raw := json.RawMessage(`{"domain":"example.com","account":"admin","password":"pw","ou":"OU=Computers"}`)
	opts, err := parseJoinDomainOptions(raw)
	require.NoError(t, err)
	assert.Equal(t, "example.com", opts.Domain)
	assert.Equal(t, "admin", opts.Account)
	assert.Equal(t, "OU=Computers", opts.OU)
}
