// Package rpcserver runs the service-side local RPC hub: a loopback-only
// WebSocket endpoint for the in-session user agent, and an HTTPS surface
// under /actor/<secret>/... that the broker calls directly.
package rpcserver

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/udsactor/agent/pkg/rpc"
)

// ScreenshotTimeout bounds how long the screenshot bridge waits for the
// user agent before the broker sees a 408.
const ScreenshotTimeout = 3 * time.Second

// defaultRequestTimeout bounds every other broker round-trip that fans out
// to the user agent.
const defaultRequestTimeout = 2 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the service-side local RPC hub.
type Server struct {
	hub    *Hub
	secret string
	logger zerolog.Logger

	// preConnectHook runs synchronously before the preconnect notification is
	// broadcast to the user agent; it implements the RDP-group-membership
	// and custom-command side effects of spec.md §4.6's preconnect worker.
	// Left nil, preconnect only broadcasts.
	preConnectHook func(user, protocol, ip string) error

	// ownToken answers the uuid route directly, without a user-agent
	// round-trip: the broker wants the service's own registration token.
	ownToken string

	http *http.Server
}

// New constructs a Server listening on addr with the given TLS material.
// addr should carry the "::"-literal host form so the OS dual-stack socket
// accepts both address families, e.g. "[::]:443".
func New(addr, secret string, hub *Hub, tlsConfig *tls.Config, logger zerolog.Logger) *Server {
	s := &Server{hub: hub, secret: secret, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/actor/", s.handleActor)
	mux.HandleFunc("/", s.handleDiagnostic)

	s.http = &http.Server{
		Addr:      addr,
		Handler:   mux,
		TLSConfig: tlsConfig,
	}
	return s
}

// Serve blocks listening and serving TLS connections until Shutdown is
// called or a non-shutdown error occurs.
func (s *Server) Serve() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("rpcserver: listen on %s: %w", s.http.Addr, err)
	}
	tlsLn := tls.NewListener(ln, s.http.TLSConfig)

	if err := s.http.Serve(tlsLn); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("rpcserver: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// SetPreConnectHook installs the RDP-group/custom-command side effect run
// before every preconnect broadcast.
func (s *Server) SetPreConnectHook(hook func(user, protocol, ip string) error) {
	s.preConnectHook = hook
}

// SetOwnToken installs the service's own registration token, answered
// directly by the uuid route.
func (s *Server) SetOwnToken(token string) {
	s.ownToken = token
}

// handleWS upgrades loopback-only connections to WebSocket; any other
// remote address is rejected with 403, per the spec's loopback-only rule
// for the in-session user-agent link.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !isLoopback(r.RemoteAddr) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("rpcserver: websocket upgrade failed")
		return
	}
	s.hub.Attach(conn)
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// handleActor dispatches /actor/<secret>/<route>, rejecting a secret
// mismatch with 403 before looking at the route at all. The secret is
// never logged.
func (s *Server) handleActor(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/actor/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		http.NotFound(w, r)
		return
	}
	secret, route := parts[0], parts[1]

	if subtle.ConstantTimeCompare([]byte(secret), []byte(s.secret)) != 1 {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	switch route {
	case "screenshot":
		s.handleScreenshot(w, r)
	case "uuid":
		s.handleUUID(w, r)
	case "logout":
		s.handleLogout(w, r)
	case "message":
		s.handleMessage(w, r)
	case "script":
		s.handleScript(w, r)
	case "preconnect":
		s.handlePreConnect(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	reply, err := s.hub.Request(r.Context(), &rpc.ScreenshotRequestMessage{}, ScreenshotTimeout)
	if err != nil {
		writeTimeoutOrError(w, err)
		return
	}
	shot, ok := reply.(*rpc.ScreenshotResponseMessage)
	if !ok {
		http.Error(w, "unexpected reply", http.StatusInternalServerError)
		return
	}
	writeResult(w, shot.Result)
}

// handleUUID answers from the service's own token rather than round-tripping
// to the user agent: there is no per-session identity here, only the
// service's own registration.
func (s *Server) handleUUID(w http.ResponseWriter, r *http.Request) {
	writeResult(w, s.ownToken)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.Broadcast(&rpc.LogoffRequestMessage{}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeOK(w)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := s.hub.Broadcast(&rpc.MessageRequestMessage{Message: body.Message}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeOK(w)
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Type   string `json:"type"`
		Script string `json:"script"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	reply, err := s.hub.Request(r.Context(), &rpc.ScriptExecRequestMessage{Type: body.Type, Script: body.Script}, defaultRequestTimeout)
	if err != nil {
		writeTimeoutOrError(w, err)
		return
	}
	out, ok := reply.(*rpc.ScriptExecResponseMessage)
	if !ok {
		http.Error(w, "unexpected reply", http.StatusInternalServerError)
		return
	}
	writeResult(w, out.Result)
}

func (s *Server) handlePreConnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		User     string `json:"user"`
		Protocol string `json:"protocol"`
		IP       string `json:"ip"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	if s.preConnectHook != nil {
		if err := s.preConnectHook(body.User, body.Protocol, body.IP); err != nil {
			s.logger.Error().Err(err).Str("user", body.User).Msg("rpcserver: preconnect hook failed")
		}
	}

	if err := s.hub.Broadcast(&rpc.PreConnectMessage{User: body.User, Protocol: body.Protocol, IP: body.IP}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeOK(w)
}

func (s *Server) handleDiagnostic(w http.ResponseWriter, r *http.Request) {
	writeOK(w)
}

func writeResult(w http.ResponseWriter, result string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Result string `json:"result"`
	}{result})
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`"ok"`))
}

func writeTimeoutOrError(w http.ResponseWriter, err error) {
	if strings.Contains(err.Error(), context.DeadlineExceeded.Error()) {
		http.Error(w, "timeout", http.StatusRequestTimeout)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
