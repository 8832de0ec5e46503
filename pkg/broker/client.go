package broker

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client is the typed, retrying HTTPS client the agent uses to talk to the
// broker. It owns the rotating auth token and the per-process secret; both
// sit behind a read/write lock since the token mutates across the
// lifecycle (see Manager.SetToken) while reads vastly outnumber writes.
type Client struct {
	http *retryablehttp.Client

	baseURL    string
	version    string
	build      string
	userAgent  string
	secret     string

	mu          sync.RWMutex
	masterToken string
	ownToken    string
}

// Config configures a new Client.
type Config struct {
	BrokerURL   string
	VerifySSL   bool
	MasterToken string
	Version     string
	Build       string
	Timeout     time.Duration

	// Retries/backoff, overriding the defaults of 3 retries, 500ms
	// initial backoff, 8s max backoff (spec §4.2).
	Retries        int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// New constructs a Client, generating the per-process secret.
func New(cfg Config) (*Client, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}

	hc := retryablehttp.NewClient()
	hc.Logger = nil
	hc.RetryMax = 3
	hc.RetryWaitMin = 500 * time.Millisecond
	hc.RetryWaitMax = 8 * time.Second
	if cfg.Retries > 0 {
		hc.RetryMax = cfg.Retries
	}
	if cfg.InitialBackoff > 0 {
		hc.RetryWaitMin = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		hc.RetryWaitMax = cfg.MaxBackoff
	}
	hc.CheckRetry = checkRetry

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	hc.HTTPClient.Timeout = timeout
	if !cfg.VerifySSL {
		transport := hc.HTTPClient.Transport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in, mirrors verify_ssl=false
		hc.HTTPClient.Transport = transport
	}

	return &Client{
		http:        hc,
		baseURL:     cfg.BrokerURL,
		version:     cfg.Version,
		build:       cfg.Build,
		userAgent:   fmt.Sprintf("udsactor-go/%s (%s)", cfg.Version, cfg.Build),
		secret:      secret,
		masterToken: cfg.MasterToken,
	}, nil
}

// checkRetry never retries on a decoded HTTP response (4xx/5xx bodies are
// protocol failures, not transport failures) and retries only on
// connection/timeout errors, per §4.2's retry policy.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.ErrorPropagatedRetryPolicy(ctx, resp, err)
	}
	return false, nil
}

// Secret returns the per-process capability string handed to the broker on
// ready/unmanaged_ready.
func (c *Client) Secret() string {
	return c.secret
}

// Token returns master_token if set, else own_token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.masterToken != "" {
		return c.masterToken
	}
	return c.ownToken
}

// SetToken is the only mutator of the rotating token state. Managed actors
// call it after a successful initialize with (masterToken="", own); that
// clears the master credential and switches to the per-host own token.
// Unmanaged actors call it with both set, keeping the master credential and
// adopting the refreshed own token for the session's lifetime.
func (c *Client) SetToken(masterToken, ownToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.masterToken = masterToken
	c.ownToken = ownToken
}

// MasterToken returns the current master token, empty once cleared.
func (c *Client) MasterToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.masterToken
}

// do posts body as JSON to path, decodes the envelope, and returns the raw
// result on success. A non-empty envelope error, or a non-2xx status, is a
// protocol failure and is never retried beyond what CheckRetry already
// decided for transport errors.
func (c *Client) do(ctx context.Context, path string, body any, authToken string) (json.RawMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("broker: encode %s request: %w", path, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("broker: build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if authToken != "" {
		req.Header.Set("X-Auth-Token", authToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("broker: %s: %w", path, err)
	}
	defer resp.Body.Close()

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("broker: %s: decode response: %w", path, err)
	}
	if env.Error != "" {
		return nil, fmt.Errorf("broker: %s: %s", path, env.Error)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("broker: %s: status %d", path, resp.StatusCode)
	}
	return env.Result, nil
}

// ListAuthenticators calls auth/auths.
func (c *Client) ListAuthenticators(ctx context.Context) ([]Authenticator, error) {
	result, err := c.do(ctx, "auth/auths", struct{}{}, "")
	if err != nil {
		return nil, err
	}
	var out []Authenticator
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("broker: decode auth/auths result: %w", err)
	}
	return out, nil
}

// Login authenticates through auth/login and returns the enrollment
// master token bound to the X-Auth-Token header.
func (c *Client) Login(ctx context.Context, authID, username, password string) (string, error) {
	req := struct {
		Auth     string `json:"auth"`
		Username string `json:"username"`
		Password string `json:"password"`
	}{authID, username, password}

	result, err := c.do(ctx, "auth/login", req, "")
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return "", fmt.Errorf("broker: decode auth/login result: %w", err)
	}
	return out.Token, nil
}

// Register enrolls the endpoint via X-Auth-Token, returning the master
// token to persist.
func (c *Client) Register(ctx context.Context, req RegisterRequest, authToken string) (string, error) {
	result, err := c.do(ctx, "register", req, authToken)
	if err != nil {
		return "", err
	}
	var out struct {
		MasterToken string `json:"master_token"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return "", fmt.Errorf("broker: decode register result: %w", err)
	}
	return out.MasterToken, nil
}

// Initialize calls initialize with the current token.
func (c *Client) Initialize(ctx context.Context, actorType string, interfaces []InterfaceInfo) (*InitializeResult, error) {
	req := InitializeRequest{
		Type:    actorType,
		Token:   c.Token(),
		Version: c.version,
		Build:   c.build,
		ID:      interfaces,
	}
	result, err := c.do(ctx, "initialize", req, "")
	if err != nil {
		return nil, err
	}
	var out InitializeResult
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("broker: decode initialize result: %w", err)
	}
	return &out, nil
}

// Ready calls ready, delivering the local RPC server's address/port and the
// per-process secret; the response carries the TLS material to serve with.
func (c *Client) Ready(ctx context.Context, ip string, port int) (*CertificateInfo, error) {
	req := ReadyRequest{Token: c.Token(), Secret: c.secret, IP: ip, Port: port}
	result, err := c.do(ctx, "ready", req, "")
	if err != nil {
		return nil, err
	}
	var out CertificateInfo
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("broker: decode ready result: %w", err)
	}
	return &out, nil
}

// UnmanagedReady calls unmanaged_ready in place of initialize/ready.
func (c *Client) UnmanagedReady(ctx context.Context, interfaces []InterfaceInfo, port int) (*CertificateInfo, error) {
	req := UnmanagedRequest{Token: c.Token(), Secret: c.secret, ID: interfaces, Port: port}
	result, err := c.do(ctx, "unmanaged", req, "")
	if err != nil {
		return nil, err
	}
	var out CertificateInfo
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("broker: decode unmanaged result: %w", err)
	}
	return &out, nil
}

// IPChange calls ipchange, retained for protocol completeness; the
// interface watcher prefers restarting the whole process instead.
func (c *Client) IPChange(ctx context.Context, ip string, port int) (*CertificateInfo, error) {
	req := IPChangeRequest{Token: c.Token(), Secret: c.secret, IP: ip, Port: port}
	result, err := c.do(ctx, "ipchange", req, "")
	if err != nil {
		return nil, err
	}
	var out CertificateInfo
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("broker: decode ipchange result: %w", err)
	}
	return &out, nil
}

// Login (session) calls login for a connecting user session.
func (c *Client) LoginSession(ctx context.Context, actorType, id, username, sessionType string) (*LoginResult, error) {
	req := LoginRequest{Type: actorType, Token: c.Token(), ID: id, Username: username, SessionType: sessionType}
	result, err := c.do(ctx, "login", req, "")
	if err != nil {
		return nil, err
	}
	var out LoginResult
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("broker: decode login result: %w", err)
	}
	return &out, nil
}

// Logout calls logout, returning the broker's status string.
func (c *Client) Logout(ctx context.Context, actorType, id, username, sessionType, sessionID string) (string, error) {
	req := LogoutRequest{Type: actorType, Token: c.Token(), ID: id, Username: username, SessionType: sessionType, SessionID: sessionID}
	result, err := c.do(ctx, "logout", req, "")
	if err != nil {
		return "", err
	}
	var out string
	if err := json.Unmarshal(result, &out); err != nil {
		return "", fmt.Errorf("broker: decode logout result: %w", err)
	}
	return out, nil
}

// Log forwards a single client log line, timestamped at the point it
// originated; callers are responsible for the 60-messages-per-60s flood
// guard (see pkg/workers).
func (c *Client) Log(ctx context.Context, level string, message string, timestamp int64) error {
	req := LogRequest{Token: c.Token(), Level: level, Message: message, Timestamp: timestamp}
	_, err := c.do(ctx, "log", req, "")
	return err
}

// Test exercises the broker's connectivity-test endpoint.
func (c *Client) Test(ctx context.Context, actorType string) error {
	req := TestRequest{Type: actorType, Token: c.Token()}
	_, err := c.do(ctx, "test", req, "")
	return err
}
