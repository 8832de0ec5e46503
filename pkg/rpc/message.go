// Package rpc defines the wire types exchanged between the service and the
// user-agent over the local WebSocket link: a small tagged-union message
// set wrapped in an envelope that optionally carries a correlation id.
package rpc

// Kind identifies which concrete payload an envelope carries.
type Kind string

const (
	KindLoginRequest       Kind = "login_request"
	KindLoginResponse      Kind = "login_response"
	KindScreenshotRequest  Kind = "screenshot_request"
	KindScreenshotResponse Kind = "screenshot_response"
	KindScriptExecRequest  Kind = "script_exec_request"
	KindScriptExecResponse Kind = "script_exec_response"
	KindUUidRequest        Kind = "uuid_request"
	KindUUidResponse       Kind = "uuid_response"
	KindLogoutRequest      Kind = "logout_request"
	KindLogoffRequest      Kind = "logoff_request"
	KindMessageRequest     Kind = "message_request"
	KindLogForward         Kind = "log_forward"
	KindPreConnect         Kind = "preconnect"
	KindPing               Kind = "ping"
	KindPong               Kind = "pong"
	KindClose              Kind = "close"
	KindError              Kind = "error"
)

// Message is implemented by every concrete RPC payload.
type Message interface {
	Kind() Kind
}

// LoginRequestMessage is sent by the user-agent to start a session.
type LoginRequestMessage struct {
	Username    string `json:"username"`
	SessionType string `json:"session_type"`
}

func (*LoginRequestMessage) Kind() Kind { return KindLoginRequest }

// LoginResponseMessage answers a LoginRequestMessage with the broker's reply.
type LoginResponseMessage struct {
	IP        string `json:"ip"`
	Hostname  string `json:"hostname"`
	Deadline  *int64 `json:"deadline,omitempty"`
	MaxIdle   *int64 `json:"max_idle,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (*LoginResponseMessage) Kind() Kind { return KindLoginResponse }

// ScreenshotRequestMessage asks the user-agent to capture the desktop.
type ScreenshotRequestMessage struct{}

func (*ScreenshotRequestMessage) Kind() Kind { return KindScreenshotRequest }

// ScreenshotResponseMessage carries a base64-encoded image.
type ScreenshotResponseMessage struct {
	Result string `json:"result"`
}

func (*ScreenshotResponseMessage) Kind() Kind { return KindScreenshotResponse }

// ScriptExecRequestMessage asks the user-agent to run a script.
type ScriptExecRequestMessage struct {
	Type   string `json:"type"`
	Script string `json:"script"`
}

func (*ScriptExecRequestMessage) Kind() Kind { return KindScriptExecRequest }

// ScriptExecResponseMessage carries the script's captured output.
type ScriptExecResponseMessage struct {
	Result string `json:"result"`
}

func (*ScriptExecResponseMessage) Kind() Kind { return KindScriptExecResponse }

// UUidRequestMessage asks for the actor's stable identifier.
type UUidRequestMessage struct{}

func (*UUidRequestMessage) Kind() Kind { return KindUUidRequest }

// UUidResponseMessage carries the actor's own_token.
type UUidResponseMessage struct {
	Result string `json:"result"`
}

func (*UUidResponseMessage) Kind() Kind { return KindUUidResponse }

// LogoutRequestMessage is sent by the user-agent on session termination.
type LogoutRequestMessage struct {
	Username    string `json:"username"`
	SessionType string `json:"session_type"`
	SessionID   string `json:"session_id"`
}

func (*LogoutRequestMessage) Kind() Kind { return KindLogoutRequest }

// LogoffRequestMessage asks the user-agent to log the interactive user off.
type LogoffRequestMessage struct{}

func (*LogoffRequestMessage) Kind() Kind { return KindLogoffRequest }

// MessageRequestMessage asks the user-agent to display a dialog.
type MessageRequestMessage struct {
	Message string `json:"message"`
}

func (*MessageRequestMessage) Kind() Kind { return KindMessageRequest }

// LogForwardMessage carries a single client-side log line up to the
// service, which flood-guards and relays it to the broker's log endpoint.
type LogForwardMessage struct {
	Level     string `json:"level"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

func (*LogForwardMessage) Kind() Kind { return KindLogForward }

// PreConnectMessage fires the pre-connect hook on the service side.
type PreConnectMessage struct {
	User     string `json:"user"`
	Protocol string `json:"protocol"`
	IP       string `json:"ip,omitempty"`
}

func (*PreConnectMessage) Kind() Kind { return KindPreConnect }

// PingMessage is the end-to-end keep-alive RPC (distinct from the
// frame-level WebSocket ping/pong, which is handled by the transport).
type PingMessage struct {
	Payload string `json:"payload,omitempty"`
}

func (*PingMessage) Kind() Kind { return KindPing }

// PongMessage answers a PingMessage, echoing its payload.
type PongMessage struct {
	Payload string `json:"payload,omitempty"`
}

func (*PongMessage) Kind() Kind { return KindPong }

// CloseMessage notifies the peer that the link is about to close.
type CloseMessage struct{}

func (*CloseMessage) Kind() Kind { return KindClose }

// ErrorMessage carries an HTTP-like numeric code and a human message.
type ErrorMessage struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (*ErrorMessage) Kind() Kind { return KindError }
