package rpc

import (
	"encoding/json"
	"fmt"
)

// Envelope is the only thing ever sent over the local WebSocket link. ID
// present means the sender expects a paired response carrying the same id;
// ID absent means fire-and-forget.
type Envelope struct {
	ID  *uint64
	Msg Message
}

// NewEnvelope wraps msg with no correlation id (fire-and-forget).
func NewEnvelope(msg Message) Envelope {
	return Envelope{Msg: msg}
}

// NewRequestEnvelope wraps msg with the given correlation id.
func NewRequestEnvelope(id uint64, msg Message) Envelope {
	return Envelope{ID: &id, Msg: msg}
}

type wireEnvelope struct {
	ID  *uint64         `json:"id,omitempty"`
	Kind Kind           `json:"kind"`
	Msg  json.RawMessage `json:"msg"`
}

// MarshalJSON encodes the envelope as {"id"?, "kind", "msg"}.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Msg == nil {
		return nil, fmt.Errorf("rpc: envelope has no message")
	}
	raw, err := json.Marshal(e.Msg)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal payload: %w", err)
	}
	return json.Marshal(wireEnvelope{ID: e.ID, Kind: e.Msg.Kind(), Msg: raw})
}

// UnmarshalJSON decodes {"id"?, "kind", "msg"} into the matching concrete
// Message type. An unknown kind is an integrity error and returns non-nil.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("rpc: decode envelope: %w", err)
	}

	msg, err := newMessage(w.Kind)
	if err != nil {
		return err
	}
	if len(w.Msg) > 0 {
		if err := json.Unmarshal(w.Msg, msg); err != nil {
			return fmt.Errorf("rpc: decode payload for kind %q: %w", w.Kind, err)
		}
	}

	e.ID = w.ID
	e.Msg = msg
	return nil
}

func newMessage(k Kind) (Message, error) {
	switch k {
	case KindLoginRequest:
		return &LoginRequestMessage{}, nil
	case KindLoginResponse:
		return &LoginResponseMessage{}, nil
	case KindScreenshotRequest:
		return &ScreenshotRequestMessage{}, nil
	case KindScreenshotResponse:
		return &ScreenshotResponseMessage{}, nil
	case KindScriptExecRequest:
		return &ScriptExecRequestMessage{}, nil
	case KindScriptExecResponse:
		return &ScriptExecResponseMessage{}, nil
	case KindUUidRequest:
		return &UUidRequestMessage{}, nil
	case KindUUidResponse:
		return &UUidResponseMessage{}, nil
	case KindLogoutRequest:
		return &LogoutRequestMessage{}, nil
	case KindLogoffRequest:
		return &LogoffRequestMessage{}, nil
	case KindMessageRequest:
		return &MessageRequestMessage{}, nil
	case KindLogForward:
		return &LogForwardMessage{}, nil
	case KindPreConnect:
		return &PreConnectMessage{}, nil
	case KindPing:
		return &PingMessage{}, nil
	case KindPong:
		return &PongMessage{}, nil
	case KindClose:
		return &CloseMessage{}, nil
	case KindError:
		return &ErrorMessage{}, nil
	default:
		return nil, fmt.Errorf("rpc: unknown message kind %q", k)
	}
}
