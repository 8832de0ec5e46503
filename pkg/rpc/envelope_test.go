package rpc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTripWithID(t *testing.T) {
	id := uint64(42)
	env := NewRequestEnvelope(id, &ScreenshotResponseMessage{Result: "iVBORw0KGgo"})

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"screenshot_response"`)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.ID)
	assert.Equal(t, id, *decoded.ID)

	msg, ok := decoded.Msg.(*ScreenshotResponseMessage)
	require.True(t, ok)
	assert.Equal(t, "iVBORw0KGgo", msg.Result)
}

func TestEnvelopeRoundTripFireAndForget(t *testing.T) {
	env := NewEnvelope(&PingMessage{Payload: "hello"})
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded.ID)
	msg, ok := decoded.Msg.(*PingMessage)
	require.True(t, ok)
	assert.Equal(t, "hello", msg.Payload)
}

func TestEnvelopeUnknownKindIsRejected(t *testing.T) {
	var decoded Envelope
	err := json.Unmarshal([]byte(`{"kind":"bogus","msg":{}}`), &decoded)
	assert.Error(t, err)
}

func TestEnvelopeLoginRoundTrip(t *testing.T) {
	env := NewRequestEnvelope(1, &LoginRequestMessage{Username: "u", SessionType: "rdp"})
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	msg := decoded.Msg.(*LoginRequestMessage)
	assert.Equal(t, "u", msg.Username)
	assert.Equal(t, "rdp", msg.SessionType)
}

func TestEnvelopeLogForwardRoundTrip(t *testing.T) {
	env := NewEnvelope(&LogForwardMessage{Level: "warn", Message: "disk low"})
	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	msg := decoded.Msg.(*LogForwardMessage)
	assert.Equal(t, "warn", msg.Level)
	assert.Equal(t, "disk low", msg.Message)
}
