package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONOutputWritesStructuredLines(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithComponent("broker").Info().Msg("hello")

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "broker", decoded["component"])
	assert.Equal(t, "hello", decoded["message"])
}

func TestLevelFromNumeric(t *testing.T) {
	assert.Equal(t, DebugLevel, LevelFromNumeric(0))
	assert.Equal(t, InfoLevel, LevelFromNumeric(1))
	assert.Equal(t, WarnLevel, LevelFromNumeric(2))
	assert.Equal(t, ErrorLevel, LevelFromNumeric(3))
	assert.Equal(t, ErrorLevel, LevelFromNumeric(99))
}
