package toolexec

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolCall_CanonicalForm(t *testing.T) {
	call, err := ParseToolCall([]byte(`{"tool_name":"get_weather","args":{"location":"Paris"}}`))
	require.NoError(t, err)
	assert.Equal(t, "get_weather", call.ToolName)
	assert.Equal(t, "Paris", call.Args["location"])
}

func TestParseToolCall_AlternateWireForm(t *testing.T) {
	call, err := ParseToolCall([]byte(`{"tool":"get_weather","args":{"location":"Paris"}}`))
	require.NoError(t, err)
	assert.Equal(t, "get_weather", call.ToolName)
	assert.Equal(t, "Paris", call.Args["location"])
}

func TestParseToolCall_CanonicalWinsOverAlternate(t *testing.T) {
	call, err := ParseToolCall([]byte(`{"tool_name":"a","tool":"b","args":{}}`))
	require.NoError(t, err)
	assert.Equal(t, "a", call.ToolName)
}

func TestParseToolCall_MissingArgsBecomesEmptyMap(t *testing.T) {
	call, err := ParseToolCall([]byte(`{"tool_name":"list_tasks"}`))
	require.NoError(t, err)
	require.NotNil(t, call.Args)
	assert.Empty(t, call.Args)
}

func TestParseToolCall_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "broken json", data: `{"tool_name":`},
		{name: "no name", data: `{"args":{}}`},
		{name: "empty names", data: `{"tool_name":"","tool":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToolCall([]byte(tt.data))
			require.Error(t, err)

			var te *Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, ErrCodeValidation, te.Code)
		})
	}
}

func TestToolResult_EnvelopeShape(t *testing.T) {
	ok := OK(map[string]interface{}{"value": 1})
	assert.True(t, ok.Ok)
	assert.Nil(t, ok.Error)

	fail := Failf(ErrCodeNotFound, "nothing here")
	assert.False(t, fail.Ok)
	assert.Nil(t, fail.Result)
	require.NotNil(t, fail.Error)
	assert.Equal(t, ErrCodeNotFound, fail.Error.Code)

	// Wire keys stay stable
	data, err := json.Marshal(fail)
	require.NoError(t, err)
	var wire map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Contains(t, wire, "ok")
	assert.Contains(t, wire, "error")
	assert.NotContains(t, wire, "result")

	debug := OK("x")
	debug.Debug = map[string]interface{}{"duration_ms": 3}
	data, err = json.Marshal(debug)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"_debug"`)
}
