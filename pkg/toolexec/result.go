package toolexec

import (
	"encoding/json"
)

// ToolCall is a structured request for one registered tool
type ToolCall struct {
	ToolName string                 `json:"tool_name"`
	Args     map[string]interface{} `json:"args"`
}

// ParseToolCall decodes a tool call from model output. Both the
// canonical {"tool_name": ..., "args": ...} form and the shorter
// {"tool": ..., "args": ...} wire form are accepted; the latter is
// normalized before anything downstream sees it.
func ParseToolCall(data []byte) (*ToolCall, error) {
	var raw struct {
		ToolName string                 `json:"tool_name"`
		Tool     string                 `json:"tool"`
		Args     map[string]interface{} `json:"args"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, Validationf("malformed tool call: %v", err)
	}

	name := raw.ToolName
	if name == "" {
		name = raw.Tool
	}
	if name == "" {
		return nil, Validationf("tool call has no tool name")
	}

	args := raw.Args
	if args == nil {
		args = map[string]interface{}{}
	}

	return &ToolCall{ToolName: name, Args: args}, nil
}

// ToolResult is the envelope every execution returns. Ok and Error are
// mutually exclusive: an ok result never carries an error and vice
// versa.
type ToolResult struct {
	Ok     bool                   `json:"ok"`
	Result interface{}            `json:"result,omitempty"`
	Error  *Error                 `json:"error,omitempty"`
	Debug  map[string]interface{} `json:"_debug,omitempty"`
}

// OK wraps a successful result
func OK(result interface{}) ToolResult {
	return ToolResult{Ok: true, Result: result}
}

// Fail wraps a classified failure
func Fail(err *Error) ToolResult {
	return ToolResult{Ok: false, Error: err}
}

// Failf builds a failure with a formatted message under the given code
func Failf(code, format string, args ...interface{}) ToolResult {
	return Fail(NewError(code, format, args...))
}
