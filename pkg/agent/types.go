package agent

import (
	"github.com/selcan/mira/pkg/dispatch"
	"github.com/selcan/mira/pkg/toolexec"
)

// RunParams contains input parameters for one agent run
type RunParams struct {
	Prompt     string    `json:"prompt"`
	SessionKey string    `json:"session_key"`
	Config     RunConfig `json:"config"`
	WorkingDir string    `json:"working_dir,omitempty"`
}

// RunConfig configures agent behavior
type RunConfig struct {
	Model        string   `json:"model"`
	Temperature  float64  `json:"temperature,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	UseMemory    bool     `json:"use_memory,omitempty"`
	MaxRetries   int      `json:"max_retries,omitempty"`
	MaxTurns     int      `json:"max_turns,omitempty"`
}

// RunResult contains the output of one agent run. Decision records how
// the prompt was routed: straight to a tool, through the model, or
// recovered from an announced-but-unmade call.
type RunResult struct {
	Reply      string          `json:"reply"`
	Decision   dispatch.Action `json:"decision"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	Executed   []ExecutedTool  `json:"executed,omitempty"`
	Usage      *TokenUsage     `json:"usage,omitempty"`
	SessionKey string          `json:"session_key"`
	Aborted    bool            `json:"aborted,omitempty"`
}

// ToolCall represents a tool invocation requested by the model or the
// dispatcher
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// ExecutedTool pairs one tool invocation with its result envelope
type ExecutedTool struct {
	Call   ToolCall            `json:"call"`
	Result toolexec.ToolResult `json:"result"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Profile represents authentication credentials for a completion
// provider
type Profile struct {
	ID            string `json:"id"`
	Provider      string `json:"provider"` // "anthropic" or "openai"
	APIKey        string `json:"api_key"`
	CooldownUntil *int64 `json:"cooldown_until,omitempty"`
	FailureCount  int    `json:"failure_count"`
	Priority      int    `json:"priority"`
}

// ChatMessage represents a message in the conversation sent to a
// provider
type ChatMessage struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// DefaultRunConfig returns the default run configuration
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Model:       "claude-3-5-sonnet-20241022",
		Temperature: 0.7,
		MaxTokens:   4096,
		MaxRetries:  3,
		MaxTurns:    10,
	}
}

// EstimateTokens provides a rough token count estimation, around four
// characters per token
func EstimateTokens(messages []ChatMessage) int {
	totalChars := 0
	for _, msg := range messages {
		totalChars += len(msg.Content)
	}
	return (totalChars + 3) / 4
}
