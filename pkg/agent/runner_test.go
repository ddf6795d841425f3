package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selcan/mira/pkg/commandqueue"
	"github.com/selcan/mira/pkg/dispatch"
	"github.com/selcan/mira/pkg/session"
	"github.com/selcan/mira/pkg/toolexec"
)

// scriptedProvider replays canned completion steps in order and
// records every request it sees
type scriptedProvider struct {
	provider string
	script   []func(Request) (*Response, error)

	mu       sync.Mutex
	calls    int
	requests []Request
}

func (p *scriptedProvider) Name() string {
	if p.provider == "" {
		return "scripted"
	}
	return p.provider
}

func (p *scriptedProvider) Complete(ctx context.Context, request Request) (*Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, request)
	if p.calls >= len(p.script) {
		return nil, fmt.Errorf("unexpected completion call %d", p.calls+1)
	}
	step := p.script[p.calls]
	p.calls++
	return step(request)
}

func (p *scriptedProvider) recorded() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Request, len(p.requests))
	copy(out, p.requests)
	return out
}

type creatorFunc func(Profile) (Provider, error)

func (f creatorFunc) NewProvider(profile Profile) (Provider, error) {
	return f(profile)
}

func singleProvider(p Provider) ProviderCreator {
	return creatorFunc(func(Profile) (Provider, error) {
		return p, nil
	})
}

func prose(text string) func(Request) (*Response, error) {
	return func(Request) (*Response, error) {
		return &Response{Content: text}, nil
	}
}

func newTestRunner(t *testing.T, creator ProviderCreator, profiles []Profile) (*Runner, *toolexec.Executor, *session.Manager) {
	t.Helper()

	sessions, err := session.New(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })

	executor := toolexec.New()

	queue := commandqueue.New()
	t.Cleanup(func() { queue.Close() })

	runner, err := NewRunner(Config{
		Sessions:  sessions,
		Executor:  executor,
		Queue:     queue,
		Logger:    zerolog.Nop(),
		Profiles:  profiles,
		Providers: creator,
	})
	require.NoError(t, err)

	return runner, executor, sessions
}

func defaultProfiles() []Profile {
	return []Profile{{ID: "primary", Provider: "anthropic", APIKey: "key", Priority: 1}}
}

func testConfig() RunConfig {
	cfg := DefaultRunConfig()
	cfg.MaxRetries = 1
	return cfg
}

func weatherSpec() toolexec.ToolSpec {
	return toolexec.ToolSpec{
		Name:        "get_weather",
		Description: "Current weather for a location",
		Required:    []string{"location"},
		Parameters: map[string]toolexec.ParamSpec{
			"location": {Type: "string", Description: "City name"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return fmt.Sprintf("Sunny in %v", args["location"]), nil
		},
	}
}

func registerWeatherTool(t *testing.T, executor *toolexec.Executor) {
	t.Helper()
	require.NoError(t, executor.Register(weatherSpec()))
}

func registerEchoTool(t *testing.T, executor *toolexec.Executor) {
	t.Helper()
	err := executor.Register(toolexec.ToolSpec{
		Name:        "echo_text",
		Description: "Echoes text back",
		Required:    []string{"text"},
		Parameters: map[string]toolexec.ParamSpec{
			"text": {Type: "string", Description: "Text to echo"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["text"], nil
		},
	})
	require.NoError(t, err)
}

func TestNewRunner(t *testing.T) {
	t.Run("should create runner with valid config", func(t *testing.T) {
		runner, _, _ := newTestRunner(t, nil, defaultProfiles())

		assert.NotNil(t, runner)
		assert.NotNil(t, runner.dispatcher)
		assert.NotNil(t, runner.providers)
	})

	t.Run("should allow empty profiles", func(t *testing.T) {
		runner, _, _ := newTestRunner(t, nil, nil)
		assert.NotNil(t, runner)
	})

	t.Run("should fail without session manager", func(t *testing.T) {
		queue := commandqueue.New()
		defer queue.Close()

		_, err := NewRunner(Config{
			Executor: toolexec.New(),
			Queue:    queue,
			Logger:   zerolog.Nop(),
		})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "session manager")
	})

	t.Run("should fail without tool executor", func(t *testing.T) {
		sessions, err := session.New(t.TempDir())
		require.NoError(t, err)
		defer sessions.Close()
		queue := commandqueue.New()
		defer queue.Close()

		_, err = NewRunner(Config{
			Sessions: sessions,
			Queue:    queue,
			Logger:   zerolog.Nop(),
		})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "tool executor")
	})

	t.Run("should fail without command queue", func(t *testing.T) {
		sessions, err := session.New(t.TempDir())
		require.NoError(t, err)
		defer sessions.Close()

		_, err = NewRunner(Config{
			Sessions: sessions,
			Executor: toolexec.New(),
			Logger:   zerolog.Nop(),
		})

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "command queue")
	})
}

func TestRunner_Run_AutoDispatch(t *testing.T) {
	// A provider with no script fails any completion call, proving the
	// fast path never reaches the model.
	provider := &scriptedProvider{}
	runner, executor, sessions := newTestRunner(t, singleProvider(provider), defaultProfiles())
	registerWeatherTool(t, executor)

	result, err := runner.Run(RunParams{
		Prompt:     "weather in Paris",
		SessionKey: "auto",
		Config:     testConfig(),
	})
	require.NoError(t, err)

	assert.Equal(t, dispatch.ActionAutoDispatch, result.Decision)
	assert.Equal(t, "Sunny in Paris", result.Reply)
	require.Len(t, result.Executed, 1)
	assert.Equal(t, "get_weather", result.Executed[0].Call.Name)
	assert.True(t, result.Executed[0].Result.Ok)
	assert.Empty(t, provider.recorded())

	entries, err := sessions.Load("auto")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "user", entries[0].Message.Role)
	assert.Equal(t, "weather in Paris", entries[0].Message.Content)
	assert.Equal(t, "assistant", entries[1].Message.Role)
	assert.Equal(t, "Sunny in Paris", entries[1].Message.Content)
	assert.Equal(t, "auto_dispatch", entries[1].Message.Metadata["decision"])
}

func TestRunner_Run_AutoDispatchWithoutProfiles(t *testing.T) {
	runner, executor, _ := newTestRunner(t, nil, nil)
	registerWeatherTool(t, executor)

	result, err := runner.Run(RunParams{
		Prompt:     "weather in Lisbon",
		SessionKey: "keyless",
		Config:     testConfig(),
	})
	require.NoError(t, err)

	assert.Equal(t, dispatch.ActionAutoDispatch, result.Decision)
	assert.Equal(t, "Sunny in Lisbon", result.Reply)
}

func TestRunner_Run_PassThrough(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		prose("Go is a programming language."),
	}}
	runner, _, sessions := newTestRunner(t, singleProvider(provider), defaultProfiles())

	result, err := runner.Run(RunParams{
		Prompt:     "tell me about Go",
		SessionKey: "chat",
		Config:     testConfig(),
	})
	require.NoError(t, err)

	assert.Equal(t, dispatch.ActionPassThrough, result.Decision)
	assert.Equal(t, "Go is a programming language.", result.Reply)
	assert.Empty(t, result.Executed)

	requests := provider.recorded()
	require.Len(t, requests, 1)
	last := requests[0].Messages[len(requests[0].Messages)-1]
	assert.Equal(t, "user", last.Role)
	assert.Equal(t, "tell me about Go", last.Content)
	assert.NotEmpty(t, requests[0].SystemPrompt)

	entries, err := sessions.Load("chat")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "assistant", entries[1].Message.Role)
}

func TestRunner_Run_HistoryReplay(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		prose("Hi, I am Mira."),
		prose("You said hello."),
	}}
	runner, _, _ := newTestRunner(t, singleProvider(provider), defaultProfiles())

	_, err := runner.Run(RunParams{Prompt: "hello", SessionKey: "replay", Config: testConfig()})
	require.NoError(t, err)

	_, err = runner.Run(RunParams{Prompt: "what did I say", SessionKey: "replay", Config: testConfig()})
	require.NoError(t, err)

	requests := provider.recorded()
	require.Len(t, requests, 2)

	var contents []string
	for _, msg := range requests[1].Messages {
		contents = append(contents, msg.Role+": "+msg.Content)
	}
	joined := strings.Join(contents, "\n")
	assert.Contains(t, joined, "user: hello")
	assert.Contains(t, joined, "assistant: Hi, I am Mira.")
	assert.Contains(t, joined, "user: what did I say")
}

func TestRunner_Run_ToolLoop(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		func(Request) (*Response, error) {
			return &Response{
				ToolCalls: []ToolCall{{
					ID:         "call_1",
					Name:       "echo_text",
					Parameters: map[string]interface{}{"text": "ping"},
				}},
				Usage: &TokenUsage{InputTokens: 10, OutputTokens: 5},
			}, nil
		},
		func(req Request) (*Response, error) {
			return &Response{
				Content: "The tool said ping.",
				Usage:   &TokenUsage{InputTokens: 7, OutputTokens: 3},
			}, nil
		},
	}}
	runner, executor, _ := newTestRunner(t, singleProvider(provider), defaultProfiles())
	registerEchoTool(t, executor)

	result, err := runner.Run(RunParams{
		Prompt:     "please echo ping",
		SessionKey: "loop",
		Config:     testConfig(),
	})
	require.NoError(t, err)

	assert.Equal(t, dispatch.ActionPassThrough, result.Decision)
	assert.Equal(t, "The tool said ping.", result.Reply)
	require.Len(t, result.Executed, 1)
	assert.True(t, result.Executed[0].Result.Ok)
	assert.Equal(t, "ping", result.Executed[0].Result.Result)
	assert.Equal(t, 17, result.Usage.InputTokens)
	assert.Equal(t, 8, result.Usage.OutputTokens)

	// The second completion must see the assistant's call and the tool
	// result envelope.
	requests := provider.recorded()
	require.Len(t, requests, 2)
	second := requests[1].Messages

	var sawAssistantCall, sawToolResult bool
	for _, msg := range second {
		if msg.Role == "assistant" && len(msg.ToolCalls) == 1 && msg.ToolCalls[0].Name == "echo_text" {
			sawAssistantCall = true
		}
		if msg.Role == "tool" && msg.ToolCallID == "call_1" {
			sawToolResult = true
			assert.Contains(t, msg.Content, `"ok":true`)
			assert.Contains(t, msg.Content, "ping")
		}
	}
	assert.True(t, sawAssistantCall)
	assert.True(t, sawToolResult)
}

func TestRunner_Run_InlineToolCall(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		prose(`{"tool": "echo_text", "args": {"text": "pong"}}`),
		prose("Echoed."),
	}}
	runner, executor, _ := newTestRunner(t, singleProvider(provider), defaultProfiles())
	registerEchoTool(t, executor)

	result, err := runner.Run(RunParams{
		Prompt:     "please echo pong",
		SessionKey: "inline",
		Config:     testConfig(),
	})
	require.NoError(t, err)

	assert.Equal(t, "Echoed.", result.Reply)
	require.Len(t, result.Executed, 1)
	assert.Equal(t, "echo_text", result.Executed[0].Call.Name)
	assert.Equal(t, "pong", result.Executed[0].Result.Result)
	assert.NotEmpty(t, result.Executed[0].Call.ID)
}

func TestRunner_Run_MalformedInlineCall(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		prose(`{"tool_name": ""}`),
		prose("Sorry, let me answer directly: done."),
	}}
	runner, _, _ := newTestRunner(t, singleProvider(provider), defaultProfiles())

	result, err := runner.Run(RunParams{
		Prompt:     "do the thing",
		SessionKey: "malformed",
		Config:     testConfig(),
	})
	require.NoError(t, err)

	assert.Equal(t, "Sorry, let me answer directly: done.", result.Reply)
	assert.Empty(t, result.Executed)

	// The parse failure is fed back as a result envelope rather than
	// ending the run.
	requests := provider.recorded()
	require.Len(t, requests, 2)
	second := requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, "user", last.Role)
	assert.Contains(t, last.Content, toolexec.ErrCodeValidation)
}

func TestRunner_Run_EnforcedDispatch(t *testing.T) {
	var runner *Runner
	var executor *toolexec.Executor

	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		func(Request) (*Response, error) {
			// The tool comes online after classification, so the
			// announced action can only be recovered by enforcement.
			if err := executor.Register(weatherSpec()); err != nil {
				return nil, err
			}
			return &Response{Content: "I will check the weather in Paris."}, nil
		},
	}}

	runner, executor, _ = newTestRunner(t, singleProvider(provider), defaultProfiles())

	result, err := runner.Run(RunParams{
		Prompt:     "whats the weather in Paris",
		SessionKey: "enforce",
		Config:     testConfig(),
	})
	require.NoError(t, err)

	assert.Equal(t, dispatch.ActionEnforcedDispatch, result.Decision)
	assert.Contains(t, result.Reply, "I will check the weather in Paris.")
	assert.Contains(t, result.Reply, "Sunny in Paris")
	require.Len(t, result.Executed, 1)
	assert.Equal(t, "get_weather", result.Executed[0].Call.Name)
	assert.Equal(t, map[string]interface{}{"location": "Paris"}, result.Executed[0].Call.Parameters)
}

func TestRunner_Run_Failover(t *testing.T) {
	failing := &scriptedProvider{provider: "anthropic", script: []func(Request) (*Response, error){
		func(Request) (*Response, error) {
			return nil, fmt.Errorf("429 rate limit exceeded")
		},
	}}
	succeeding := &scriptedProvider{provider: "openai", script: []func(Request) (*Response, error){
		prose("Backup answered."),
	}}

	creator := creatorFunc(func(profile Profile) (Provider, error) {
		if profile.ID == "primary" {
			return failing, nil
		}
		return succeeding, nil
	})

	profiles := []Profile{
		{ID: "primary", Provider: "anthropic", APIKey: "key-a", Priority: 1},
		{ID: "backup", Provider: "openai", APIKey: "key-b", Priority: 2},
	}
	runner, _, _ := newTestRunner(t, creator, profiles)

	result, err := runner.Run(RunParams{
		Prompt:     "anything",
		SessionKey: "failover",
		Config:     testConfig(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Backup answered.", result.Reply)

	runner.profilesMu.RLock()
	defer runner.profilesMu.RUnlock()
	assert.Equal(t, 1, runner.profiles[0].FailureCount)
	assert.NotNil(t, runner.profiles[0].CooldownUntil)
	assert.Equal(t, 0, runner.profiles[1].FailureCount)
}

func TestRunner_Run_NonTransientStopsFailover(t *testing.T) {
	failing := &scriptedProvider{provider: "anthropic", script: []func(Request) (*Response, error){
		func(Request) (*Response, error) {
			return nil, fmt.Errorf("invalid api key")
		},
	}}
	backup := &scriptedProvider{provider: "openai"}

	creator := creatorFunc(func(profile Profile) (Provider, error) {
		if profile.ID == "primary" {
			return failing, nil
		}
		return backup, nil
	})

	profiles := []Profile{
		{ID: "primary", Provider: "anthropic", APIKey: "key-a", Priority: 1},
		{ID: "backup", Provider: "openai", APIKey: "key-b", Priority: 2},
	}
	runner, _, _ := newTestRunner(t, creator, profiles)

	_, err := runner.Run(RunParams{
		Prompt:     "anything",
		SessionKey: "nonretry",
		Config:     testConfig(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
	assert.Empty(t, backup.recorded())
}

func TestRunner_Run_NoProfilesNeedsModel(t *testing.T) {
	runner, _, _ := newTestRunner(t, nil, nil)

	_, err := runner.Run(RunParams{
		Prompt:     "tell me a story",
		SessionKey: "nokeys",
		Config:     testConfig(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no auth profiles")
}

func TestRunner_Run_MaxTurnsExceeded(t *testing.T) {
	loop := func(Request) (*Response, error) {
		return &Response{
			ToolCalls: []ToolCall{{
				ID:         "call_again",
				Name:       "echo_text",
				Parameters: map[string]interface{}{"text": "again"},
			}},
		}, nil
	}
	provider := &scriptedProvider{script: []func(Request) (*Response, error){loop, loop}}
	runner, executor, _ := newTestRunner(t, singleProvider(provider), defaultProfiles())
	registerEchoTool(t, executor)

	cfg := testConfig()
	cfg.MaxTurns = 2

	_, err := runner.Run(RunParams{
		Prompt:     "never stop",
		SessionKey: "turns",
		Config:     cfg,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum tool execution turns")
}

func TestRunner_Run_SelectedTools(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		prose("Noted."),
	}}
	runner, executor, _ := newTestRunner(t, singleProvider(provider), defaultProfiles())
	registerWeatherTool(t, executor)
	registerEchoTool(t, executor)

	cfg := testConfig()
	cfg.Tools = []string{"echo_text"}

	_, err := runner.Run(RunParams{
		Prompt:     "just testing",
		SessionKey: "selected",
		Config:     cfg,
	})
	require.NoError(t, err)

	requests := provider.recorded()
	require.Len(t, requests, 1)
	require.Len(t, requests[0].Tools, 1)
	assert.Equal(t, "echo_text", requests[0].Tools[0].Name)
}

func TestRunner_Run_UnknownToolSelection(t *testing.T) {
	runner, _, _ := newTestRunner(t, nil, defaultProfiles())

	cfg := testConfig()
	cfg.Tools = []string{"missing_tool"}

	_, err := runner.Run(RunParams{
		Prompt:     "anything",
		SessionKey: "unknown",
		Config:     cfg,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool not found")
}

func TestRunner_Run_RequiresSessionKey(t *testing.T) {
	runner, _, _ := newTestRunner(t, nil, defaultProfiles())

	_, err := runner.Run(RunParams{
		Prompt: "hello",
		Config: testConfig(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session key")
}

func TestRunner_ValidateConfig(t *testing.T) {
	runner, _, _ := newTestRunner(t, nil, defaultProfiles())

	tests := []struct {
		name    string
		config  RunConfig
		wantErr string
	}{
		{"valid", DefaultRunConfig(), ""},
		{"empty model", RunConfig{}, "model"},
		{"temperature too high", RunConfig{Model: "m", Temperature: 1.5}, "temperature"},
		{"negative max tokens", RunConfig{Model: "m", MaxTokens: -1}, "max tokens"},
		{"negative max retries", RunConfig{Model: "m", MaxRetries: -1}, "max retries"},
		{"negative max turns", RunConfig{Model: "m", MaxTurns: -1}, "max turns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runner.validateConfig(tt.config)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestRunner_AbortWithoutActiveRun(t *testing.T) {
	runner, _, _ := newTestRunner(t, nil, defaultProfiles())

	assert.False(t, runner.IsRunning("idle"))
	assert.NoError(t, runner.Abort("idle"))
}

func TestParseInlineCall(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantTool string
		wantErr  bool
	}{
		{"canonical form", `{"tool_name": "get_weather", "args": {"location": "Oslo"}}`, "get_weather", false},
		{"alternate form", `{"tool": "get_weather", "args": {"location": "Oslo"}}`, "get_weather", false},
		{"plain prose", "The weather is nice.", "", false},
		{"json without tool key", `{"answer": 42}`, "", false},
		{"empty tool name", `{"tool_name": ""}`, "", true},
		{"truncated json", `{"tool_name": "get_weather", "args":`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, parseErr := parseInlineCall(tt.content)
			if tt.wantErr {
				require.NotNil(t, parseErr)
				assert.Equal(t, toolexec.ErrCodeValidation, parseErr.Code)
				return
			}
			require.Nil(t, parseErr)
			if tt.wantTool == "" {
				assert.Nil(t, call)
			} else {
				require.NotNil(t, call)
				assert.Equal(t, tt.wantTool, call.ToolName)
			}
		})
	}
}

func TestRenderToolReply(t *testing.T) {
	assert.Equal(t, "hello", renderToolReply(toolexec.OK("hello")))
	assert.Equal(t, "done", renderToolReply(toolexec.OK(nil)))
	assert.Equal(t, `{"count":3}`, renderToolReply(toolexec.OK(map[string]interface{}{"count": 3})))
	assert.Equal(t, "boom", renderToolReply(toolexec.Fail(toolexec.Execf("boom"))))
}

func TestEstimateTokens(t *testing.T) {
	messages := []ChatMessage{
		{Role: "user", Content: "12345678"},
		{Role: "assistant", Content: "1234"},
	}
	assert.Equal(t, 3, EstimateTokens(messages))
}
