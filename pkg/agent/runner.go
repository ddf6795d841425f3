package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/selcan/mira/internal/observability"
	"github.com/selcan/mira/internal/tracing"
	"github.com/selcan/mira/pkg/commandqueue"
	"github.com/selcan/mira/pkg/dispatch"
	"github.com/selcan/mira/pkg/retry"
	"github.com/selcan/mira/pkg/session"
	"github.com/selcan/mira/pkg/toolexec"
)

const (
	// completionTimeout bounds a single provider call
	completionTimeout = 60 * time.Second

	// toolTimeout bounds a single tool execution within a run
	toolTimeout = 30 * time.Second

	defaultMaxTurns = 10
)

// ContextProvider supplies relevant long-term context for a prompt.
// The memory manager implements it.
type ContextProvider interface {
	ContextFor(ctx context.Context, prompt string) (string, error)
}

// Runner orchestrates agent execution
type Runner struct {
	sessions   *session.Manager
	executor   *toolexec.Executor
	queue      *commandqueue.CommandQueue
	dispatcher *dispatch.Dispatcher
	memory     ContextProvider
	logger     zerolog.Logger
	providers  ProviderCreator
	execBase   toolexec.ExecContext

	profiles   []Profile
	profilesMu sync.RWMutex

	// Active runs for abort capability
	activeRuns map[string]context.CancelFunc
	runsMu     sync.RWMutex
}

// Config holds runner configuration
type Config struct {
	Sessions   *session.Manager
	Executor   *toolexec.Executor
	Queue      *commandqueue.CommandQueue
	Dispatcher *dispatch.Dispatcher
	Memory     ContextProvider
	Logger     zerolog.Logger
	Profiles   []Profile
	Providers  ProviderCreator

	// Exec is the execution bundle template stamped onto every tool
	// invocation; the runner fills the per-run fields.
	Exec toolexec.ExecContext
}

// NewRunner creates a new agent runner. Profiles may be empty: runs
// that resolve on the deterministic fast path never need one, and a
// model call without any usable profile fails with a clear error.
func NewRunner(cfg Config) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("tool executor is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("command queue is required")
	}

	dispatcher := cfg.Dispatcher
	if dispatcher == nil {
		dispatcher = dispatch.New()
	}

	providers := cfg.Providers
	if providers == nil {
		providers = &Factory{}
	}

	return &Runner{
		sessions:   cfg.Sessions,
		executor:   cfg.Executor,
		queue:      cfg.Queue,
		dispatcher: dispatcher,
		memory:     cfg.Memory,
		logger:     cfg.Logger,
		providers:  providers,
		execBase:   cfg.Exec,
		profiles:   cfg.Profiles,
		activeRuns: make(map[string]context.CancelFunc),
	}, nil
}

// Run executes an agent with the given parameters
func (r *Runner) Run(params RunParams) (RunResult, error) {
	return r.RunWithContext(context.Background(), params)
}

// RunWithContext executes an agent with a caller-provided context.
// Runs for the same session key are serialized through the command
// queue; independent sessions proceed in parallel.
func (r *Runner) RunWithContext(ctx context.Context, params RunParams) (RunResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if tracing.GetTraceID(ctx) == "" {
		ctx = tracing.NewRequestContext(ctx)
	}
	ctx = tracing.WithSessionKey(ctx, params.SessionKey)
	ctx, span := tracing.StartSpan(
		ctx,
		"mira.agent",
		"agent.run",
		attribute.String("session_key", params.SessionKey),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("session_key", params.SessionKey).Logger()

	if params.SessionKey == "" {
		err := fmt.Errorf("session key is required")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, err
	}
	if err := r.validateConfig(params.Config); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, fmt.Errorf("invalid configuration: %w", err)
	}

	lane := fmt.Sprintf("session-%s", params.SessionKey)

	result, err := r.queue.EnqueueWithContext(ctx, lane, func(taskCtx context.Context) (interface{}, error) {
		return r.execute(taskCtx, params)
	}, nil)

	if err != nil {
		logger.Error().Err(err).Msg("Agent run failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunResult{}, err
	}

	return result.(RunResult), nil
}

// Abort cancels a running agent execution
func (r *Runner) Abort(sessionKey string) error {
	r.runsMu.Lock()
	defer r.runsMu.Unlock()

	cancel, exists := r.activeRuns[sessionKey]
	if !exists {
		r.logger.Debug().Str("sessionKey", sessionKey).Msg("No active run to abort")
		return nil
	}

	r.logger.Info().Str("sessionKey", sessionKey).Msg("Aborting agent execution")
	cancel()
	delete(r.activeRuns, sessionKey)

	return nil
}

// IsRunning checks if an agent is currently running for a session
func (r *Runner) IsRunning(sessionKey string) bool {
	r.runsMu.RLock()
	defer r.runsMu.RUnlock()

	_, exists := r.activeRuns[sessionKey]
	return exists
}

// execute performs the actual agent run inside its session lane. Each
// execution gets its own run ID; a deduped retry keeps the first one.
func (r *Runner) execute(ctx context.Context, params RunParams) (RunResult, error) {
	ctx = tracing.NewRunContext(ctx)
	ctx = tracing.WithSessionKey(ctx, params.SessionKey)
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("session_key", params.SessionKey).Logger()

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.runsMu.Lock()
	r.activeRuns[params.SessionKey] = cancel
	r.runsMu.Unlock()

	defer func() {
		r.runsMu.Lock()
		delete(r.activeRuns, params.SessionKey)
		r.runsMu.Unlock()
	}()

	select {
	case <-execCtx.Done():
		return RunResult{SessionKey: params.SessionKey, Aborted: true}, nil
	default:
	}

	history, err := r.sessions.LoadWithContext(execCtx, params.SessionKey)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load session history")
		return RunResult{}, fmt.Errorf("failed to load session history: %w", err)
	}

	if err := r.sessions.AppendWithContext(execCtx, params.SessionKey, session.Message{
		Role:    "user",
		Content: params.Prompt,
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to persist user message")
		return RunResult{}, fmt.Errorf("failed to save user message: %w", err)
	}

	// Deterministic routing first. An unambiguous catalogue match
	// executes the tool directly; the model never sees the prompt.
	decision := r.dispatcher.Analyze(params.Prompt, r.executor, dispatchHistory(history))
	if decision.Action == dispatch.ActionAutoDispatch {
		return r.finishDirect(execCtx, params, decision, logger)
	}

	messages := r.buildMessages(execCtx, history, params)

	tools, err := r.buildTools(params.Config.Tools)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to build tools: %w", err)
	}

	result, err := r.executeWithFailover(execCtx, messages, tools, params)
	if err != nil {
		return RunResult{}, err
	}

	result.SessionKey = params.SessionKey
	if result.Aborted {
		return result, nil
	}

	if err := r.sessions.AppendWithContext(execCtx, params.SessionKey, session.Message{
		Role:    "assistant",
		Content: result.Reply,
		Metadata: map[string]interface{}{
			"model":    params.Config.Model,
			"decision": string(result.Decision),
			"usage":    result.Usage,
		},
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to persist assistant message")
		return RunResult{}, fmt.Errorf("failed to save assistant message: %w", err)
	}

	return result, nil
}

// finishDirect completes an auto-dispatched run: execute the matched
// tool, render its envelope as the reply, persist.
func (r *Runner) finishDirect(ctx context.Context, params RunParams, decision dispatch.Decision, logger zerolog.Logger) (RunResult, error) {
	call := ToolCall{
		ID:         newCallID(),
		Name:       decision.ToolCall.ToolName,
		Parameters: decision.ToolCall.Args,
	}

	logger.Info().Str("tool", call.Name).Msg("Executing dispatched tool without model")

	executed := r.runToolCalls(ctx, []ToolCall{call}, params)
	reply := renderToolReply(executed[0].Result)

	emitChunk(ctx, Chunk{Type: ChunkToolResult, Executed: &executed[0]})
	emitChunk(ctx, Chunk{Type: ChunkText, Text: reply})

	if err := r.sessions.AppendWithContext(ctx, params.SessionKey, session.Message{
		Role:    "assistant",
		Content: reply,
		Metadata: map[string]interface{}{
			"decision": string(dispatch.ActionAutoDispatch),
			"tool":     call.Name,
		},
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to persist assistant message")
		return RunResult{}, fmt.Errorf("failed to save assistant message: %w", err)
	}

	return RunResult{
		Reply:      reply,
		Decision:   dispatch.ActionAutoDispatch,
		ToolCalls:  []ToolCall{call},
		Executed:   executed,
		SessionKey: params.SessionKey,
	}, nil
}

// validateConfig validates agent configuration
func (r *Runner) validateConfig(config RunConfig) error {
	if config.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if config.Temperature < 0 || config.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if config.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	if config.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if config.MaxTurns < 0 {
		return fmt.Errorf("max turns cannot be negative")
	}
	return nil
}

// buildMessages constructs the message array for the provider
func (r *Runner) buildMessages(ctx context.Context, history []session.Entry, params RunParams) []ChatMessage {
	messages := []ChatMessage{}

	systemPrompt := params.Config.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = "You are Mira, a helpful personal assistant."
	}

	if params.Config.UseMemory && r.memory != nil {
		memoryContext, err := r.memory.ContextFor(ctx, params.Prompt)
		if err != nil {
			logger := tracing.LoggerFromContext(ctx, r.logger)
			logger.Warn().Err(err).Msg("Failed to load memory context")
		} else if memoryContext != "" {
			systemPrompt = fmt.Sprintf("%s\n\n# Relevant Context from Memory\n\n%s", systemPrompt, memoryContext)
		}
	}

	messages = append(messages, ChatMessage{
		Role:    "system",
		Content: systemPrompt,
	})

	for _, entry := range history {
		// Only plain conversation turns replay; tool plumbing from
		// prior runs stays out of the provider's view.
		if entry.Message.Role != "user" && entry.Message.Role != "assistant" {
			continue
		}
		messages = append(messages, ChatMessage{
			Role:    entry.Message.Role,
			Content: entry.Message.Content,
		})
	}

	messages = append(messages, ChatMessage{
		Role:    "user",
		Content: params.Prompt,
	})

	return r.compactIfNeeded(ctx, messages, params.Config.MaxTokens)
}

// compactIfNeeded compacts messages if they exceed the token limit
func (r *Runner) compactIfNeeded(ctx context.Context, messages []ChatMessage, maxTokens int) []ChatMessage {
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	tokenCount := EstimateTokens(messages)
	if tokenCount <= maxTokens {
		return messages
	}

	logger := tracing.LoggerFromContext(ctx, r.logger)
	logger.Info().
		Int("tokenCount", tokenCount).
		Int("maxTokens", maxTokens).
		Msg("Compacting context")

	systemMessages := []ChatMessage{}
	conversationMessages := []ChatMessage{}

	for _, msg := range messages {
		if msg.Role == "system" {
			systemMessages = append(systemMessages, msg)
		} else {
			conversationMessages = append(conversationMessages, msg)
		}
	}

	recentCount := 20
	if len(conversationMessages) <= recentCount {
		return messages
	}

	recentMessages := conversationMessages[len(conversationMessages)-recentCount:]
	olderCount := len(conversationMessages) - recentCount

	summary := ChatMessage{
		Role:    "system",
		Content: fmt.Sprintf("[Previous conversation summary: %d messages exchanged]", olderCount),
	}

	result := append(systemMessages, summary)
	result = append(result, recentMessages...)

	return result
}

// buildTools resolves tool names to registered specs. An empty list
// means every registered tool.
func (r *Runner) buildTools(names []string) ([]*toolexec.ToolSpec, error) {
	if len(names) == 0 {
		return r.executor.Specs(), nil
	}

	specs := make([]*toolexec.ToolSpec, 0, len(names))
	for _, name := range names {
		spec := r.executor.Get(name)
		if spec == nil {
			return nil, fmt.Errorf("tool not found: %s", name)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// execContext builds the per-run execution bundle from the template
func (r *Runner) execContext(params RunParams) *toolexec.ExecContext {
	ec := r.execBase
	ec.SessionKey = params.SessionKey
	if params.WorkingDir != "" {
		ec.WorkingDir = params.WorkingDir
	}
	if ec.Timeout <= 0 {
		ec.Timeout = toolTimeout
	}
	ec.StartedAt = time.Time{}
	return &ec
}

// runToolCalls executes calls in order through the gated executor
func (r *Runner) runToolCalls(ctx context.Context, calls []ToolCall, params RunParams) []ExecutedTool {
	executed := make([]ExecutedTool, 0, len(calls))
	for _, call := range calls {
		res := r.executor.Execute(ctx, toolexec.ToolCall{
			ToolName: call.Name,
			Args:     call.Parameters,
		}, r.execContext(params))
		executed = append(executed, ExecutedTool{Call: call, Result: res})
	}
	return executed
}

// executeWithFailover tries auth profiles in priority order, skipping
// those in cooldown
func (r *Runner) executeWithFailover(ctx context.Context, messages []ChatMessage, tools []*toolexec.ToolSpec, params RunParams) (RunResult, error) {
	r.profilesMu.RLock()
	profiles := make([]Profile, len(r.profiles))
	copy(profiles, r.profiles)
	r.profilesMu.RUnlock()
	logger := tracing.LoggerFromContext(ctx, r.logger).With().Str("session_key", params.SessionKey).Logger()

	if len(profiles) == 0 {
		return RunResult{}, fmt.Errorf("no auth profiles configured: set an API key to use the model")
	}

	sortProfilesByPriority(profiles)

	var lastErr error

	for _, profile := range profiles {
		if profile.CooldownUntil != nil && time.Now().UnixMilli() < *profile.CooldownUntil {
			observability.SetProviderCooldown(profile.Provider, true)
			logger.Debug().
				Str("profileId", profile.ID).
				Msg("Skipping profile in cooldown")
			continue
		}

		observability.SetProviderCooldown(profile.Provider, false)
		logger.Info().Str("profileId", profile.ID).Msg("Trying auth profile")

		provider, err := r.providers.NewProvider(profile)
		if err != nil {
			logger.Warn().
				Str("profileId", profile.ID).
				Err(err).
				Msg("Failed to create provider")
			lastErr = err
			continue
		}

		result, err := r.executeWithTools(ctx, provider, messages, tools, params)
		if err == nil {
			r.updateProfileSuccess(profile.ID)
			return result, nil
		}

		lastErr = err
		logger.Warn().
			Str("profileId", profile.ID).
			Err(err).
			Msg("Auth profile failed")

		r.updateProfileFailure(profile.ID)

		if !retry.Transient(err) {
			return RunResult{}, err
		}
	}

	if lastErr == nil {
		return RunResult{}, fmt.Errorf("all auth profiles are in cooldown")
	}
	logger.Error().Err(lastErr).Msg("All auth profiles failed")
	return RunResult{}, fmt.Errorf("all auth profiles failed: %w", lastErr)
}

// executeWithTools drives the bounded tool loop against one provider
func (r *Runner) executeWithTools(ctx context.Context, provider Provider, messages []ChatMessage, tools []*toolexec.ToolSpec, params RunParams) (RunResult, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"mira.agent",
		"agent.execute_with_tools",
		attribute.String("provider", provider.Name()),
	)
	defer span.End()

	currentMessages := messages
	allCalls := []ToolCall{}
	allExecuted := []ExecutedTool{}
	usage := &TokenUsage{}

	systemPrompt := ""
	for _, msg := range messages {
		if msg.Role == "system" {
			systemPrompt = msg.Content
			break
		}
	}

	maxTurns := params.Config.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	for turn := 0; turn < maxTurns; turn++ {
		select {
		case <-ctx.Done():
			return RunResult{Aborted: true}, nil
		default:
		}

		response, err := r.completeWithRetry(ctx, provider, currentMessages, tools, systemPrompt, params)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return RunResult{}, err
		}
		if response.Usage != nil {
			usage.InputTokens += response.Usage.InputTokens
			usage.OutputTokens += response.Usage.OutputTokens
		}

		toolCalls := response.ToolCalls

		// The model sometimes emits its call as bare JSON text instead
		// of a structured block. Normalize it; a JSON-shaped call that
		// fails to parse goes back into the conversation as a
		// VALIDATION_ERROR result, never a crashed run.
		if len(toolCalls) == 0 {
			call, parseErr := parseInlineCall(response.Content)
			if parseErr != nil {
				currentMessages = append(currentMessages,
					ChatMessage{Role: "assistant", Content: response.Content},
					ChatMessage{Role: "user", Content: toolEnvelope(toolexec.Fail(parseErr))},
				)
				continue
			}
			if call != nil {
				toolCalls = []ToolCall{{
					ID:         newCallID(),
					Name:       call.ToolName,
					Parameters: call.Args,
				}}
			}
		}

		if len(toolCalls) == 0 {
			emitChunk(ctx, Chunk{Type: ChunkText, Text: response.Content})

			// Prose only. If the model announced an action without
			// making the call, re-apply the catalogue to the original
			// input and surface the real result.
			if dec := r.dispatcher.EnforceAction(response.Content, params.Prompt, r.executor); dec != nil {
				call := ToolCall{
					ID:         newCallID(),
					Name:       dec.ToolCall.ToolName,
					Parameters: dec.ToolCall.Args,
				}
				executed := r.runToolCalls(ctx, []ToolCall{call}, params)
				emitChunk(ctx, Chunk{Type: ChunkToolResult, Executed: &executed[0]})

				rendered := renderToolReply(executed[0].Result)
				emitChunk(ctx, Chunk{Type: ChunkText, Text: rendered})

				return RunResult{
					Reply:     response.Content + "\n\n" + rendered,
					Decision:  dispatch.ActionEnforcedDispatch,
					ToolCalls: append(allCalls, call),
					Executed:  append(allExecuted, executed...),
					Usage:     usage,
				}, nil
			}

			return RunResult{
				Reply:     response.Content,
				Decision:  dispatch.ActionPassThrough,
				ToolCalls: allCalls,
				Executed:  allExecuted,
				Usage:     usage,
			}, nil
		}

		if response.Content != "" {
			emitChunk(ctx, Chunk{Type: ChunkText, Text: response.Content})
		}

		executed := r.runToolCalls(ctx, toolCalls, params)

		currentMessages = append(currentMessages, ChatMessage{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: toolCalls,
		})

		for i := range executed {
			emitChunk(ctx, Chunk{Type: ChunkToolResult, Executed: &executed[i]})
			currentMessages = append(currentMessages, ChatMessage{
				Role:       "tool",
				Content:    toolEnvelope(executed[i].Result),
				ToolCallID: executed[i].Call.ID,
			})
		}

		allCalls = append(allCalls, toolCalls...)
		allExecuted = append(allExecuted, executed...)
	}

	err := fmt.Errorf("maximum tool execution turns exceeded")
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return RunResult{}, err
}

// completeWithRetry makes one completion call with timeout and
// transient-error retry
func (r *Runner) completeWithRetry(ctx context.Context, provider Provider, messages []ChatMessage, tools []*toolexec.ToolSpec, systemPrompt string, params RunParams) (*Response, error) {
	logger := tracing.LoggerFromContext(ctx, r.logger)

	opts := retry.Options{
		MaxRetries: params.Config.MaxRetries,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			observability.RecordRetryAttempt("completion")
			logger.Info().
				Int("attempt", attempt).
				Dur("delay", delay).
				Err(err).
				Msg("Retrying completion")
		},
	}

	result, err := retry.Do(ctx, opts, func(ctx context.Context) (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, completionTimeout)
		defer cancel()

		start := time.Now()
		response, err := provider.Complete(callCtx, Request{
			Model:        params.Config.Model,
			Messages:     messages,
			Tools:        tools,
			Temperature:  params.Config.Temperature,
			MaxTokens:    params.Config.MaxTokens,
			SystemPrompt: systemPrompt,
		})
		observability.RecordCompletion(provider.Name(), time.Since(start), err == nil)
		if err != nil {
			return nil, err
		}
		return response, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*Response), nil
}

// updateProfileSuccess resets failure tracking for a profile
func (r *Runner) updateProfileSuccess(profileID string) {
	r.profilesMu.Lock()
	defer r.profilesMu.Unlock()

	for i := range r.profiles {
		if r.profiles[i].ID == profileID {
			r.profiles[i].FailureCount = 0
			r.profiles[i].CooldownUntil = nil
			observability.SetProviderCooldown(r.profiles[i].Provider, false)
			break
		}
	}
}

// updateProfileFailure marks a profile as failed and extends its
// cooldown with each consecutive failure
func (r *Runner) updateProfileFailure(profileID string) {
	r.profilesMu.Lock()
	defer r.profilesMu.Unlock()

	for i := range r.profiles {
		if r.profiles[i].ID == profileID {
			r.profiles[i].FailureCount++
			cooldownMs := time.Now().UnixMilli() + int64(60000*r.profiles[i].FailureCount)
			r.profiles[i].CooldownUntil = &cooldownMs
			observability.SetProviderCooldown(r.profiles[i].Provider, true)
			break
		}
	}
}

// sortProfilesByPriority sorts profiles by priority, lower first
func sortProfilesByPriority(profiles []Profile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})
}

// dispatchHistory converts session entries to dispatcher turns
func dispatchHistory(history []session.Entry) []dispatch.Turn {
	turns := make([]dispatch.Turn, 0, len(history))
	for _, entry := range history {
		turns = append(turns, dispatch.Turn{
			Role:    entry.Message.Role,
			Content: entry.Message.Content,
		})
	}
	return turns
}

// parseInlineCall recovers a tool call emitted as bare JSON text. Nil
// call and nil error mean the content is not tool-call shaped; a
// non-nil error means it was shaped like one but malformed.
func parseInlineCall(content string) (*toolexec.ToolCall, *toolexec.Error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, nil
	}
	if !strings.Contains(trimmed, `"tool_name"`) && !strings.Contains(trimmed, `"tool"`) {
		return nil, nil
	}

	call, err := toolexec.ParseToolCall([]byte(trimmed))
	if err != nil {
		return nil, toolexec.Classify(err)
	}
	return call, nil
}

// renderToolReply flattens a result envelope into reply text
func renderToolReply(res toolexec.ToolResult) string {
	if !res.Ok {
		if res.Error != nil {
			return res.Error.Message
		}
		return "tool execution failed"
	}

	switch v := res.Result.(type) {
	case string:
		return v
	case nil:
		return "done"
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// toolEnvelope serializes the full envelope for the model's view of a
// tool result
func toolEnvelope(res toolexec.ToolResult) string {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"error":{"code":"EXEC_ERROR","message":%q}}`, err.Error())
	}
	return string(data)
}

func newCallID() string {
	return "call_" + uuid.New().String()
}
