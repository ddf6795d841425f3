package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/selcan/mira/internal/tracing"
	"github.com/selcan/mira/pkg/agent"
)

// registerBuiltinMethods wires the methods every gateway serves
func (s *Server) registerBuiltinMethods() {
	_ = s.RegisterMethod("ask", s.handleAsk)
	_ = s.RegisterMethod("abort", s.handleAbort)
	_ = s.RegisterMethod("status", s.handleStatus)

	if s.executor != nil {
		_ = s.RegisterMethod("tools", s.handleTools)
	}
}

// handleAsk runs one agent turn. WebSocket callers see progress as it
// happens: an ask.text event per model turn and an ask.tool_result
// event per executed tool, then the final response with the full run
// result. HTTP callers get only the final response.
func (s *Server) handleAsk(ctx context.Context, client *Client, params map[string]interface{}) (interface{}, error) {
	prompt, _ := params["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "prompt is required"}
	}

	sessionKey, _ := params["session_key"].(string)
	if sessionKey == "" {
		sessionKey = "gateway"
	}

	cfg := agent.DefaultRunConfig()
	if model, ok := params["model"].(string); ok && model != "" {
		cfg.Model = model
	}

	requestID := tracing.GetRequestID(ctx)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	stream := s.runner.RunStream(ctx, agent.RunParams{
		Prompt:     prompt,
		SessionKey: sessionKey,
		Config:     cfg,
	})
	defer stream.Close()

	emitFailed := false
	for {
		chunk, ok := stream.Next()
		if !ok {
			break
		}
		if client == nil || emitFailed {
			continue
		}

		var sendErr error
		switch chunk.Type {
		case agent.ChunkText:
			sendErr = client.SendEvent("ask.text", requestID, sessionKey, map[string]interface{}{
				"text": chunk.Text,
			})
		case agent.ChunkToolResult:
			sendErr = client.SendEvent("ask.tool_result", requestID, sessionKey, chunk.Executed)
		}
		if sendErr != nil {
			// The client is gone; stop the run instead of burning a
			// completion nobody will read.
			logger.Warn().
				Err(sendErr).
				Str("clientId", client.ID).
				Msg("Stream delivery failed, aborting run")
			emitFailed = true
			stream.Close()
		}
	}

	result, err := stream.Result()
	if err != nil {
		return nil, err
	}
	return result, nil
}

// handleAbort cancels the active run for a session, if any
func (s *Server) handleAbort(_ context.Context, _ *Client, params map[string]interface{}) (interface{}, error) {
	sessionKey, _ := params["session_key"].(string)
	if sessionKey == "" {
		return nil, &RPCError{Code: InvalidParams, Message: "session_key is required"}
	}

	wasRunning := s.runner.IsRunning(sessionKey)
	if err := s.runner.Abort(sessionKey); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"session_key": sessionKey,
		"was_running": wasRunning,
	}, nil
}

// handleStatus reports server health and connected clients
func (s *Server) handleStatus(_ context.Context, _ *Client, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"clients":        s.clients.Snapshot(),
		"methods":        s.Methods(),
	}, nil
}

// handleTools lists the registered tools
func (s *Server) handleTools(_ context.Context, _ *Client, _ map[string]interface{}) (interface{}, error) {
	specs := s.executor.Specs()

	tools := make([]map[string]interface{}, 0, len(specs))
	for _, spec := range specs {
		tools = append(tools, map[string]interface{}{
			"name":        spec.Name,
			"description": spec.Description,
			"status":      string(spec.Status),
			"required":    spec.Required,
		})
	}

	return map[string]interface{}{"tools": tools}, nil
}
