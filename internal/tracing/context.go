package tracing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TraceContext holds the identifiers stitched onto a request as it
// moves through the queue, the agent, and the tools.
type TraceContext struct {
	TraceID    string
	RunID      string
	SessionKey string
	RequestID  string
}

// traceKey is the single context key. All identifiers travel in one
// TraceContext value so a lookup costs one context hop.
type traceKey struct{}

func current(ctx context.Context) TraceContext {
	tc, _ := ctx.Value(traceKey{}).(TraceContext)
	return tc
}

func stamp(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, traceKey{}, tc)
}

// NewTraceID returns a fresh trace identifier
func NewTraceID() string {
	return uuid.New().String()
}

// NewRunID returns a fresh run identifier
func NewRunID() string {
	return uuid.New().String()
}

// WithTraceID stamps a trace ID onto the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	tc := current(ctx)
	tc.TraceID = traceID
	return stamp(ctx, tc)
}

// WithRunID stamps a run ID onto the context
func WithRunID(ctx context.Context, runID string) context.Context {
	tc := current(ctx)
	tc.RunID = runID
	return stamp(ctx, tc)
}

// WithSessionKey stamps a session key onto the context
func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	tc := current(ctx)
	tc.SessionKey = sessionKey
	return stamp(ctx, tc)
}

// WithRequestID stamps an idempotency request ID onto the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	tc := current(ctx)
	tc.RequestID = requestID
	return stamp(ctx, tc)
}

// GetTraceID reads the trace ID, empty when unset
func GetTraceID(ctx context.Context) string {
	return current(ctx).TraceID
}

// GetRunID reads the run ID, empty when unset
func GetRunID(ctx context.Context) string {
	return current(ctx).RunID
}

// GetSessionKey reads the session key, empty when unset
func GetSessionKey(ctx context.Context) string {
	return current(ctx).SessionKey
}

// GetRequestID reads the request ID, empty when unset
func GetRequestID(ctx context.Context) string {
	return current(ctx).RequestID
}

// NewRequestContext begins a request scope with a fresh trace ID
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewRunContext begins an agent run scope with a fresh run ID
func NewRunContext(ctx context.Context) context.Context {
	return WithRunID(ctx, NewRunID())
}

// LoggerFromContext returns baseLogger enriched with whichever tracing
// identifiers the context carries. Unset identifiers add no fields.
func LoggerFromContext(ctx context.Context, baseLogger zerolog.Logger) zerolog.Logger {
	tc := current(ctx)

	lc := baseLogger.With()
	if tc.TraceID != "" {
		lc = lc.Str("trace_id", tc.TraceID)
	}
	if tc.RunID != "" {
		lc = lc.Str("run_id", tc.RunID)
	}
	if tc.SessionKey != "" {
		lc = lc.Str("session_key", tc.SessionKey)
	}
	return lc.Logger()
}
