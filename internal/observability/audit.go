package observability

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// AuditEvent is one append-only trail entry: who did what, and whether
// policy let it through.
type AuditEvent struct {
	Kind   string // tool, security, config
	Actor  string // session key, empty for local CLI work
	Action string
	Status string // success, failure, denied
	Detail map[string]interface{}
}

// The audit trail is process-global like the metrics registry. Events
// are dropped until OpenAuditLog points it at a file.
var auditTrail = struct {
	mu sync.Mutex
	zl zerolog.Logger
	f  *os.File
	on bool
}{zl: zerolog.Nop()}

// OpenAuditLog routes audit events to an append-only file
func OpenAuditLog(path string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	auditTrail.mu.Lock()
	defer auditTrail.mu.Unlock()
	if auditTrail.f != nil {
		auditTrail.f.Close()
	}
	auditTrail.f = f
	auditTrail.zl = zerolog.New(f).With().Timestamp().Logger()
	auditTrail.on = true
	return nil
}

// CloseAuditLog stops recording and releases the file
func CloseAuditLog() error {
	auditTrail.mu.Lock()
	defer auditTrail.mu.Unlock()

	auditTrail.zl = zerolog.Nop()
	auditTrail.on = false
	if auditTrail.f == nil {
		return nil
	}
	err := auditTrail.f.Close()
	auditTrail.f = nil
	return err
}

// RecordAudit writes one trail entry and, when a span is recording,
// attaches the event to it as well
func RecordAudit(ctx context.Context, e AuditEvent) {
	traceID := ""
	span := trace.SpanFromContext(ctx)
	if sc := span.SpanContext(); sc.IsValid() {
		traceID = sc.TraceID().String()
		span.AddEvent(e.Action, trace.WithAttributes(
			attribute.String("audit.kind", e.Kind),
			attribute.String("audit.status", e.Status),
			attribute.String("audit.actor", e.Actor),
		))
	}

	auditTrail.mu.Lock()
	defer auditTrail.mu.Unlock()
	if !auditTrail.on {
		return
	}

	entry := auditTrail.zl.Log().
		Str("kind", e.Kind).
		Str("actor", e.Actor).
		Str("action", e.Action).
		Str("status", e.Status)
	if traceID != "" {
		entry = entry.Str("trace_id", traceID)
	}
	if len(e.Detail) > 0 {
		entry = entry.Interface("detail", e.Detail)
	}
	entry.Msg("")
}

// RecordToolAudit records one tool execution outcome
func RecordToolAudit(ctx context.Context, tool, actor, status string, detail map[string]interface{}) {
	RecordAudit(ctx, AuditEvent{
		Kind:   "tool",
		Actor:  actor,
		Action: "execute:" + tool,
		Status: status,
		Detail: detail,
	})
}

// RecordSecurityAudit records a policy decision: denied tools, denied
// paths or commands, missing confirmations
func RecordSecurityAudit(ctx context.Context, action, actor, status string, detail map[string]interface{}) {
	RecordAudit(ctx, AuditEvent{
		Kind:   "security",
		Actor:  actor,
		Action: action,
		Status: status,
		Detail: detail,
	})
}

// RecordConfigAudit records a configuration change
func RecordConfigAudit(ctx context.Context, action, actor string, detail map[string]interface{}) {
	RecordAudit(ctx, AuditEvent{
		Kind:   "config",
		Actor:  actor,
		Action: action,
		Status: "success",
		Detail: detail,
	})
}
