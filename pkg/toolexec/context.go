package toolexec

import (
	"context"
	"time"
)

// ExecContext is the per-invocation bundle handlers draw on: the
// sandbox root and guards, the loaded permissions, size limits, where
// tool state persists, and when the invocation started.
type ExecContext struct {
	SandboxRoot string
	Paths       *PathGuard
	Commands    *CommandGuard
	Confirm     *ConfirmationGate
	Permissions *Permissions
	Stats       *StatCache

	// DataDir is the root for tool-owned persistent files
	DataDir string

	// MaxOutput caps result size before truncation; 0 means the default
	MaxOutput int

	// Timeout bounds the whole execution when set
	Timeout time.Duration

	SessionKey string
	WorkingDir string
	StartedAt  time.Time
}

type execContextKey struct{}

// WithExecContext attaches the execution bundle to a context.Context
// for tool handlers.
func WithExecContext(ctx context.Context, ec *ExecContext) context.Context {
	if ctx == nil {
		return context.Background()
	}
	if ec == nil {
		return ctx
	}
	return context.WithValue(ctx, execContextKey{}, ec)
}

// ExecContextFrom extracts the execution bundle from a context.Context.
func ExecContextFrom(ctx context.Context) *ExecContext {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(execContextKey{}); v != nil {
		if ec, ok := v.(*ExecContext); ok {
			return ec
		}
	}
	return nil
}
