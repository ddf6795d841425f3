// Package coretools provides the baseline filesystem and shell tools.
// Every path resolves through the guard, and every mutating handler
// checks the confirmation gate before resolving or probing anything.
package coretools

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/selcan/mira/pkg/toolexec"
)

const (
	// defaultReadLimit caps fs_read content when max_bytes is unset
	defaultReadLimit = 200000

	// searchSizeLimit skips files too large to scan line by line
	searchSizeLimit = 1 << 20

	// searchMaxResults caps fs_search matches when max_results is unset
	searchMaxResults = 50
)

// RegisterTools registers the filesystem and command tools with the
// executor.
func RegisterTools(executor *toolexec.Executor) error {
	tools := []toolexec.ToolSpec{
		fsReadTool(),
		fsWriteTool(),
		fsEditTool(),
		fsListTool(),
		fsSearchTool(),
		fsDeleteTool(),
		fsMoveTool(),
		runCommandTool(),
		gitStatusTool(),
	}

	for _, tool := range tools {
		if err := executor.Register(tool); err != nil {
			return fmt.Errorf("failed to register %s: %w", tool.Name, err)
		}
	}

	log.Info().Int("count", len(tools)).Msg("Core tools registered")
	return nil
}

// guardsFrom pulls the execution bundle and requires the path guard
func guardsFrom(ctx context.Context) (*toolexec.ExecContext, error) {
	ec := toolexec.ExecContextFrom(ctx)
	if ec == nil || ec.Paths == nil {
		return nil, toolexec.Execf("execution context with a path guard is required")
	}
	return ec, nil
}

// commandsFrom pulls the execution bundle and requires the command guard
func commandsFrom(ctx context.Context) (*toolexec.ExecContext, error) {
	ec := toolexec.ExecContextFrom(ctx)
	if ec == nil || ec.Commands == nil {
		return nil, toolexec.Execf("execution context with a command guard is required")
	}
	return ec, nil
}

// confirmFirst applies the confirmation gate before any path or command
// resolution. A caller lacking confirmation learns nothing about policy
// checks that would fire later.
func confirmFirst(ec *toolexec.ExecContext, tool string, args map[string]interface{}) error {
	if ec.Confirm != nil {
		return ec.Confirm.Check(tool, args)
	}
	return nil
}

// statPath probes a path through the invocation's stat cache when one
// is present, so repeated existence checks hit the filesystem once
func statPath(ec *toolexec.ExecContext, abs string) (os.FileInfo, error) {
	if ec.Stats != nil {
		return ec.Stats.Stat(abs)
	}
	return os.Stat(abs)
}

// invalidate drops cached probes for every path a mutation touched.
// Handlers must call it after any write, delete, or move, or later
// probes in the same invocation see stale state.
func invalidate(ec *toolexec.ExecContext, paths ...string) {
	if ec.Stats == nil {
		return
	}
	for _, p := range paths {
		ec.Stats.Invalidate(p)
	}
}
