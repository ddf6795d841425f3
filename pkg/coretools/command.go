package coretools

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/selcan/mira/pkg/toolexec"
)

// inspectionTimeout bounds read-only commands like git status. The
// generic shell stays unbounded unless the caller asks for a timeout.
const inspectionTimeout = 10 * time.Second

func runCommandTool() toolexec.ToolSpec {
	return toolexec.ToolSpec{
		Name:        "run_command",
		Description: "Run an allowlisted command and capture its output",
		Required:    []string{"command"},
		Parameters: map[string]toolexec.ParamSpec{
			"command": {Type: "string", Description: "Command to run; tokenized as a shell-like line when args is absent"},
			"args":    {Type: "array", Description: "Arguments passed verbatim to the command"},
			"cwd":     {Type: "string", Description: "Directory to run in, relative to the workspace root"},
			"timeout": {Type: "number", Description: "Timeout in seconds; unset means no limit"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ec, err := commandsFrom(ctx)
			if err != nil {
				return nil, err
			}
			if err := confirmFirst(ec, "run_command", args); err != nil {
				return nil, err
			}

			command, _ := args["command"].(string)
			command = strings.TrimSpace(command)
			if command == "" {
				return nil, toolexec.Validationf("command is required")
			}

			dir, err := resolveRunDir(ec, "run_command", args, "cwd")
			if err != nil {
				return nil, err
			}

			opts := toolexec.RunOpts{Dir: dir}
			if v, ok := args["timeout"].(float64); ok && v > 0 {
				opts.Timeout = time.Duration(v * float64(time.Second))
			}

			var out *toolexec.CommandOutput
			if argv := toStringSlice(args["args"]); len(argv) > 0 {
				out, err = ec.Commands.RunAllowed(ctx, command, argv, opts)
			} else {
				out, err = ec.Commands.RunLine(ctx, command, opts)
			}
			if err != nil {
				return nil, err
			}

			return map[string]interface{}{
				"stdout":      out.Stdout,
				"stderr":      out.Stderr,
				"exit_code":   out.ExitCode,
				"duration_ms": out.Duration.Milliseconds(),
			}, nil
		},
	}
}

func gitStatusTool() toolexec.ToolSpec {
	return toolexec.ToolSpec{
		Name:        "git_status",
		Description: "Show the git branch and pending changes for the workspace",
		Parameters: map[string]toolexec.ParamSpec{
			"path": {Type: "string", Description: "Repository directory, default the workspace root"},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			ec, err := commandsFrom(ctx)
			if err != nil {
				return nil, err
			}

			dir, err := resolveRunDir(ec, "git_status", args, "path")
			if err != nil {
				return nil, err
			}

			out, err := ec.Commands.RunAllowed(ctx, "git", []string{"status", "--porcelain", "-b"},
				toolexec.RunOpts{Dir: dir, Timeout: inspectionTimeout})
			if err != nil {
				return nil, err
			}

			branch, changes := parsePorcelain(out.Stdout)
			return map[string]interface{}{
				"branch":  branch,
				"clean":   len(changes) == 0,
				"changes": changes,
			}, nil
		},
	}
}

// resolveRunDir picks the directory a command runs in: the named
// argument resolved through the path guard when present, the invocation
// working directory otherwise.
func resolveRunDir(ec *toolexec.ExecContext, tool string, args map[string]interface{}, key string) (string, error) {
	raw, _ := args[key].(string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if ec.WorkingDir != "" {
			return ec.WorkingDir, nil
		}
		return ec.SandboxRoot, nil
	}

	if ec.Paths == nil {
		return "", toolexec.Execf("execution context with a path guard is required")
	}
	abs, err := ec.Paths.ResolveAllowed(tool, raw, toolexec.OpRead)
	if err != nil {
		return "", err
	}

	info, err := statPath(ec, abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", toolexec.NotFoundf("directory not found: %s", raw)
		}
		return "", err
	}
	if !info.IsDir() {
		return "", toolexec.Validationf("%s is not a directory", raw)
	}
	return abs, nil
}

// parsePorcelain splits `git status --porcelain -b` output into the
// branch header and the changed entries
func parsePorcelain(output string) (string, []string) {
	branch := ""
	changes := []string{}
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "## ") {
			branch = strings.TrimPrefix(line, "## ")
			continue
		}
		changes = append(changes, line)
	}
	return branch, changes
}

func toStringSlice(value interface{}) []string {
	raw, ok := value.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
