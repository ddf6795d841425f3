package toolexec

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog/log"
)

// CommandOutput captures what a spawned process produced
type CommandOutput struct {
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"-"`
}

// RunOpts bounds a single command run
type RunOpts struct {
	Dir     string
	Timeout time.Duration
}

// CommandGuard admits subprocess spawns. The command name is checked
// against allow_commands before any process is created.
type CommandGuard struct {
	perms *Permissions
}

// NewCommandGuard builds a guard over the loaded permissions
func NewCommandGuard(perms *Permissions) *CommandGuard {
	return &CommandGuard{perms: perms}
}

// SplitCommand tokenizes a free-form command line, respecting single
// and double quotes and backslash escapes. Empty lines and unterminated
// quotes are rejected before anything could be spawned.
func SplitCommand(line string) ([]string, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, Validationf("empty command")
	}

	var args []string
	var current strings.Builder
	inSingle := false
	inDouble := false
	escaped := false
	hasToken := false

	flush := func() {
		if !hasToken {
			return
		}
		args = append(args, current.String())
		current.Reset()
		hasToken = false
	}

	for _, r := range trimmed {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case r == '\\' && !inSingle:
			escaped = true
			hasToken = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			hasToken = true
		case r == '"' && !inSingle:
			inDouble = !inDouble
			hasToken = true
		case unicode.IsSpace(r) && !inSingle && !inDouble:
			flush()
		default:
			current.WriteRune(r)
			hasToken = true
		}
	}

	if inSingle || inDouble {
		return nil, Validationf("unterminated quote in command")
	}
	if escaped {
		return nil, Validationf("trailing backslash in command")
	}
	flush()

	if len(args) == 0 {
		return nil, Validationf("empty command")
	}
	return args, nil
}

// RunAllowed checks command against allow_commands by exact name, then
// spawns it synchronously, capturing stdout, stderr, and the exit code.
// A denied or empty command creates no process at all. A non-zero exit
// or spawn failure returns EXEC_ERROR alongside whatever output was
// captured.
func (g *CommandGuard) RunAllowed(ctx context.Context, command string, args []string, opts RunOpts) (*CommandOutput, error) {
	if command == "" {
		return nil, Validationf("empty command")
	}
	if !g.perms.IsCommandAllowed(command) {
		log.Warn().Str("command", command).Msg("Command blocked by allowlist")
		return nil, CommandDeniedError(command, g.perms.FilePath())
	}

	runCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, command, args...)
	if opts.Dir != "" {
		cmd.Dir = opts.Dir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	out := &CommandOutput{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	if runCtx.Err() == context.DeadlineExceeded {
		out.ExitCode = -1
		log.Warn().Str("command", command).Dur("duration", duration).Msg("Command timed out")
		return out, Execf("command %q timed out after %v", command, opts.Timeout)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, Execf("command %q exited with status %d%s", command, out.ExitCode, stderrExcerpt(out.Stderr))
		}
		out.ExitCode = -1
		return out, Execf("failed to run command %q: %v", command, err)
	}

	out.ExitCode = 0
	log.Debug().
		Str("command", command).
		Dur("duration", duration).
		Int("stdout_bytes", stdout.Len()).
		Msg("Command completed")

	return out, nil
}

// RunLine tokenizes a free-form line and runs it through RunAllowed
func (g *CommandGuard) RunLine(ctx context.Context, line string, opts RunOpts) (*CommandOutput, error) {
	argv, err := SplitCommand(line)
	if err != nil {
		return nil, err
	}
	return g.RunAllowed(ctx, argv[0], argv[1:], opts)
}

func stderrExcerpt(stderr string) string {
	s := strings.TrimSpace(stderr)
	if s == "" {
		return ""
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return ": " + s
}
