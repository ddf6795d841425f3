package toolexec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommandGuard(allowed ...string) *CommandGuard {
	perms := DefaultPermissions("/tmp/mira-test/permissions.json")
	perms.AllowCommands = allowed
	return NewCommandGuard(perms)
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{name: "simple", line: "git status", want: []string{"git", "status"}},
		{name: "extra spaces", line: "  ls   -la  ", want: []string{"ls", "-la"}},
		{name: "double quotes", line: `echo "hello world"`, want: []string{"echo", "hello world"}},
		{name: "single quotes", line: "grep 'foo bar' file.txt", want: []string{"grep", "foo bar", "file.txt"}},
		{name: "escaped space", line: `cat my\ file.txt`, want: []string{"cat", "my file.txt"}},
		{name: "empty quoted arg", line: `echo ""`, want: []string{"echo", ""}},
		{name: "nested quotes", line: `echo "it's fine"`, want: []string{"echo", "it's fine"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SplitCommand(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitCommand_Rejections(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{name: "empty", line: ""},
		{name: "whitespace only", line: "   "},
		{name: "unterminated double", line: `echo "oops`},
		{name: "unterminated single", line: "echo 'oops"},
		{name: "trailing backslash", line: `echo oops\`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := SplitCommand(tt.line)
			require.Error(t, err)

			var te *Error
			require.ErrorAs(t, err, &te)
			assert.Equal(t, ErrCodeValidation, te.Code)
		})
	}
}

func TestCommandGuard_RunAllowed_DeniedBeforeSpawn(t *testing.T) {
	guard := newTestCommandGuard("echo")

	out, err := guard.RunAllowed(context.Background(), "rm", []string{"-rf", "/"}, RunOpts{})
	require.Error(t, err)
	assert.Nil(t, out)

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ErrCodeCommandDenied, te.Code)
	assert.Contains(t, te.Message, "rm")
	assert.Contains(t, te.Message, "permissions.json")
}

func TestCommandGuard_RunAllowed_ExactNameOnly(t *testing.T) {
	guard := newTestCommandGuard("git")

	// A prefix or superstring of an allowed name is still denied
	for _, cmd := range []string{"gi", "github", "git-upload-pack"} {
		_, err := guard.RunAllowed(context.Background(), cmd, nil, RunOpts{})
		var te *Error
		require.ErrorAs(t, err, &te)
		assert.Equal(t, ErrCodeCommandDenied, te.Code, "command %q", cmd)
	}
}

func TestCommandGuard_RunAllowed_CapturesOutput(t *testing.T) {
	guard := newTestCommandGuard("echo")

	out, err := guard.RunAllowed(context.Background(), "echo", []string{"hello"}, RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.Stdout)
	assert.Equal(t, "", out.Stderr)
	assert.Equal(t, 0, out.ExitCode)
	assert.Greater(t, out.Duration, time.Duration(0))
}

func TestCommandGuard_RunAllowed_NonZeroExit(t *testing.T) {
	guard := newTestCommandGuard("false")

	out, err := guard.RunAllowed(context.Background(), "false", nil, RunOpts{})
	require.Error(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 1, out.ExitCode)

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ErrCodeExec, te.Code)
	assert.Contains(t, te.Message, "status 1")
}

func TestCommandGuard_RunAllowed_SpawnFailure(t *testing.T) {
	guard := newTestCommandGuard("definitely-not-a-real-binary-4x7")

	out, err := guard.RunAllowed(context.Background(), "definitely-not-a-real-binary-4x7", nil, RunOpts{})
	require.Error(t, err)
	require.NotNil(t, out)

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ErrCodeExec, te.Code)
}

func TestCommandGuard_RunAllowed_Timeout(t *testing.T) {
	guard := newTestCommandGuard("sleep")

	start := time.Now()
	_, err := guard.RunAllowed(context.Background(), "sleep", []string{"5"}, RunOpts{Timeout: 50 * time.Millisecond})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 2*time.Second)

	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ErrCodeExec, te.Code)
	assert.Contains(t, te.Message, "timed out")
}

func TestCommandGuard_RunLine(t *testing.T) {
	guard := newTestCommandGuard("echo")

	out, err := guard.RunLine(context.Background(), `echo "quoted arg"`, RunOpts{})
	require.NoError(t, err)
	assert.Equal(t, "quoted arg\n", out.Stdout)

	_, err = guard.RunLine(context.Background(), "", RunOpts{})
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ErrCodeValidation, te.Code)
}

func TestCommandGuard_RunLine_DeniedCommandLine(t *testing.T) {
	guard := newTestCommandGuard("echo")

	_, err := guard.RunLine(context.Background(), "curl https://example.com", RunOpts{})
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ErrCodeCommandDenied, te.Code)
}
