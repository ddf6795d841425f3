package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetVersion(t *testing.T) {
	assert.Equal(t, version, GetVersion())
	assert.NotEmpty(t, GetVersion())
}

func TestGetRootCmd(t *testing.T) {
	root := GetRootCmd()
	require.NotNil(t, root)
	assert.Equal(t, "mira", root.Name())
}

func TestRootCmd_Subcommands(t *testing.T) {
	expected := []string{"ask", "chat", "configure", "permissions", "serve", "status"}

	for _, name := range expected {
		t.Run("should register "+name, func(t *testing.T) {
			found := false
			for _, cmd := range GetRootCmd().Commands() {
				if cmd.Name() == name {
					found = true
					break
				}
			}
			assert.True(t, found, "command %q is not registered", name)
		})
	}
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	t.Run("should expose a config flag", func(t *testing.T) {
		flag := GetRootCmd().PersistentFlags().Lookup("config")
		require.NotNil(t, flag)
		assert.Equal(t, "", flag.DefValue)
	})

	t.Run("should expose a log-level flag", func(t *testing.T) {
		flag := GetRootCmd().PersistentFlags().Lookup("log-level")
		require.NotNil(t, flag)
		assert.Equal(t, "", flag.DefValue)
	})
}

func TestRootCmd_Version(t *testing.T) {
	root := GetRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"--version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, buf.String(), "mira version "+version)
}

func TestRootCmd_Help(t *testing.T) {
	root := GetRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetArgs([]string{"--help"})

	require.NoError(t, root.Execute())
	out := buf.String()
	assert.Contains(t, out, "Mira")
	assert.Contains(t, out, "ask")
	assert.Contains(t, out, "chat")
	assert.Contains(t, out, "serve")
}
