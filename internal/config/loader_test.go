package config

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
}

func TestLoader_Load(t *testing.T) {
	t.Run("should return defaults when the file is missing", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, "claude-3-5-sonnet-20241022", cfg.Models.Default)
		assert.NotEmpty(t, cfg.DataDir)
		assert.NotEmpty(t, cfg.Logging.File)
		assert.NotEmpty(t, cfg.Tools.PermissionsFile)
	})

	t.Run("should load values from the file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"ai": {
				"profiles": [
					{"id": "main", "provider": "anthropic", "api_key": "sk-ant-test123", "priority": 1}
				]
			},
			"gateway": {
				"token": "gw-secret",
				"port": 9090
			}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "anthropic", cfg.AI.Profiles[0].Provider)
		assert.Equal(t, "sk-ant-test123", cfg.AI.Profiles[0].APIKey)
		assert.Equal(t, "gw-secret", cfg.Gateway.Token)
		assert.Equal(t, 9090, cfg.Gateway.Port)
	})

	t.Run("should keep defaults for absent keys", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{"gateway": {"token": "gw-secret"}}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Equal(t, "127.0.0.1", cfg.Gateway.Host)
		assert.Equal(t, 8080, cfg.Gateway.Port)
		assert.Equal(t, "0 9 * * *", cfg.Tasks.DigestSpec)
	})

	t.Run("should derive paths from the data directory", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		dataDir := filepath.Join(tmpDir, "data")

		testConfig := `{"data_dir": ` + strconv.Quote(dataDir) + `}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, dataDir, cfg.DataDir)
		assert.Equal(t, filepath.Join(dataDir, "mira.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(dataDir, "permissions.json"), cfg.Tools.PermissionsFile)
		assert.Equal(t, filepath.Join(dataDir, "memory"), cfg.Memory.Dir)
		assert.Equal(t, filepath.Join(dataDir, "tasks"), cfg.Tasks.Dir)
	})

	t.Run("should reject a malformed file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.json")

		err := os.WriteFile(configPath, []byte("invalid json"), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		_, err = loader.Load()

		assert.Error(t, err)
	})
}

func TestLoader_Save(t *testing.T) {
	t.Run("should round-trip the config", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		cfg := DefaultConfig()
		cfg.AI.Profiles = []AIProfile{validProfile()}
		cfg.Gateway.Token = "gw-secret"
		cfg.WorkspaceRoot = "/home/me/notes"

		loader := NewLoader(configPath)
		err := loader.Save(cfg)

		require.NoError(t, err)

		_, err = os.Stat(configPath)
		assert.NoError(t, err)

		loaded, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		require.Len(t, loaded.AI.Profiles, 1)
		assert.Equal(t, "sk-ant-test123", loaded.AI.Profiles[0].APIKey)
		assert.Equal(t, "gw-secret", loaded.Gateway.Token)
		assert.Equal(t, "/home/me/notes", loaded.WorkspaceRoot)
	})

	t.Run("should create the directory when missing", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "subdir", "config.json")

		cfg := DefaultConfig()
		cfg.AI.Profiles = []AIProfile{validProfile()}

		loader := NewLoader(configPath)
		err := loader.Save(cfg)

		require.NoError(t, err)

		_, err = os.Stat(filepath.Dir(configPath))
		assert.NoError(t, err)
	})
}

func TestLoader_GetConfigPath(t *testing.T) {
	t.Run("should keep a custom path", func(t *testing.T) {
		loader := NewLoader("/custom/path/config.json")
		assert.Equal(t, "/custom/path/config.json", loader.GetConfigPath())
	})

	t.Run("should default under the home directory", func(t *testing.T) {
		loader := NewLoader("")
		path := loader.GetConfigPath()
		assert.NotEmpty(t, path)
		assert.Contains(t, path, ".mira")
	})
}
