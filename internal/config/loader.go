package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Loader reads and writes the config file. An empty path means the
// standard location under the home directory.
type Loader struct {
	configPath string
}

func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load is shorthand for NewLoader(path).Load()
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// Load reads the config file, layering it over the defaults so absent
// keys keep them. A missing file is a first run and yields defaults.
func (l *Loader) Load() (*Config, error) {
	path, err := l.resolvePath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return fillDerivedPaths(DefaultConfig())
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return fillDerivedPaths(cfg)
}

// Save writes the config, creating the directory on a first run
func (l *Loader) Save(cfg *Config) error {
	path, err := l.resolvePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := newViper(path)
	v.Set("ai", cfg.AI)
	v.Set("models", cfg.Models)
	v.Set("agent", cfg.Agent)
	v.Set("tools", cfg.Tools)
	v.Set("logging", cfg.Logging)
	v.Set("gateway", cfg.Gateway)
	v.Set("memory", cfg.Memory)
	v.Set("tasks", cfg.Tasks)
	v.Set("browser", cfg.Browser)
	v.Set("data_dir", cfg.DataDir)
	v.Set("workspace_root", cfg.WorkspaceRoot)

	if err := v.WriteConfig(); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to write config file: %w", err)
		}
		if err := v.SafeWriteConfig(); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}
	return nil
}

// GetConfigPath reports where Load and Save look, empty only when the
// home directory cannot be resolved
func (l *Loader) GetConfigPath() string {
	path, err := l.resolvePath()
	if err != nil {
		return ""
	}
	return path
}

func (l *Loader) resolvePath() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".mira", "mira.json"), nil
}

// newViper builds a viper bound to the config file with MIRA_*
// environment overrides active
func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("MIRA")
	v.AutomaticEnv()
	return v
}

// fillDerivedPaths roots the file locations the config leaves empty
// under the data directory
func fillDerivedPaths(cfg *Config) (*Config, error) {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".mira")
	}

	derived := []struct {
		field *string
		name  string
	}{
		{&cfg.Logging.File, "mira.log"},
		{&cfg.Tools.PermissionsFile, "permissions.json"},
		{&cfg.Memory.Dir, "memory"},
		{&cfg.Tasks.Dir, "tasks"},
	}
	for _, d := range derived {
		if *d.field == "" {
			*d.field = filepath.Join(cfg.DataDir, d.name)
		}
	}
	return cfg, nil
}
