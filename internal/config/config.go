package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main Mira configuration
type Config struct {
	// AI provider credentials
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Models
	Models ModelsConfig `json:"models" mapstructure:"models"`

	// Agent run defaults
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Tool execution
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Gateway server
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Memory store
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Task list and reminders
	Tasks TasksConfig `json:"tasks" mapstructure:"tasks"`

	// Web and weather tools
	Browser BrowserConfig `json:"browser" mapstructure:"browser"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Workspace root for file tools
	WorkspaceRoot string `json:"workspace_root" mapstructure:"workspace_root"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider credential profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// ModelsConfig holds model selection configuration
type ModelsConfig struct {
	Default  string            `json:"default" mapstructure:"default"`
	Aliases  map[string]string `json:"aliases" mapstructure:"aliases"`
	Fallback []string          `json:"fallback" mapstructure:"fallback"`
}

// Resolve maps a model alias to its full name. An empty name resolves
// to the default; unknown names pass through unchanged.
func (m ModelsConfig) Resolve(name string) string {
	if name == "" {
		return m.Default
	}
	if full, ok := m.Aliases[name]; ok {
		return full
	}
	return name
}

// AgentConfig holds defaults applied to every agent run
type AgentConfig struct {
	SystemPrompt string  `json:"system_prompt" mapstructure:"system_prompt"`
	Temperature  float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxTurns     int     `json:"max_turns" mapstructure:"max_turns"`
	UseMemory    bool    `json:"use_memory" mapstructure:"use_memory"`
}

// ToolsConfig holds tool execution configuration
type ToolsConfig struct {
	PermissionsFile string `json:"permissions_file" mapstructure:"permissions_file"`
	TimeoutSeconds  int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxOutput       int    `json:"max_output" mapstructure:"max_output"` // bytes, 0 uses the built-in cap
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Host          string `json:"host" mapstructure:"host"`
	Port          int    `json:"port" mapstructure:"port"`
	Token         string `json:"token" mapstructure:"token"`
	RatePerMinute int    `json:"rate_per_minute" mapstructure:"rate_per_minute"`
	Burst         int    `json:"burst" mapstructure:"burst"`
}

// MemoryConfig holds memory store configuration
type MemoryConfig struct {
	Dir            string `json:"dir" mapstructure:"dir"`
	Embeddings     bool   `json:"embeddings" mapstructure:"embeddings"`
	EmbeddingModel string `json:"embedding_model" mapstructure:"embedding_model"`
}

// TasksConfig holds task list and reminder configuration
type TasksConfig struct {
	Dir        string `json:"dir" mapstructure:"dir"`
	DigestSpec string `json:"digest_spec" mapstructure:"digest_spec"` // cron expression for the daily digest
	RemindAt   string `json:"remind_at" mapstructure:"remind_at"`     // HH:MM for due-date reminders
	Timezone   string `json:"timezone" mapstructure:"timezone"`
}

// BrowserConfig holds web tool configuration
type BrowserConfig struct {
	AllowLocal bool   `json:"allow_local" mapstructure:"allow_local"`
	BrowserBin string `json:"browser_bin" mapstructure:"browser_bin"`
	NoSandbox  bool   `json:"no_sandbox" mapstructure:"no_sandbox"`
	WeatherURL string `json:"weather_url" mapstructure:"weather_url"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Models: ModelsConfig{
			Default: "claude-3-5-sonnet-20241022",
			Aliases: map[string]string{
				"sonnet": "claude-3-5-sonnet-20241022",
				"haiku":  "claude-3-5-haiku-20241022",
				"gpt4o":  "gpt-4o",
			},
			Fallback: []string{"claude-3-5-sonnet-20241022", "gpt-4o"},
		},
		Agent: AgentConfig{
			Temperature: 0.7,
			MaxTokens:   4096,
			MaxTurns:    10,
			UseMemory:   true,
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 60,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Gateway: GatewayConfig{
			Host:          "127.0.0.1",
			Port:          8080,
			RatePerMinute: 60,
			Burst:         10,
		},
		Memory: MemoryConfig{
			Embeddings:     true,
			EmbeddingModel: "text-embedding-3-small",
		},
		Tasks: TasksConfig{
			DigestSpec: "0 9 * * *",
			RemindAt:   "09:00",
		},
		Browser:       BrowserConfig{},
		DataDir:       "",
		WorkspaceRoot: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
	}

	if c.Models.Default == "" {
		return fmt.Errorf("models.default is required")
	}

	if c.Gateway.Port < 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway port out of range: %d", c.Gateway.Port)
	}

	return nil
}
