package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var digestParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateProvider validates an AI provider name
func (v *Validator) ValidateProvider(provider string) error {
	if provider == "" {
		return fmt.Errorf("provider cannot be empty")
	}

	validProviders := []string{"anthropic", "openai"}
	for _, valid := range validProviders {
		if provider == valid {
			return nil
		}
	}

	return fmt.Errorf("invalid provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}

	// Check if it's a known model
	knownModels := []string{
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
		"gpt-4o",
		"gpt-4o-mini",
		"gpt-4-turbo",
	}

	for _, known := range knownModels {
		if model == known {
			return nil
		}
	}

	// Allow custom models (just warn)
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 1 {
		return fmt.Errorf("temperature must be between 0 and 1, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateDigestSpec validates the daily digest cron expression
func (v *Validator) ValidateDigestSpec(spec string) error {
	if spec == "" {
		return nil // Use default
	}

	if _, err := digestParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid digest cron expression %q: %w", spec, err)
	}
	return nil
}

// ValidateRemindAt validates a HH:MM reminder time
func (v *Validator) ValidateRemindAt(at string) error {
	if at == "" {
		return nil // Use default
	}

	if _, err := time.Parse("15:04", at); err != nil {
		return fmt.Errorf("invalid remind_at time %q (must be HH:MM)", at)
	}
	return nil
}

// ValidateTimezone validates an IANA timezone name
func (v *Validator) ValidateTimezone(tz string) error {
	if tz == "" {
		return nil // Local time
	}

	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, profile := range cfg.AI.Profiles {
		if err := v.ValidateProvider(profile.Provider); err != nil {
			errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			continue
		}
		if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
			errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
		}
	}

	if err := v.ValidateModel(cfg.Models.Default); err != nil {
		errors = append(errors, err)
	}

	if cfg.Agent.Temperature != 0 {
		if err := v.ValidateTemperature(cfg.Agent.Temperature); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Agent.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.Agent.MaxTokens); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		errors = append(errors, fmt.Errorf("gateway port out of range: %d", cfg.Gateway.Port))
	}
	if cfg.Gateway.RatePerMinute < 0 {
		errors = append(errors, fmt.Errorf("gateway rate_per_minute must be >= 0"))
	}
	if cfg.Gateway.Burst < 0 {
		errors = append(errors, fmt.Errorf("gateway burst must be >= 0"))
	}

	if cfg.Tools.TimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("tools timeout_seconds must be >= 0"))
	}
	if cfg.Tools.MaxOutput < 0 {
		errors = append(errors, fmt.Errorf("tools max_output must be >= 0"))
	}

	if err := v.ValidateDigestSpec(cfg.Tasks.DigestSpec); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateRemindAt(cfg.Tasks.RemindAt); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateTimezone(cfg.Tasks.Timezone); err != nil {
		errors = append(errors, err)
	}

	return errors
}
