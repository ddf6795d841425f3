package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Wizard walks a first run through API keys, gateway access and the
// model defaults
type Wizard struct {
	in *bufio.Reader
}

func NewWizard() *Wizard {
	return &Wizard{in: bufio.NewReader(os.Stdin)}
}

// NewWizardWithReader reads answers from r instead of stdin
func NewWizardWithReader(r io.Reader) *Wizard {
	return &Wizard{in: bufio.NewReader(r)}
}

// Run asks its questions in a fixed order and returns the resulting
// config. At least one API key must be provided.
func (w *Wizard) Run() (*Config, error) {
	fmt.Println("=== Mira Configuration Wizard ===")
	fmt.Println()

	cfg := DefaultConfig()
	check := NewValidator()

	fmt.Println("API Keys (at least one is required):")
	fmt.Println()

	providers := []struct {
		label    string
		name     string
		priority int
	}{
		{"Anthropic", "anthropic", 1},
		{"OpenAI", "openai", 2},
	}
	for _, p := range providers {
		key, err := w.askKey(check, p.label, p.name)
		if err != nil {
			return nil, err
		}
		if key == "" {
			continue
		}
		cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
			ID:       p.name,
			Provider: p.name,
			APIKey:   key,
			Priority: p.priority,
		})
	}
	if len(cfg.AI.Profiles) == 0 {
		return nil, fmt.Errorf("at least one API key is required")
	}
	fmt.Println()

	if err := w.setupGateway(cfg); err != nil {
		return nil, err
	}
	fmt.Println()

	fmt.Println("Default Model:")
	model, err := w.ask(fmt.Sprintf("Model name [%s]: ", cfg.Models.Default))
	if err != nil {
		return nil, err
	}
	if model != "" {
		cfg.Models.Default = cfg.Models.Resolve(model)
	}
	fmt.Println()

	fmt.Println("Logging:")
	level, err := w.ask("Log level (debug/info/warn/error) [info]: ")
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := check.ValidateLogLevel(level); err != nil {
			fmt.Printf("Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Println()
	fmt.Println("Configuration complete!")
	return cfg, nil
}

// askKey prompts for one provider's API key until the answer is empty,
// meaning skip, or passes validation
func (w *Wizard) askKey(check *Validator, label, provider string) (string, error) {
	for {
		key, err := w.ask(fmt.Sprintf("%s API Key (press Enter to skip): ", label))
		if err != nil {
			return "", err
		}
		if key == "" {
			return "", nil
		}
		if err := check.ValidateAPIKey(key, provider); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		return key, nil
	}
}

// setupGateway optionally records an auth token. Declining leaves the
// gateway off until a token is set by hand.
func (w *Wizard) setupGateway(cfg *Config) error {
	fmt.Println("Gateway (lets local tools talk to Mira over WebSocket):")
	fmt.Println()

	enable, err := w.ask("Set up the gateway? (y/n) [n]: ")
	if err != nil {
		return err
	}
	if strings.ToLower(enable) != "y" {
		return nil
	}

	for {
		token, err := w.ask("Gateway auth token: ")
		if err != nil {
			return err
		}
		if token == "" {
			fmt.Println("Error: a token is required; clients authenticate with it")
			continue
		}
		cfg.Gateway.Token = token
		return nil
	}
}

// ask prints a prompt and reads one trimmed answer line
func (w *Wizard) ask(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := w.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
