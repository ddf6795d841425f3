package agent

import (
	"context"
	"fmt"

	"github.com/selcan/mira/pkg/toolexec"
)

// Provider is a completion API client
type Provider interface {
	// Complete makes one completion call
	Complete(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name
	Name() string
}

// Request contains the parameters for a completion call. Tools are the
// registered specs themselves; each provider converts them to its own
// wire format.
type Request struct {
	Model        string
	Messages     []ChatMessage
	Tools        []*toolexec.ToolSpec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Response contains the completion result
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// ProviderCreator creates providers from auth profiles
type ProviderCreator interface {
	NewProvider(profile Profile) (Provider, error)
}

// Factory is the default ProviderCreator
type Factory struct{}

// NewProvider creates a provider for the profile's backend
func (f *Factory) NewProvider(profile Profile) (Provider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", profile.Provider)
	}
}
