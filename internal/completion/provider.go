// ABOUTME: Completion provider contract used by AI auto-replies
// ABOUTME: The caller owns conversation history and passes it on every request

package completion

import (
	"context"
	"fmt"
	"time"
)

// Roles used in conversation history
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn of prior conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request asks for a reply to Text given the prior History.
type Request struct {
	ConversationKey string
	SystemPrompt    string
	History         []Message
	Text            string
}

// Provider turns a request into reply text. Implementations hold no conversation state.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Provider names accepted by NewProvider
const (
	ProviderOpenAI = "openai"
	ProviderEcho   = "echo"
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
}

// NewProvider creates a provider based on the provider name.
// Returns an error if the provider is unknown or the API key is empty (except for echo).
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("completion.api_key is required for the openai provider")
		}
		return NewOpenAI(cfg), nil
	case ProviderEcho, "":
		return Echo{}, nil
	default:
		return nil, fmt.Errorf("unknown completion provider: %s (valid options: openai, echo)", cfg.Provider)
	}
}
