// Package aiclient wraps the OpenAI and Anthropic SDKs behind one
// prompt-in, text-out interface for heartbeat execution.
package aiclient

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// SendParams describes one completion request.
type SendParams struct {
	Prompt    string
	Model     string
	MaxTokens int
	// Structured requests schema-constrained JSON output on backends
	// that support it; others ignore it and rely on the prompt.
	Structured bool
}

// Client is a single-turn completion backend.
type Client interface {
	Name() string
	Send(ctx context.Context, params SendParams) (string, error)
}

// DefaultMaxTokens caps the response when SendParams.MaxTokens is unset.
const DefaultMaxTokens = 4096

// ProviderForModel guesses the backend from a model identifier.
func ProviderForModel(model string) string {
	if strings.HasPrefix(strings.ToLower(model), "claude") {
		return "anthropic"
	}
	return "openai"
}

// ForProvider builds the client matching a provider name. An empty
// provider falls back to guessing from the model id.
func ForProvider(provider, model, apiKey, baseURL string, log zerolog.Logger) (Client, error) {
	if provider == "" {
		provider = ProviderForModel(model)
	}
	switch provider {
	case "openai":
		return NewOpenAIWithBaseURL(apiKey, baseURL, log)
	case "anthropic":
		return NewAnthropicWithBaseURL(apiKey, baseURL, log)
	default:
		return nil, fmt.Errorf("unsupported AI provider %q", provider)
	}
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return DefaultMaxTokens
	}
	return n
}
