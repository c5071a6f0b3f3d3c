package aiclient

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

// Anthropic talks to the Anthropic messages API. It has no schema-pinned
// output mode; params.Structured is ignored and the prompt carries the
// JSON formatting instructions.
type Anthropic struct {
	client anthropic.Client
	log    zerolog.Logger
}

// NewAnthropic creates a client for api.anthropic.com.
func NewAnthropic(apiKey string, log zerolog.Logger) (*Anthropic, error) {
	return NewAnthropicWithBaseURL(apiKey, "", log)
}

// NewAnthropicWithBaseURL creates a client against a custom endpoint.
func NewAnthropicWithBaseURL(apiKey, baseURL string, log zerolog.Logger) (*Anthropic, error) {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no Anthropic API key provided and ANTHROPIC_API_KEY is unset")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &Anthropic{
		client: anthropic.NewClient(opts...),
		log:    log.With().Str("provider", "anthropic").Logger(),
	}, nil
}

func (a *Anthropic) Name() string {
	return "anthropic"
}

// Send runs one user-message completion and concatenates the text blocks
// of the reply.
func (a *Anthropic) Send(ctx context.Context, params SendParams) (string, error) {
	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(params.Model),
		MaxTokens: int64(maxTokensOrDefault(params.MaxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(params.Prompt)),
		},
	}

	resp, err := a.client.Messages.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("anthropic completion failed: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(text.Text)
		}
	}
	if content.Len() == 0 {
		return "", fmt.Errorf("anthropic returned no text content")
	}
	return content.String(), nil
}
