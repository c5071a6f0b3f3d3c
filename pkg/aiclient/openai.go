package aiclient

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/rs/zerolog"
)

// OpenAI talks to the OpenAI chat completions API (or any compatible
// endpoint via a custom base URL).
type OpenAI struct {
	client openai.Client
	log    zerolog.Logger
}

// NewOpenAI creates a client for api.openai.com.
func NewOpenAI(apiKey string, log zerolog.Logger) (*OpenAI, error) {
	return NewOpenAIWithBaseURL(apiKey, "", log)
}

// NewOpenAIWithBaseURL creates a client against a custom endpoint, for
// proxies and OpenAI-compatible servers.
func NewOpenAIWithBaseURL(apiKey, baseURL string, log zerolog.Logger) (*OpenAI, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no OpenAI API key provided and OPENAI_API_KEY is unset")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		log:    log.With().Str("provider", "openai").Logger(),
	}, nil
}

func (o *OpenAI) Name() string {
	return "openai"
}

// Send runs one user-message completion. With params.Structured the
// request pins the response to the action schema, so the reply is
// guaranteed parseable JSON.
func (o *OpenAI) Send(ctx context.Context, params SendParams) (string, error) {
	req := openai.ChatCompletionNewParams{
		Model: params.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(params.Prompt),
		},
		MaxCompletionTokens: openai.Int(int64(maxTokensOrDefault(params.MaxTokens))),
	}
	if params.Structured {
		req.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   actionResponseSchemaName,
					Strict: openai.Bool(true),
					Schema: ActionResponseSchema(),
				},
			},
		}
	}

	resp, err := o.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("OpenAI chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("OpenAI returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
