package verifier

import (
	"context"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAIBackend calls a Chat Completions endpoint (OpenAI or any compatible
// self-hosted server) for verifier adjudication.
type OpenAIBackend struct {
	client sdk.Client
	model  string
}

// NewOpenAIBackend builds an OpenAIBackend. baseURL may be empty to use the
// default OpenAI endpoint.
func NewOpenAIBackend(apiKey, baseURL, model string) *OpenAIBackend {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIBackend{client: sdk.NewClient(opts...), model: model}
}

func (b *OpenAIBackend) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := sdk.ChatCompletionNewParams{
		Model: sdk.ChatModel(b.model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(systemPrompt),
			sdk.UserMessage(userPrompt),
		},
	}
	comp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(comp.Choices) == 0 {
		return "", nil
	}
	return comp.Choices[0].Message.Content, nil
}
