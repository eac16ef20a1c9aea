package verifier

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiBackend calls Google's Gemini API for verifier adjudication.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend builds a GeminiBackend.
func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiBackend{client: client, model: model}, nil
}

func (b *GeminiBackend) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
	}
	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(userPrompt), cfg)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
