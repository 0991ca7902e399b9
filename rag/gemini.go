package rag

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"regchat/security"
)

// GeminiGenerator calls the Google Gemini text-generation API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

// NewGeminiGenerator creates a generator on top of an existing genai client.
func NewGeminiGenerator(client *genai.Client, model string) *GeminiGenerator {
	return &GeminiGenerator{client: client, model: model}
}

// Generate runs one generation call at temperature zero. Failures surface
// as ErrGenerationFailed; retries are the caller's decision and the service
// never makes them.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", security.ErrGenerationFailed, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("%w: model returned no text", security.ErrGenerationFailed)
	}
	return text, nil
}
