package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider calls the Gemini API through the genai SDK.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	temperature float64
}

// NewGeminiProvider creates a provider backed by the Gemini API.
func NewGeminiProvider(ctx context.Context, apiKey, model string, temperature float64) (*GeminiProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiProvider{client: client, model: model, temperature: temperature}, nil
}

func (p *GeminiProvider) ProviderName() string { return "gemini" }
func (p *GeminiProvider) ModelName() string    { return p.model }

// Generate implements Provider.
func (p *GeminiProvider) Generate(ctx context.Context, req Request) (string, error) {
	temperature := p.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(temperature)),
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", Classify(p.ProviderName(), fmt.Errorf("generate content: %w", err))
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", Classify(p.ProviderName(), ErrEmptyResponse)
	}
	return text, nil
}
