package llm

import (
	"context"
	"fmt"
	"math"

	"github.com/sashabaranov/go-openai"
)

// GroqBaseURL is the OpenAI-compatible Groq endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// OpenAIProvider calls an OpenAI-compatible chat completion API (OpenAI, Groq).
type OpenAIProvider struct {
	client      *openai.Client
	name        string
	model       string
	temperature float64
}

// NewOpenAIProvider creates a provider. baseURL may be empty for api.openai.com.
func NewOpenAIProvider(name, apiKey, baseURL, model string, temperature float64) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(cfg),
		name:        name,
		model:       model,
		temperature: temperature,
	}
}

func (p *OpenAIProvider) ProviderName() string { return p.name }
func (p *OpenAIProvider) ModelName() string    { return p.model }

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (string, error) {
	temperature := p.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	chatReq := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: openAITemperature(temperature),
	}
	if req.JSON {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", Classify(p.name, fmt.Errorf("chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", Classify(p.name, ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// openAITemperature maps 0 to the smallest positive value; the client omits
// a zero temperature from the request body.
func openAITemperature(t float64) float32 {
	if t <= 0 {
		return math.SmallestNonzeroFloat32
	}
	return float32(t)
}
