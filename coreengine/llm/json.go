package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrMalformedJSON marks a response that could not be decoded, as opposed
// to a failed call.
var ErrMalformedJSON = errors.New("malformed model JSON")

// DecodeJSON parses a model response into out. Code fences and prose around
// the object are stripped, and malformed JSON is repaired before giving up.
func DecodeJSON(text string, out any) error {
	candidate := extractObject(stripFences(text))
	if candidate == "" {
		return fmt.Errorf("%w: no object in response", ErrMalformedJSON)
	}
	if err := json.Unmarshal([]byte(candidate), out); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return fmt.Errorf("%w: repair: %v", ErrMalformedJSON, err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}
	return nil
}

// GenerateJSON calls p in JSON mode and decodes the response into T.
// Provider errors are returned as-is; decode errors are wrapped.
func GenerateJSON[T any](ctx context.Context, p Provider, prompt string) (T, error) {
	var out T
	text, err := p.Generate(ctx, Request{Prompt: prompt, JSON: true})
	if err != nil {
		return out, err
	}
	if err := DecodeJSON(text, &out); err != nil {
		return out, err
	}
	return out, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:] // drop the language tag line
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}

// extractObject returns the text from the first '{' to the last '}'.
// A missing closing brace returns the tail so repair can close it.
func extractObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return ""
	}
	end := strings.LastIndexByte(text, '}')
	if end < start {
		return text[start:]
	}
	return text[start : end+1]
}
