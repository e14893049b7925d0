package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/envelope"
)

// ErrUnknownProvider is returned by the factory for an unsupported provider name.
var ErrUnknownProvider = errors.New("unknown llm provider")

// ErrEmptyResponse is returned when a backend answers without content.
var ErrEmptyResponse = errors.New("empty model response")

// ProviderError is a classified model-call failure.
type ProviderError struct {
	Provider string
	Kind     envelope.FailureReason
	Code     int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s provider error (%s, status %d): %s", e.Provider, e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s provider error (%s): %s", e.Provider, e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// RateLimited reports whether the failure was a 429-like rejection.
func (e *ProviderError) RateLimited() bool {
	return e.Kind == envelope.FailureRateLimited
}

var rateLimitMarkers = []string{"429", "rate limit", "rate_limit", "too many requests", "resource_exhausted", "quota"}

// Classify wraps err as a *ProviderError. HTTP 429 and rate-limit messages
// become FailureRateLimited; everything else is FailureConnectionFailure.
// An existing *ProviderError is returned unchanged.
func Classify(provider string, err error) *ProviderError {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}

	code := statusCode(err)
	kind := envelope.FailureConnectionFailure
	if code == http.StatusTooManyRequests {
		kind = envelope.FailureRateLimited
	} else {
		msg := strings.ToLower(err.Error())
		for _, marker := range rateLimitMarkers {
			if strings.Contains(msg, marker) {
				kind = envelope.FailureRateLimited
				break
			}
		}
	}

	return &ProviderError{
		Provider: provider,
		Kind:     kind,
		Code:     code,
		Message:  err.Error(),
		Err:      err,
	}
}

// AsProviderError extracts a *ProviderError from err.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// statusCode digs the HTTP status out of vendor error types.
func statusCode(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return genaiErr.Code
	}
	var genaiPtr *genai.APIError
	if errors.As(err, &genaiPtr) && genaiPtr != nil {
		return genaiPtr.Code
	}
	return 0
}
