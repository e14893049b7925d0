package llm

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to a provider with a token bucket.
// Waiting for a token honours ctx; a cancelled wait is reported as a
// connection failure.
type RateLimited struct {
	next    Provider
	limiter *rate.Limiter
}

// NewRateLimited wraps next. rps <= 0 disables throttling.
func NewRateLimited(next Provider, rps float64, burst int) *RateLimited {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) ProviderName() string {
	name, _ := describe(r.next)
	return name
}

func (r *RateLimited) ModelName() string {
	_, model := describe(r.next)
	return model
}

// Generate implements Provider.
func (r *RateLimited) Generate(ctx context.Context, req Request) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", Classify(r.ProviderName(), err)
	}
	return r.next.Generate(ctx, req)
}
