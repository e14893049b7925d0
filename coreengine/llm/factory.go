package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/jeeves-cluster-organization/groundedrag/coreengine/config"
)

// Factory builds one Provider per role and caches it.
// Providers for the same backend share a rate limiter.
type Factory struct {
	settings *config.Settings

	mu        sync.Mutex
	providers map[string]Provider
	limiters  map[string]*RateLimited
}

// NewFactory creates a factory for the role table in settings.
func NewFactory(settings *config.Settings) *Factory {
	return &Factory{
		settings:  settings,
		providers: make(map[string]Provider),
		limiters:  make(map[string]*RateLimited),
	}
}

// ForRole returns the instrumented, rate-limited provider for role.
func (f *Factory) ForRole(ctx context.Context, role string) (Provider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if p, ok := f.providers[role]; ok {
		return p, nil
	}

	rc := f.settings.Role(role)
	base, err := f.build(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("role %s: %w", role, err)
	}

	limited := NewRateLimited(base, f.settings.RateLimit.RequestsPerSecond, f.settings.RateLimit.Burst)
	if shared, ok := f.limiters[rc.Provider]; ok {
		limited.limiter = shared.limiter
	} else {
		f.limiters[rc.Provider] = limited
	}

	p := NewInstrumented(limited)
	f.providers[role] = p
	return p, nil
}

func (f *Factory) build(ctx context.Context, rc config.RoleConfig) (Provider, error) {
	key := f.settings.APIKey(rc.Provider)
	switch rc.Provider {
	case config.ProviderGroq:
		return NewOpenAIProvider(config.ProviderGroq, key, GroqBaseURL, rc.Model, rc.Temperature), nil
	case config.ProviderOpenAI:
		return NewOpenAIProvider(config.ProviderOpenAI, key, "", rc.Model, rc.Temperature), nil
	case config.ProviderGemini:
		return NewGeminiProvider(ctx, key, rc.Model, rc.Temperature)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, rc.Provider)
	}
}
