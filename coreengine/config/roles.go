package config

// Provider names.
const (
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Model roles. Each stage that calls a model asks the factory for a role.
const (
	RoleRouter             = "router"
	RoleKSelector          = "k_selector"
	RoleDirect             = "direct"
	RoleRAGGeneration      = "rag_generation"
	RoleGroundingEvaluator = "grounding_evaluator"
)

// RoleConfig binds a role to a provider model.
type RoleConfig struct {
	Provider    string  `mapstructure:"provider" validate:"oneof=groq gemini openai"`
	Model       string  `mapstructure:"model" validate:"required"`
	Temperature float64 `mapstructure:"temperature" validate:"gte=0,lte=2"`
}

// RequiredRoles lists every role the workflow uses.
func RequiredRoles() []string {
	return []string{RoleRouter, RoleKSelector, RoleDirect, RoleRAGGeneration, RoleGroundingEvaluator}
}

// DefaultRoles returns the default role table.
// Classification and k selection favour a fast model; generation and
// grounding checks run on a stronger one at temperature 0.
func DefaultRoles() map[string]RoleConfig {
	return map[string]RoleConfig{
		RoleRouter:             {Provider: ProviderGroq, Model: "llama-3.1-8b-instant", Temperature: 0},
		RoleKSelector:          {Provider: ProviderGroq, Model: "llama-3.1-8b-instant", Temperature: 0},
		RoleDirect:             {Provider: ProviderGroq, Model: "llama-3.1-8b-instant", Temperature: 0.2},
		RoleRAGGeneration:      {Provider: ProviderGemini, Model: "gemini-2.5-flash", Temperature: 0},
		RoleGroundingEvaluator: {Provider: ProviderGemini, Model: "gemini-2.5-flash", Temperature: 0},
	}
}
