// Package config provides runtime settings and the workflow graph bounds.
//
// Settings are resolved in this order: defaults, optional YAML file,
// .env file, process environment. Provider keys keep their conventional
// names (GOOGLE_API_KEY, GROQ_API_KEY, OPENAI_API_KEY).
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ErrInvalidSettings is returned when settings fail validation.
var ErrInvalidSettings = errors.New("invalid settings")

// EnvPrefix is the prefix for environment overrides (GROUNDEDRAG_LOG_LEVEL, ...).
const EnvPrefix = "GROUNDEDRAG"

// SupportedExtensions are the corpus file types counted by doctor.
var SupportedExtensions = []string{".pdf", ".txt", ".html", ".htm", ".md"}

// RequiredEnvKeys are the provider keys doctor reports when missing.
var RequiredEnvKeys = []string{"GOOGLE_API_KEY", "GROQ_API_KEY", "OPENAI_API_KEY"}

// VectorStoreSettings selects and configures the vector index.
type VectorStoreSettings struct {
	Backend        string `mapstructure:"backend" validate:"oneof=chromem weaviate"`
	Path           string `mapstructure:"path"`
	Collection     string `mapstructure:"collection" validate:"required"`
	WeaviateHost   string `mapstructure:"weaviate_host" validate:"required_if=Backend weaviate"`
	WeaviateScheme string `mapstructure:"weaviate_scheme" validate:"oneof=http https"`
	QueryCacheSize int    `mapstructure:"query_cache_size" validate:"gte=0"`
}

// EmbeddingSettings configures the embedding function used by chromem.
type EmbeddingSettings struct {
	Provider  string `mapstructure:"provider" validate:"oneof=openai gemini"`
	Model     string `mapstructure:"model"`
	CacheSize int    `mapstructure:"cache_size" validate:"gte=0"`
}

// ProfileSettings selects the profile store.
type ProfileSettings struct {
	Backend string `mapstructure:"backend" validate:"oneof=file badger"`
	Path    string `mapstructure:"path" validate:"required"`
}

// LoggingSettings configures the zap logger.
type LoggingSettings struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	File  string `mapstructure:"file"`
	JSON  bool   `mapstructure:"json"`
}

// TracingSettings configures the OTLP exporter.
type TracingSettings struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	ServiceName string `mapstructure:"service_name"`
}

// ServerSettings configures the serve command.
type ServerSettings struct {
	Addr              string `mapstructure:"addr" validate:"required"`
	MetricsAddr       string `mapstructure:"metrics_addr"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" validate:"gte=0"`
	Burst             int    `mapstructure:"burst" validate:"gte=0"`
}

// RateLimitSettings bounds outgoing model calls per provider.
type RateLimitSettings struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=0"`
}

// ToolSettings toggles optional tools.
type ToolSettings struct {
	SummaryTool bool `mapstructure:"summary_tool"`
}

// Settings holds every runtime setting.
type Settings struct {
	DocsPath      string                `mapstructure:"docs_path" validate:"required"`
	MinDocs       int                   `mapstructure:"min_docs" validate:"gte=0"`
	MaxIterations int                   `mapstructure:"max_iterations" validate:"gte=0,lte=10"`
	VectorStore   VectorStoreSettings   `mapstructure:"vector_store"`
	Embedding     EmbeddingSettings     `mapstructure:"embedding"`
	Profile       ProfileSettings       `mapstructure:"profile"`
	Logging       LoggingSettings       `mapstructure:"logging"`
	Tracing       TracingSettings       `mapstructure:"tracing"`
	Server        ServerSettings        `mapstructure:"server"`
	RateLimit     RateLimitSettings     `mapstructure:"rate_limit"`
	Tools         ToolSettings          `mapstructure:"tools"`
	Roles         map[string]RoleConfig `mapstructure:"roles" validate:"dive"`

	GoogleAPIKey string `mapstructure:"google_api_key"`
	GroqAPIKey   string `mapstructure:"groq_api_key"`
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
}

// setDefaults registers every default on v.
func setDefaults(v *viper.Viper) {
	v.SetDefault("docs_path", "docs")
	v.SetDefault("min_docs", 50)
	v.SetDefault("max_iterations", 2)

	v.SetDefault("vector_store.backend", "chromem")
	v.SetDefault("vector_store.path", "db/chroma_db")
	v.SetDefault("vector_store.collection", "normativa")
	v.SetDefault("vector_store.weaviate_scheme", "http")
	v.SetDefault("vector_store.query_cache_size", 256)

	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.cache_size", 10000)

	v.SetDefault("profile.backend", "file")
	v.SetDefault("profile.path", "db/memory.json")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.json", false)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.service_name", "groundedrag")

	v.SetDefault("server.addr", ":50051")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.requests_per_minute", 60)
	v.SetDefault("server.burst", 10)

	v.SetDefault("rate_limit.requests_per_second", 2.0)
	v.SetDefault("rate_limit.burst", 4)

	v.SetDefault("tools.summary_tool", true)

	for name, role := range DefaultRoles() {
		prefix := "roles." + name + "."
		v.SetDefault(prefix+"provider", role.Provider)
		v.SetDefault(prefix+"model", role.Model)
		v.SetDefault(prefix+"temperature", role.Temperature)
	}
}

// bindLegacyEnv binds the historical environment names.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"docs_path":         {EnvPrefix + "_DOCS_PATH", "UNAL_RAG_DOCS_PATH"},
		"vector_store.path": {EnvPrefix + "_VECTOR_STORE_PATH", "UNAL_RAG_VECTORSTORE_PATH"},
		"min_docs":          {EnvPrefix + "_MIN_DOCS", "UNAL_RAG_MIN_DOCS"},
		"google_api_key":    {"GOOGLE_API_KEY"},
		"groq_api_key":      {"GROQ_API_KEY"},
		"openai_api_key":    {"OPENAI_API_KEY"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

// LoadSettings resolves settings. configFile may be empty, in which case
// groundedrag.yaml is looked up in . and ./config and is optional.
func LoadSettings(configFile string) (*Settings, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("groundedrag")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks struct constraints and the role table.
func (s *Settings) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	for _, name := range RequiredRoles() {
		if _, ok := s.Roles[name]; !ok {
			return fmt.Errorf("%w: missing llm role %q", ErrInvalidSettings, name)
		}
	}
	return nil
}

// Role returns the model configuration for a role, falling back to the defaults.
func (s *Settings) Role(name string) RoleConfig {
	if role, ok := s.Roles[name]; ok {
		return role
	}
	return DefaultRoles()[name]
}

// APIKey returns the key for a provider name.
func (s *Settings) APIKey(provider string) string {
	switch provider {
	case ProviderGemini:
		return s.GoogleAPIKey
	case ProviderGroq:
		return s.GroqAPIKey
	case ProviderOpenAI:
		return s.OpenAIAPIKey
	default:
		return ""
	}
}
