package embedder

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// Environment variables read by the factory
const (
	EnvProvider     = "CHIPRANK_EMBEDDING_PROVIDER"
	EnvJinaAPIKey   = "JINA_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
)

// Config selects and configures a provider.
type Config struct {
	Provider  string // jina, openai, local; empty auto-detects
	APIKey    string // Falls back to the provider's environment variable
	Model     string
	CacheSize int // Zero disables the cache
}

// New creates an embedder from cfg. An empty provider is resolved with
// DetectProvider.
func New(cfg Config, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var cache *Cache
	if cfg.CacheSize > 0 {
		cache = NewCache(cfg.CacheSize)
	}

	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = DetectProvider()
	}

	switch provider {
	case ProviderJina:
		return NewJinaProvider(apiKey(cfg.APIKey, EnvJinaAPIKey), cfg.Model, cache, logger)
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey(cfg.APIKey, EnvOpenAIAPIKey), cfg.Model, cache, logger)
	case ProviderLocal:
		return NewLocalProvider(cache), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// NewFromEnv creates an embedder configured only from the environment.
func NewFromEnv(logger *zap.Logger) (Embedder, error) {
	return New(Config{CacheSize: DefaultCacheSize}, logger)
}

// DetectProvider returns the provider selected by the environment:
// CHIPRANK_EMBEDDING_PROVIDER if set, else the first provider with an API
// key (Jina, then OpenAI), else local.
func DetectProvider() string {
	if p := os.Getenv(EnvProvider); p != "" {
		return strings.ToLower(p)
	}
	if os.Getenv(EnvJinaAPIKey) != "" {
		return ProviderJina
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}

func apiKey(explicit, env string) string {
	if explicit != "" {
		return explicit
	}
	return os.Getenv(env)
}
