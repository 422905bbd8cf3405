package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dshills/chiprank/internal/embedder"
	"github.com/dshills/chiprank/internal/retrieval"
)

// Environment variables that override file settings.
const (
	EnvDBPath            = "CHIPRANK_DB_PATH"
	EnvEmbeddingProvider = "CHIPRANK_EMBEDDING_PROVIDER"
	EnvEmbeddingModel    = "CHIPRANK_EMBEDDING_MODEL"
	EnvRulesPath         = "CHIPRANK_RULES_PATH"
	EnvLogLevel          = "CHIPRANK_LOG_LEVEL"
	EnvIndexBackend      = "CHIPRANK_INDEX_BACKEND"
	EnvMetricsAddr       = "CHIPRANK_METRICS_ADDR"
)

// Index backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the complete chiprank configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Ranking   RankingConfig   `yaml:"ranking"`
	Index     IndexConfig     `yaml:"index"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// DatabaseConfig locates the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// EmbeddingConfig selects the embedding provider.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // local, openai, jina; empty auto-detects
	APIKey    string `yaml:"api_key,omitempty"`
	Model     string `yaml:"model,omitempty"`
	CacheSize int    `yaml:"cache_size"`
}

// RankingConfig holds the ranking engine parameters.
type RankingConfig struct {
	RulesPath          string  `yaml:"rules_path"`
	CandidatePool      int     `yaml:"candidate_pool"`
	DefaultLimit       int     `yaml:"default_limit"`
	MaxLimit           int     `yaml:"max_limit"`
	BlandThreshold     float64 `yaml:"bland_threshold"`
	DiversityCap       int     `yaml:"diversity_cap"`
	NarrowDiversityCap int     `yaml:"narrow_diversity_cap"`
	SimilarityWeight   float64 `yaml:"similarity_weight"`
	UseSimilarity      bool    `yaml:"use_similarity"`
	MinScore           float64 `yaml:"min_score"`
	Workers            int     `yaml:"workers"`
}

// IndexConfig controls candidate search and indexing.
type IndexConfig struct {
	Backend         string        `yaml:"backend"` // sqlite, memory
	BatchSize       int           `yaml:"batch_size"`
	Workers         int           `yaml:"workers"`
	CacheSize       int           `yaml:"cache_size"` // Cached candidate pools; 0 disables
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	RefreshInterval time.Duration `yaml:"refresh_interval"` // Check for chips indexed by another process; 0 disables
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	engine := retrieval.DefaultConfig()
	return &Config{
		Database: DatabaseConfig{
			Path: "~/.chiprank/chiprank.db",
		},
		Embedding: EmbeddingConfig{
			CacheSize: embedder.DefaultCacheSize,
		},
		Ranking: RankingConfig{
			CandidatePool:      engine.CandidatePool,
			DefaultLimit:       engine.DefaultLimit,
			MaxLimit:           engine.MaxLimit,
			BlandThreshold:     engine.BlandThreshold,
			DiversityCap:       engine.DiversityCap,
			NarrowDiversityCap: engine.NarrowDiversityCap,
			SimilarityWeight:   engine.SimilarityWeight,
			UseSimilarity:      engine.UseSimilarity,
			MinScore:           engine.MinScore,
			Workers:            engine.Workers,
		},
		Index: IndexConfig{
			Backend:         BackendSQLite,
			BatchSize:       32,
			CacheSize:       1000,
			CacheTTL:        time.Hour,
			RefreshInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:9464",
		},
	}
}

// DefaultPath returns ~/.chiprank/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chiprank.yaml"
	}
	return filepath.Join(home, ".chiprank", "config.yaml")
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case os.IsNotExist(err):
			// Defaults
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file. API keys are not written.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *c
	out.Embedding.APIKey = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvEmbeddingProvider); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv(EnvEmbeddingModel); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv(EnvRulesPath); v != "" {
		c.Ranking.RulesPath = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvIndexBackend); v != "" {
		c.Index.Backend = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		c.Metrics.Addr = v
	}

	// API key only when none is configured; the matching provider wins
	if c.Embedding.APIKey == "" {
		switch strings.ToLower(c.Embedding.Provider) {
		case embedder.ProviderJina:
			c.Embedding.APIKey = os.Getenv(embedder.EnvJinaAPIKey)
		case embedder.ProviderOpenAI:
			c.Embedding.APIKey = os.Getenv(embedder.EnvOpenAIAPIKey)
		}
	}
}

var (
	validProviders = []string{"", embedder.ProviderLocal, embedder.ProviderOpenAI, embedder.ProviderJina}
	validBackends  = []string{BackendSQLite, BackendMemory}
	validLevels    = []string{"debug", "info", "warn", "error"}
	validFormats   = []string{"json", "console"}
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if strings.TrimSpace(c.Database.Path) == "" {
		add("database.path is empty")
	}
	if !contains(validProviders, strings.ToLower(c.Embedding.Provider)) {
		add("embedding.provider %q (valid: local, openai, jina)", c.Embedding.Provider)
	}
	if c.Embedding.CacheSize < 0 {
		add("embedding.cache_size must not be negative")
	}

	r := c.Ranking
	if r.CandidatePool <= 0 {
		add("ranking.candidate_pool must be positive")
	}
	if r.DefaultLimit <= 0 || r.MaxLimit <= 0 || r.DefaultLimit > r.MaxLimit {
		add("ranking.default_limit %d must be in [1, max_limit %d]", r.DefaultLimit, r.MaxLimit)
	}
	if r.BlandThreshold < 0 || r.BlandThreshold > 4 {
		add("ranking.bland_threshold %.2f out of range [0, 4]", r.BlandThreshold)
	}
	if r.DiversityCap < 0 || r.NarrowDiversityCap < 0 {
		add("ranking diversity caps must not be negative")
	}
	if r.SimilarityWeight < 0 {
		add("ranking.similarity_weight must not be negative")
	}
	if r.MinScore < 0 {
		add("ranking.min_score must not be negative")
	}
	if r.Workers < 0 {
		add("ranking.workers must not be negative")
	}

	if !contains(validBackends, c.Index.Backend) {
		add("index.backend %q (valid: sqlite, memory)", c.Index.Backend)
	}
	if c.Index.BatchSize <= 0 || c.Index.BatchSize > embedder.MaxBatchSize {
		add("index.batch_size %d must be in [1, %d]", c.Index.BatchSize, embedder.MaxBatchSize)
	}
	if c.Index.Workers < 0 {
		add("index.workers must not be negative")
	}
	if c.Index.CacheSize < 0 || c.Index.CacheTTL < 0 {
		add("index cache size and ttl must not be negative")
	}
	if c.Index.RefreshInterval < 0 {
		add("index.refresh_interval must not be negative")
	}

	if !contains(validLevels, strings.ToLower(c.Logging.Level)) {
		add("logging.level %q", c.Logging.Level)
	}
	if !contains(validFormats, strings.ToLower(c.Logging.Format)) {
		add("logging.format %q (valid: json, console)", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			add("metrics.addr %q: %v", c.Metrics.Addr, err)
		}
	}

	return errors.Join(errs...)
}

// DatabasePath returns the database path with a leading ~ expanded.
func (c *Config) DatabasePath() (string, error) {
	return expandHome(c.Database.Path)
}

// EngineConfig converts the ranking section for the retrieval engine.
func (c *Config) EngineConfig() retrieval.Config {
	r := c.Ranking
	return retrieval.Config{
		CandidatePool:      r.CandidatePool,
		DefaultLimit:       r.DefaultLimit,
		MaxLimit:           r.MaxLimit,
		BlandThreshold:     r.BlandThreshold,
		DiversityCap:       r.DiversityCap,
		NarrowDiversityCap: r.NarrowDiversityCap,
		SimilarityWeight:   r.SimilarityWeight,
		UseSimilarity:      r.UseSimilarity,
		MinScore:           r.MinScore,
		Workers:            r.Workers,
	}
}

// EmbedderConfig converts the embedding section for the embedder factory.
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Provider:  c.Embedding.Provider,
		APIKey:    c.Embedding.APIKey,
		Model:     c.Embedding.Model,
		CacheSize: c.Embedding.CacheSize,
	}
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
