// Package config loads and validates service configuration from defaults,
// an optional YAML file, and environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Documents DocumentsConfig `mapstructure:"documents"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Auth      AuthConfig      `mapstructure:"auth"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig contains the HTTP listener settings.
type ServerConfig struct {
	ListenAddress          string `mapstructure:"listen_address"`
	MetricsAddress         string `mapstructure:"metrics_address"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	RateLimitRPS           int    `mapstructure:"rate_limit_rps"`
	RateLimitBurst         int    `mapstructure:"rate_limit_burst"`
}

// ShutdownTimeout returns the graceful shutdown window.
func (c ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// DatabaseConfig contains catalog connection settings.
type DatabaseConfig struct {
	URL             string `mapstructure:"url"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime_seconds"`
}

// DocumentsConfig locates tenant corpora on disk.
type DocumentsConfig struct {
	Root string `mapstructure:"root"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider         string        `mapstructure:"provider"`
	Model            string        `mapstructure:"model"`
	Dimensions       int           `mapstructure:"dimensions"`
	BatchMin         int           `mapstructure:"batch_min"`
	BatchMax         int           `mapstructure:"batch_max"`
	BatchConcurrency int           `mapstructure:"batch_concurrency"`
	OpenAI           OpenAIConfig  `mapstructure:"openai"`
	Bedrock          BedrockConfig `mapstructure:"bedrock"`
}

// OpenAIConfig configures the OpenAI-compatible embedding endpoint.
type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// BedrockConfig configures the AWS Bedrock embedding provider.
type BedrockConfig struct {
	Region  string `mapstructure:"region"`
	ModelID string `mapstructure:"model_id"`
}

// ChunkingConfig tunes the text chunker. Sizes are in tokens.
type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

// SyncConfig tunes sync admission, heartbeats, and cleanup. Timeout values
// are plain seconds in the environment.
type SyncConfig struct {
	BaseTimeoutSeconds       int     `mapstructure:"base_timeout_seconds"`
	PerFileTimeoutSeconds    int     `mapstructure:"per_file_timeout_seconds"`
	MinTimeoutSeconds        int     `mapstructure:"min_timeout_seconds"`
	MaxTimeoutSeconds        int     `mapstructure:"max_timeout_seconds"`
	HeartbeatIntervalSeconds int     `mapstructure:"heartbeat_interval_seconds"`
	StuckMultiplier          float64 `mapstructure:"stuck_multiplier"`
	CleanupIntervalSeconds   int     `mapstructure:"cleanup_interval_seconds"`
	Schedule                 string  `mapstructure:"schedule"`
}

func (c SyncConfig) BaseTimeout() time.Duration {
	return time.Duration(c.BaseTimeoutSeconds) * time.Second
}

func (c SyncConfig) PerFileTimeout() time.Duration {
	return time.Duration(c.PerFileTimeoutSeconds) * time.Second
}

func (c SyncConfig) MinTimeout() time.Duration {
	return time.Duration(c.MinTimeoutSeconds) * time.Second
}

func (c SyncConfig) MaxTimeout() time.Duration {
	return time.Duration(c.MaxTimeoutSeconds) * time.Second
}

func (c SyncConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

func (c SyncConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

// RetrievalConfig tunes the query path.
type RetrievalConfig struct {
	DefaultTopK         int `mapstructure:"default_top_k"`
	MaxTopK             int `mapstructure:"max_top_k"`
	QueryTimeoutSeconds int `mapstructure:"query_timeout_seconds"`
}

func (c RetrievalConfig) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}

// CacheConfig configures the optional Redis query-embedding cache. An empty
// address disables caching.
type CacheConfig struct {
	RedisAddress  string `mapstructure:"redis_address"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	TTLSeconds    int    `mapstructure:"ttl_seconds"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

func (c CacheConfig) Enabled() bool { return c.RedisAddress != "" }

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// AuthConfig holds credential handling settings. An empty JWTSecret disables
// the bearer-token path.
type AuthConfig struct {
	AdminAPIKey           string `mapstructure:"admin_api_key"`
	JWTSecret             string `mapstructure:"jwt_secret"`
	TenantCacheSize       int    `mapstructure:"tenant_cache_size"`
	TenantCacheTTLSeconds int    `mapstructure:"tenant_cache_ttl_seconds"`
}

func (c AuthConfig) TenantCacheTTL() time.Duration {
	return time.Duration(c.TenantCacheTTLSeconds) * time.Second
}

// LLMConfig selects the optional answer generator.
type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	Model    string `mapstructure:"model"`
}

// LoggingConfig controls log verbosity.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads configuration from an optional ragserver.yaml, environment
// variables, and defaults, then validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("ragserver")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/ragserver")

	setDefaults(v)
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; defaults and env vars cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_address", ":8080")
	v.SetDefault("server.metrics_address", ":8081")
	v.SetDefault("server.shutdown_timeout_seconds", 30)
	v.SetDefault("server.rate_limit_rps", 25)
	v.SetDefault("server.rate_limit_burst", 50)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime_seconds", 300)

	v.SetDefault("documents.root", "./documents")

	v.SetDefault("embedding.provider", "static")
	v.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	v.SetDefault("embedding.dimensions", 384)
	v.SetDefault("embedding.batch_min", 8)
	v.SetDefault("embedding.batch_max", 128)
	v.SetDefault("embedding.batch_concurrency", 2)
	v.SetDefault("embedding.openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.bedrock.region", "us-east-1")
	v.SetDefault("embedding.bedrock.model_id", "amazon.titan-embed-text-v2:0")

	v.SetDefault("chunking.size", 512)
	v.SetDefault("chunking.overlap", 50)

	v.SetDefault("sync.base_timeout_seconds", 300)
	v.SetDefault("sync.per_file_timeout_seconds", 10)
	v.SetDefault("sync.min_timeout_seconds", 300)
	v.SetDefault("sync.max_timeout_seconds", 7200)
	v.SetDefault("sync.heartbeat_interval_seconds", 30)
	v.SetDefault("sync.stuck_multiplier", 2.0)
	v.SetDefault("sync.cleanup_interval_seconds", 600)
	v.SetDefault("sync.schedule", "")

	v.SetDefault("retrieval.default_top_k", 5)
	v.SetDefault("retrieval.max_top_k", 50)
	v.SetDefault("retrieval.query_timeout_seconds", 30)

	v.SetDefault("cache.redis_address", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.ttl_seconds", 300)
	v.SetDefault("cache.key_prefix", "rag:")

	v.SetDefault("auth.tenant_cache_size", 1024)
	v.SetDefault("auth.tenant_cache_ttl_seconds", 15)

	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")

	v.SetDefault("logging.level", "info")
}

func bindEnvVars(v *viper.Viper) {
	v.AutomaticEnv()

	_ = v.BindEnv("server.listen_address", "SERVER_LISTEN_ADDRESS")
	_ = v.BindEnv("server.metrics_address", "METRICS_LISTEN_ADDRESS")
	_ = v.BindEnv("server.rate_limit_rps", "RATE_LIMIT_RPS")
	_ = v.BindEnv("server.rate_limit_burst", "RATE_LIMIT_BURST")

	_ = v.BindEnv("database.url", "CATALOG_URL")

	_ = v.BindEnv("documents.root", "DOCUMENTS_ROOT")

	_ = v.BindEnv("embedding.provider", "EMBEDDING_PROVIDER")
	_ = v.BindEnv("embedding.model", "EMBEDDING_MODEL")
	_ = v.BindEnv("embedding.dimensions", "EMBEDDING_DIM")
	_ = v.BindEnv("embedding.batch_min", "BATCH_MIN")
	_ = v.BindEnv("embedding.batch_max", "BATCH_MAX")
	_ = v.BindEnv("embedding.batch_concurrency", "BATCH_CONCURRENCY")
	_ = v.BindEnv("embedding.openai.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("embedding.openai.base_url", "OPENAI_BASE_URL")
	_ = v.BindEnv("embedding.bedrock.region", "AWS_REGION")
	_ = v.BindEnv("embedding.bedrock.model_id", "BEDROCK_MODEL_ID")

	_ = v.BindEnv("chunking.size", "CHUNK_SIZE")
	_ = v.BindEnv("chunking.overlap", "CHUNK_OVERLAP")

	_ = v.BindEnv("sync.base_timeout_seconds", "BASE_TIMEOUT")
	_ = v.BindEnv("sync.per_file_timeout_seconds", "PER_FILE_TIMEOUT")
	_ = v.BindEnv("sync.min_timeout_seconds", "MIN_TIMEOUT")
	_ = v.BindEnv("sync.max_timeout_seconds", "MAX_TIMEOUT")
	_ = v.BindEnv("sync.heartbeat_interval_seconds", "HEARTBEAT_INTERVAL")
	_ = v.BindEnv("sync.stuck_multiplier", "STUCK_MULTIPLIER")
	_ = v.BindEnv("sync.cleanup_interval_seconds", "CLEANUP_INTERVAL")
	_ = v.BindEnv("sync.schedule", "SYNC_SCHEDULE")

	_ = v.BindEnv("retrieval.query_timeout_seconds", "QUERY_TIMEOUT")

	_ = v.BindEnv("cache.redis_address", "REDIS_ADDRESS")
	_ = v.BindEnv("cache.redis_password", "REDIS_PASSWORD")
	_ = v.BindEnv("cache.ttl_seconds", "CACHE_TTL")

	_ = v.BindEnv("auth.admin_api_key", "ADMIN_API_KEY")
	_ = v.BindEnv("auth.jwt_secret", "JWT_SECRET")

	_ = v.BindEnv("llm.provider", "LLM_PROVIDER")
	_ = v.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = v.BindEnv("llm.base_url", "LLM_BASE_URL")
	_ = v.BindEnv("llm.model", "LLM_MODEL")

	_ = v.BindEnv("logging.level", "LOG_LEVEL")
}

// Validate checks cross-field invariants the pipeline depends on.
func Validate(cfg *Config) error {
	if cfg.Documents.Root == "" {
		return fmt.Errorf("documents root must not be empty")
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("catalog URL must not be empty")
	}
	if cfg.Auth.AdminAPIKey == "" {
		return fmt.Errorf("admin API key must not be empty")
	}
	if cfg.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Chunking.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", cfg.Chunking.Size)
	}
	if cfg.Chunking.Overlap < 0 || cfg.Chunking.Overlap >= cfg.Chunking.Size {
		return fmt.Errorf("chunk overlap must be in [0, chunk size), got %d", cfg.Chunking.Overlap)
	}
	if cfg.Embedding.BatchMin <= 0 || cfg.Embedding.BatchMax < cfg.Embedding.BatchMin {
		return fmt.Errorf("batch bounds invalid: min=%d max=%d", cfg.Embedding.BatchMin, cfg.Embedding.BatchMax)
	}
	if cfg.Embedding.BatchConcurrency <= 0 {
		return fmt.Errorf("batch concurrency must be positive, got %d", cfg.Embedding.BatchConcurrency)
	}
	if cfg.Sync.MinTimeoutSeconds > cfg.Sync.MaxTimeoutSeconds {
		return fmt.Errorf("sync timeout bounds invalid: min=%ds max=%ds", cfg.Sync.MinTimeoutSeconds, cfg.Sync.MaxTimeoutSeconds)
	}
	if cfg.Sync.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %d", cfg.Sync.HeartbeatIntervalSeconds)
	}
	if cfg.Sync.StuckMultiplier < 1 {
		return fmt.Errorf("stuck multiplier must be >= 1, got %g", cfg.Sync.StuckMultiplier)
	}
	if cfg.Sync.CleanupIntervalSeconds <= 0 {
		return fmt.Errorf("cleanup interval must be positive, got %d", cfg.Sync.CleanupIntervalSeconds)
	}

	switch cfg.Embedding.Provider {
	case "static":
	case "openai":
		if cfg.Embedding.OpenAI.APIKey == "" {
			return fmt.Errorf("openai embedding provider requires OPENAI_API_KEY")
		}
	case "bedrock":
		if cfg.Embedding.Bedrock.Region == "" || cfg.Embedding.Bedrock.ModelID == "" {
			return fmt.Errorf("bedrock embedding provider requires region and model id")
		}
	default:
		return fmt.Errorf("unknown embedding provider: %s", cfg.Embedding.Provider)
	}

	switch cfg.LLM.Provider {
	case "", "none":
	case "openai":
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("openai llm provider requires LLM_API_KEY")
		}
	default:
		return fmt.Errorf("unknown llm provider: %s", cfg.LLM.Provider)
	}

	return nil
}
