// Package config loads the quelle server configuration.
//
// Sources are layered: built-in defaults, then a YAML or TOML file, then
// QUELLE_* environment variables, then secrets referenced by *_file
// fields. Validation runs last.
package config

import "time"

// Config holds all configuration for the quelle server.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Logging       LoggingConfig       `yaml:"logging"`
	Auth          AuthConfig          `yaml:"auth"`
	Embedding     EmbeddingConfig     `yaml:"embedding"`
	Completion    CompletionConfig    `yaml:"completion"`
	VectorStore   VectorStoreConfig   `yaml:"vectorstore"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Observability ObservabilityConfig `yaml:"observability"`
	MCP           MCPConfig           `yaml:"mcp"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"` // 0 keeps answer streams open
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodySize     int64         `yaml:"max_body_size"`
}

// LoggingConfig selects the log level, format and debug categories.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	Debug  string `yaml:"debug"`  // comma separated categories, "all"
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	Type       string          `yaml:"type"` // none, api_key, jwt
	Tenant     string          `yaml:"tenant"`
	WriteScope string          `yaml:"write_scope"`
	APIKeys    []APIKeyConfig  `yaml:"api_keys"`
	JWT        JWTConfig       `yaml:"jwt"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
}

// APIKeyConfig describes a single API key.
type APIKeyConfig struct {
	Key         string   `yaml:"key" json:"key"`
	KeyFile     string   `yaml:"key_file" json:"key_file"`
	Subject     string   `yaml:"subject" json:"subject"`
	TenantID    string   `yaml:"tenant_id" json:"tenant_id"`
	ServiceTier string   `yaml:"service_tier" json:"service_tier"`
	Scopes      []string `yaml:"scopes" json:"scopes"`
}

// JWTConfig configures bearer token validation against a JWKS endpoint.
type JWTConfig struct {
	Issuer      string        `yaml:"issuer"`
	Audience    string        `yaml:"audience"`
	JWKSURL     string        `yaml:"jwks_url"`
	UserClaim   string        `yaml:"user_claim"`
	TenantClaim string        `yaml:"tenant_claim"`
	TierClaim   string        `yaml:"tier_claim"`
	ScopesClaim string        `yaml:"scopes_claim"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// RateLimitConfig holds per-tier request rates. A zero default disables
// limiting for tiers without an entry.
type RateLimitConfig struct {
	RequestsPerMinute int                   `yaml:"requests_per_minute"`
	Tiers             map[string]TierConfig `yaml:"tiers"`
}

// TierConfig is the rate of one service tier.
type TierConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// EmbeddingConfig selects the embedding endpoint.
type EmbeddingConfig struct {
	Provider    string        `yaml:"provider"` // openaicompat, openai
	URL         string        `yaml:"url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	APIKeyFile  string        `yaml:"api_key_file"`
	Dimensions  int           `yaml:"dimensions"` // 0 learns it from the first response
	BatchSize   int           `yaml:"batch_size"`
	Parallelism int           `yaml:"parallelism"`
	RateLimit   float64       `yaml:"rate_limit"` // requests per second, 0 is unlimited
	Normalize   bool          `yaml:"normalize"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CompletionConfig selects the chat completion endpoint used for answers.
type CompletionConfig struct {
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	APIKeyFile  string        `yaml:"api_key_file"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   *int          `yaml:"max_tokens"`
	Temperature *float64      `yaml:"temperature"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Backend           string         `yaml:"backend"` // memory, qdrant, pgvector
	DefaultCollection string         `yaml:"default_collection"`
	Qdrant            QdrantConfig   `yaml:"qdrant"`
	Postgres          PostgresConfig `yaml:"postgres"`
}

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	URL        string        `yaml:"url"`
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	TLS        bool          `yaml:"tls"`
	APIKey     string        `yaml:"api_key"`
	APIKeyFile string        `yaml:"api_key_file"`
	Timeout    time.Duration `yaml:"timeout"`
}

// PostgresConfig holds PostgreSQL settings for the pgvector backend.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`
	MaxConns       int32  `yaml:"max_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// PipelineConfig tunes ingestion and retrieval.
type PipelineConfig struct {
	CollectionPrefix string  `yaml:"collection_prefix"`
	Strategy         string  `yaml:"strategy"`
	MaxChunkSize     int     `yaml:"max_chunk_size"`
	OverlapSize      int     `yaml:"overlap_size"`
	TopK             int     `yaml:"top_k"`
	MinScore         float32 `yaml:"min_score"`
	SystemPrompt     string  `yaml:"system_prompt"`
	SystemPromptFile string  `yaml:"system_prompt_file"`
	// Workers sizes the ingestion pool, 0 meaning one per CPU. QueueSize 0
	// means four pending tasks per worker.
	Workers          int     `yaml:"workers"`
	QueueSize        int     `yaml:"queue_size"`
}

// ObservabilityConfig holds monitoring settings.
type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MCPConfig controls the embedded MCP server.
type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodySize:     32 << 20,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Auth:    AuthConfig{Type: "none"},
		Embedding: EmbeddingConfig{
			Provider:    "openaicompat",
			BatchSize:   64,
			Parallelism: 2,
			Timeout:     60 * time.Second,
		},
		Completion: CompletionConfig{Timeout: 120 * time.Second},
		VectorStore: VectorStoreConfig{
			Backend:           "memory",
			DefaultCollection: "quelle_default",
			Qdrant:            QdrantConfig{Host: "localhost", Port: 6333},
			Postgres:          PostgresConfig{MaxConns: 10},
		},
		Pipeline: PipelineConfig{
			CollectionPrefix: "quelle",
			Strategy:         "character",
			MaxChunkSize:     1000,
			OverlapSize:      100,
			TopK:             4,
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
		},
		MCP: MCPConfig{Path: "/mcp"},
	}
}
