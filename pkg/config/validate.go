package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	oneOf := func(field, got string, allowed ...string) {
		for _, a := range allowed {
			if got == a {
				return
			}
		}
		add("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), got)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.MaxBodySize <= 0 {
		add("server.max_body_size must be > 0, got %d", c.Server.MaxBodySize)
	}
	oneOf("logging.format", c.Logging.Format, "text", "json")

	oneOf("auth.type", c.Auth.Type, "none", "api_key", "jwt")
	switch c.Auth.Type {
	case "api_key":
		if len(c.Auth.APIKeys) == 0 {
			add("auth.api_keys must not be empty when auth.type is \"api_key\"")
		}
		for i, k := range c.Auth.APIKeys {
			if k.Key == "" {
				add("auth.api_keys[%d]: key or key_file is required", i)
			}
			if k.Subject == "" {
				add("auth.api_keys[%d]: subject is required", i)
			}
		}
	case "jwt":
		if c.Auth.JWT.JWKSURL == "" {
			add("auth.jwt.jwks_url is required when auth.type is \"jwt\"")
		}
	}
	if c.Auth.RateLimit.RequestsPerMinute < 0 {
		add("auth.rate_limit.requests_per_minute must be >= 0")
	}

	oneOf("embedding.provider", c.Embedding.Provider, "openaicompat", "openai")
	if c.Embedding.Provider == "openaicompat" && c.Embedding.URL == "" {
		add("embedding.url is required for the openaicompat provider")
	}
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		add("embedding.api_key is required for the openai provider")
	}
	if c.Embedding.Model == "" {
		add("embedding.model is required")
	}
	if c.Embedding.Dimensions < 0 {
		add("embedding.dimensions must be >= 0, got %d", c.Embedding.Dimensions)
	}
	if c.Embedding.BatchSize <= 0 {
		add("embedding.batch_size must be > 0, got %d", c.Embedding.BatchSize)
	}

	oneOf("vectorstore.backend", c.VectorStore.Backend, "memory", "qdrant", "pgvector")
	if c.VectorStore.Backend == "pgvector" && c.VectorStore.Postgres.DSN == "" {
		add("vectorstore.postgres.dsn or dsn_file is required for the pgvector backend")
	}

	p := c.Pipeline
	if p.MaxChunkSize <= 0 {
		add("pipeline.max_chunk_size must be > 0, got %d", p.MaxChunkSize)
	}
	if p.OverlapSize < 0 || p.OverlapSize >= p.MaxChunkSize {
		add("pipeline.overlap_size must be >= 0 and < max_chunk_size, got %d", p.OverlapSize)
	}
	if p.TopK < 0 {
		add("pipeline.top_k must be >= 0, got %d", p.TopK)
	}
	if p.MinScore < -1 || p.MinScore > 1 {
		add("pipeline.min_score must be within [-1, 1], got %g", p.MinScore)
	}
	if p.Workers < 0 || p.QueueSize < 0 {
		add("pipeline.workers and pipeline.queue_size must be >= 0")
	}

	if c.Observability.Metrics.Enabled && !strings.HasPrefix(c.Observability.Metrics.Path, "/") {
		add("observability.metrics.path must start with /, got %q", c.Observability.Metrics.Path)
	}
	if c.MCP.Enabled && !strings.HasPrefix(c.MCP.Path, "/") {
		add("mcp.path must start with /, got %q", c.MCP.Path)
	}

	return errors.Join(errs...)
}
