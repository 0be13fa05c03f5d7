package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "QUELLE_"

// searchPaths are tried in order when no path is given.
var searchPaths = []string{"config.yaml", "config.toml", "/etc/quelle/config.yaml"}

// Load builds the configuration. configPath may be empty, in which case
// QUELLE_CONFIG and then the search paths are consulted. A missing
// config file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if path := discoverConfigFile(configPath); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := resolveSecrets(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
		return p
	}
	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadFile decodes path over cfg. Fields absent from the file keep their
// current values.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return decodeTOML(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

// decodeTOML parses TOML into a generic tree and feeds it through the
// YAML decoder, so one set of field tags and the duration parsing serve
// both formats.
func decodeTOML(data []byte, cfg *Config) error {
	var tree map[string]any
	if err := toml.Unmarshal(data, &tree); err != nil {
		return err
	}
	bridged, err := yaml.Marshal(tree)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(bridged, cfg)
}

type lookupFunc func(string) (string, bool)

// envBinding maps one variable to a setter.
type envBinding struct {
	name string
	set  func(cfg *Config, v string) error
}

func str(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func integer(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

var envBindings = []envBinding{
	{"PORT", integer(func(c *Config) *int { return &c.Server.Port })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},
	{"LOG_FORMAT", str(func(c *Config) *string { return &c.Logging.Format })},
	{"AUTH_TYPE", str(func(c *Config) *string { return &c.Auth.Type })},
	{"AUTH_TENANT", str(func(c *Config) *string { return &c.Auth.Tenant })},
	{"JWKS_URL", str(func(c *Config) *string { return &c.Auth.JWT.JWKSURL })},
	{"EMBEDDING_PROVIDER", str(func(c *Config) *string { return &c.Embedding.Provider })},
	{"EMBEDDING_URL", str(func(c *Config) *string { return &c.Embedding.URL })},
	{"EMBEDDING_MODEL", str(func(c *Config) *string { return &c.Embedding.Model })},
	{"EMBEDDING_API_KEY", str(func(c *Config) *string { return &c.Embedding.APIKey })},
	{"EMBEDDING_DIMENSIONS", integer(func(c *Config) *int { return &c.Embedding.Dimensions })},
	{"COMPLETION_URL", str(func(c *Config) *string { return &c.Completion.URL })},
	{"COMPLETION_MODEL", str(func(c *Config) *string { return &c.Completion.Model })},
	{"COMPLETION_API_KEY", str(func(c *Config) *string { return &c.Completion.APIKey })},
	{"VECTORSTORE_BACKEND", str(func(c *Config) *string { return &c.VectorStore.Backend })},
	{"QDRANT_URL", str(func(c *Config) *string { return &c.VectorStore.Qdrant.URL })},
	{"QDRANT_API_KEY", str(func(c *Config) *string { return &c.VectorStore.Qdrant.APIKey })},
	{"POSTGRES_DSN", str(func(c *Config) *string { return &c.VectorStore.Postgres.DSN })},
	{"SPLIT_STRATEGY", str(func(c *Config) *string { return &c.Pipeline.Strategy })},
	{"TOP_K", integer(func(c *Config) *int { return &c.Pipeline.TopK })},
	{"WORKERS", integer(func(c *Config) *int { return &c.Pipeline.Workers })},
	{"API_KEYS", func(c *Config, v string) error {
		var keys []APIKeyConfig
		if err := json.Unmarshal([]byte(v), &keys); err != nil {
			return err
		}
		c.Auth.APIKeys = keys
		return nil
	}},
	{"MCP_ENABLED", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		c.MCP.Enabled = b
		return nil
	}},
}

// applyEnv applies every set, non-empty QUELLE_* variable.
func applyEnv(cfg *Config, lookup lookupFunc) error {
	for _, b := range envBindings {
		v, ok := lookup(EnvPrefix + b.name)
		if !ok || v == "" {
			continue
		}
		if err := b.set(cfg, v); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, b.name, err)
		}
	}
	return nil
}

// resolveSecrets fills empty values from their *_file companions. An
// explicit value always wins.
func resolveSecrets(cfg *Config) error {
	refs := []struct {
		name  string
		file  string
		value *string
	}{
		{"embedding.api_key_file", cfg.Embedding.APIKeyFile, &cfg.Embedding.APIKey},
		{"completion.api_key_file", cfg.Completion.APIKeyFile, &cfg.Completion.APIKey},
		{"vectorstore.qdrant.api_key_file", cfg.VectorStore.Qdrant.APIKeyFile, &cfg.VectorStore.Qdrant.APIKey},
		{"vectorstore.postgres.dsn_file", cfg.VectorStore.Postgres.DSNFile, &cfg.VectorStore.Postgres.DSN},
	}
	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		refs = append(refs, struct {
			name  string
			file  string
			value *string
		}{fmt.Sprintf("auth.api_keys[%d].key_file", i), k.KeyFile, &k.Key})
	}

	for _, r := range refs {
		if r.file == "" || *r.value != "" {
			continue
		}
		v, err := readSecretFile(r.file)
		if err != nil {
			return fmt.Errorf("%s: %w", r.name, err)
		}
		*r.value = v
	}

	// The prompt template is not a secret but follows the same rule.
	if p := cfg.Pipeline.SystemPromptFile; p != "" && cfg.Pipeline.SystemPrompt == "" {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("pipeline.system_prompt_file: %w", err)
		}
		cfg.Pipeline.SystemPrompt = string(data)
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
