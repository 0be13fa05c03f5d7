package embedding

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rhuss/quelle/pkg/api"
)

// Config selects and configures an embedding provider.
type Config struct {
	// Provider is "openaicompat" (default) or "openai".
	Provider    string
	URL         string
	APIKey      string
	Model       string
	Dimensions  int
	BatchSize   int
	Parallelism int
	RateLimit   float64
	Normalize   bool
	Timeout     time.Duration
}

// New builds a batching Client for the configured provider.
func New(cfg Config) (*Batcher, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	var p Provider
	switch cfg.Provider {
	case "", "openaicompat":
		if cfg.URL == "" {
			return nil, api.NewError(api.ErrInvalidConfiguration, "embedding.New", "url is required for openaicompat", nil)
		}
		p = NewOpenAICompat(cfg.URL, cfg.Model, cfg.APIKey, httpClient)
	case "openai":
		if cfg.APIKey == "" {
			return nil, api.NewError(api.ErrInvalidConfiguration, "embedding.New", "api_key is required for openai", nil)
		}
		p = NewOpenAI(cfg.APIKey, cfg.URL, cfg.Model, cfg.Dimensions, httpClient)
	default:
		return nil, api.NewError(api.ErrInvalidConfiguration, "embedding.New",
			fmt.Sprintf("unknown provider %q", cfg.Provider), nil)
	}

	return NewBatcher(p, Options{
		BatchSize:   cfg.BatchSize,
		Dimensions:  cfg.Dimensions,
		Parallelism: cfg.Parallelism,
		RateLimit:   cfg.RateLimit,
		Normalize:   cfg.Normalize,
	}), nil
}
