package ai

import (
	"errors"
	"time"

	"github.com/mcbagz/ladchat/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	Embedding EmbeddingConfig
	Index     IndexConfig
	Refresh   RefreshConfig
	Enabled   bool
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Dimensions  int
	VisionModel string
	// Timeout bounds a single embedder call on the request path.
	Timeout time.Duration
	TTL     time.Duration
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Backend    string // memory, qdrant, pgvector
	QdrantHost string
	QdrantPort int
	QdrantKey  string
	QdrantTLS  bool
}

// RefreshConfig configures the background refresh sweep.
type RefreshConfig struct {
	Enabled       bool
	Interval      time.Duration
	Concurrency   int
	EntityTimeout time.Duration
	RatePerSecond int
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.AIEnabled,
		Embedding: EmbeddingConfig{
			Provider:    p.EmbeddingProvider,
			Model:       p.EmbeddingModel,
			APIKey:      p.EmbeddingAPIKey,
			BaseURL:     p.EmbeddingBaseURL,
			Dimensions:  p.EmbeddingDimensions,
			VisionModel: p.VisionModel,
			Timeout:     seconds(p.EmbedTimeoutSeconds, 10),
			TTL:         time.Duration(p.EmbeddingTTLHours) * time.Hour,
		},
		Index: IndexConfig{
			Backend:    p.VectorBackend,
			QdrantHost: p.QdrantHost,
			QdrantPort: p.QdrantPort,
			QdrantKey:  p.QdrantAPIKey,
			QdrantTLS:  p.QdrantUseTLS,
		},
		Refresh: RefreshConfig{
			Enabled:       p.RefreshCron,
			Interval:      time.Duration(p.RefreshIntervalMinutes) * time.Minute,
			Concurrency:   p.RefreshConcurrency,
			EntityTimeout: seconds(p.RefreshEntityTimeout, 30),
			RatePerSecond: p.RefreshRatePerSecond,
		},
	}

	if cfg.Index.Backend == "" {
		cfg.Index.Backend = "memory"
	}
	if cfg.Refresh.Interval <= 0 {
		cfg.Refresh.Interval = time.Hour
	}
	if cfg.Refresh.Concurrency <= 0 {
		cfg.Refresh.Concurrency = 4
	}

	return cfg
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Embedding.Provider == "" {
		return errors.New("embedding provider is required")
	}

	if c.Embedding.Provider != "ollama" && c.Embedding.APIKey == "" {
		return errors.New("embedding API key is required")
	}

	if c.Embedding.Dimensions <= 0 {
		return errors.New("embedding dimensions must be positive")
	}

	switch c.Index.Backend {
	case "memory", "pgvector":
	case "qdrant":
		if c.Index.QdrantHost == "" {
			return errors.New("qdrant host is required")
		}
	default:
		return errors.New("unsupported vector backend: " + c.Index.Backend)
	}

	return nil
}
