package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start main server.
type Profile struct {
	// Embedding configuration (OpenAI-compatible protocol)
	EmbeddingProvider   string // openai, siliconflow, ollama
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int
	VisionModel         string // chat model used to describe snap images
	EmbedTimeoutSeconds int    // per-call timeout on the request path

	// Vector index configuration
	VectorBackend string // memory, qdrant, pgvector
	QdrantHost    string
	QdrantPort    int
	QdrantAPIKey  string
	QdrantUseTLS  bool

	// Freshness and refresh configuration
	EmbeddingTTLHours      int
	RefreshIntervalMinutes int
	RefreshConcurrency     int
	RefreshEntityTimeout   int // seconds
	RefreshRatePerSecond   int

	// Other configurations
	Mode        string
	DSN         string
	Driver      string
	Version     string
	Addr        string
	Data        string
	UserHeader  string // header carrying the authenticated user id
	Port        int
	AIEnabled   bool
	RefreshCron bool
}

// Provider default configurations for embeddings.
// Used when LADCHAT_EMBEDDING_BASE_URL is not explicitly set.
var embeddingProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "text-embedding-3-small",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "BAAI/bge-m3",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "nomic-embed-text",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an embedding API key is configured or the provider needs none.
func (p *Profile) IsAIEnabled() bool {
	return p.EmbeddingAPIKey != "" || p.EmbeddingProvider == "ollama"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.EmbeddingProvider = getEnvOrDefault("LADCHAT_EMBEDDING_PROVIDER", "openai")
	p.EmbeddingAPIKey = getEnvOrDefault("LADCHAT_EMBEDDING_API_KEY", os.Getenv("OPENAI_API_KEY"))
	p.EmbeddingBaseURL = getEnvOrDefault("LADCHAT_EMBEDDING_BASE_URL", "")
	p.EmbeddingModel = getEnvOrDefault("LADCHAT_EMBEDDING_MODEL", "")
	p.EmbeddingDimensions = getEnvOrDefaultInt("LADCHAT_EMBEDDING_DIMENSIONS", 1536)
	p.VisionModel = getEnvOrDefault("LADCHAT_VISION_MODEL", "gpt-4o-mini")
	p.EmbedTimeoutSeconds = getEnvOrDefaultInt("LADCHAT_EMBED_TIMEOUT_SECONDS", 10)

	if _, ok := embeddingProviderDefaults[p.EmbeddingProvider]; !ok {
		slog.Warn("Unknown embedding provider, using default: openai", "provider", p.EmbeddingProvider)
		p.EmbeddingProvider = "openai"
	}
	defaults := embeddingProviderDefaults[p.EmbeddingProvider]
	if p.EmbeddingBaseURL == "" {
		p.EmbeddingBaseURL = defaults.BaseURL
	}
	if p.EmbeddingModel == "" {
		p.EmbeddingModel = defaults.Model
	}

	p.AIEnabled = p.IsAIEnabled()

	p.VectorBackend = getEnvOrDefault("LADCHAT_VECTOR_BACKEND", "memory")
	p.QdrantHost = getEnvOrDefault("LADCHAT_QDRANT_HOST", "localhost")
	p.QdrantPort = getEnvOrDefaultInt("LADCHAT_QDRANT_PORT", 6334)
	p.QdrantAPIKey = getEnvOrDefault("LADCHAT_QDRANT_API_KEY", "")
	p.QdrantUseTLS = getEnvOrDefault("LADCHAT_QDRANT_TLS", "false") == "true"

	p.EmbeddingTTLHours = getEnvOrDefaultInt("LADCHAT_EMBEDDING_TTL_HOURS", 24)
	p.RefreshIntervalMinutes = getEnvOrDefaultInt("LADCHAT_REFRESH_INTERVAL_MINUTES", 60)
	p.RefreshConcurrency = getEnvOrDefaultInt("LADCHAT_REFRESH_CONCURRENCY", 4)
	p.RefreshEntityTimeout = getEnvOrDefaultInt("LADCHAT_REFRESH_ENTITY_TIMEOUT_SECONDS", 30)
	p.RefreshRatePerSecond = getEnvOrDefaultInt("LADCHAT_REFRESH_RATE_PER_SECOND", 5)
	p.RefreshCron = getEnvOrDefault("LADCHAT_REFRESH_ENABLED", "true") == "true"

	p.UserHeader = getEnvOrDefault("LADCHAT_USER_HEADER", "X-User-ID")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	switch p.VectorBackend {
	case "", "memory", "qdrant", "pgvector":
	default:
		return errors.Errorf("unsupported vector backend: %s", p.VectorBackend)
	}
	if p.VectorBackend == "pgvector" && p.Driver != "postgres" {
		return errors.New("pgvector backend requires the postgres driver")
	}
	if p.EmbeddingDimensions <= 0 {
		return errors.Errorf("invalid embedding dimensions: %d", p.EmbeddingDimensions)
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "ladchat")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/ladchat"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		p.DSN = filepath.Join(dataDir, fmt.Sprintf("ladchat_%s.db", p.Mode))
	}

	return nil
}
