// Package config loads ARIA's configuration from the environment, after an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the ARIA service.
type Config struct {
	Port     int      `env:"ARIA_PORT" envDefault:"8080"`
	Version  string   `env:"ARIA_VERSION" envDefault:"0.1.0"`
	APIKeys  []string `env:"ARIA_API_KEYS" envSeparator:","`
	LogLevel string   `env:"ARIA_LOG_LEVEL" envDefault:"info"`

	Local      LocalConfig
	OnDevice   OnDeviceConfig
	Invocation InvocationConfig
	Pipeline   PipelineConfig
	Storage    StorageConfig
	Knowledge  KnowledgeConfig
	Telemetry  TelemetryConfig
}

// LocalConfig is the zero-credential default provider.
type LocalConfig struct {
	BaseURL     string `env:"ARIA_LOCAL_BASE_URL" envDefault:"http://localhost:11434/v1"`
	Model       string `env:"ARIA_LOCAL_MODEL" envDefault:"llama3.2"`
	RouterModel string `env:"ARIA_LOCAL_ROUTER_MODEL"`
}

// OnDeviceConfig controls the last-resort in-process engine.
type OnDeviceConfig struct {
	Enabled     bool          `env:"ARIA_ONDEVICE_ENABLED" envDefault:"true"`
	Model       string        `env:"ARIA_ONDEVICE_MODEL" envDefault:"Llama-3.2-1B-Instruct-q4f16_1"`
	LoadTimeout time.Duration `env:"ARIA_ONDEVICE_LOAD_TIMEOUT" envDefault:"5m"`

	// llama.cpp server runtime
	Binary    string   `env:"ARIA_ONDEVICE_BINARY" envDefault:"llama-server"`
	ModelDir  string   `env:"ARIA_ONDEVICE_MODEL_DIR" envDefault:"./models"`
	Port      int      `env:"ARIA_ONDEVICE_PORT" envDefault:"0"`
	GPULayers int      `env:"ARIA_ONDEVICE_GPU_LAYERS" envDefault:"99"`
	AllowCPU  bool     `env:"ARIA_ONDEVICE_ALLOW_CPU" envDefault:"false"`
	Args      []string `env:"ARIA_ONDEVICE_ARGS" envSeparator:" "`
}

// InvocationConfig tunes the retry policy of every LLM call.
type InvocationConfig struct {
	Timeout        time.Duration `env:"ARIA_LLM_TIMEOUT" envDefault:"90s"`
	Retries        int           `env:"ARIA_LLM_RETRIES" envDefault:"2"`
	InitialBackoff time.Duration `env:"ARIA_LLM_BACKOFF_INITIAL" envDefault:"1s"`
	MaxBackoff     time.Duration `env:"ARIA_LLM_BACKOFF_MAX" envDefault:"20s"`
	RateLimitWait  time.Duration `env:"ARIA_LLM_RATE_LIMIT_WAIT" envDefault:"5s"`
	AdapterCache   int           `env:"ARIA_ADAPTER_CACHE_SIZE" envDefault:"64"`
}

// PipelineConfig bounds per-conversation state.
type PipelineConfig struct {
	HistoryWindow    int           `env:"ARIA_HISTORY_WINDOW" envDefault:"20"`
	ChartHistory     int           `env:"ARIA_CHART_HISTORY" envDefault:"10"`
	ConversationTTL  time.Duration `env:"ARIA_CONVERSATION_TTL" envDefault:"24h"`
	MaxConversations int           `env:"ARIA_MAX_CONVERSATIONS" envDefault:"1000"`
}

// StorageConfig selects the settings backend.
type StorageConfig struct {
	Driver     string `env:"ARIA_STORAGE_DRIVER" envDefault:"memory"`
	DataDir    string `env:"ARIA_DATA_DIR"`
	SQLitePath string `env:"ARIA_SQLITE_PATH" envDefault:"aria.db"`
}

// KnowledgeConfig wires the default knowledge retriever.
type KnowledgeConfig struct {
	Enabled         bool   `env:"ARIA_KNOWLEDGE_ENABLED" envDefault:"true"`
	Corpus          string `env:"ARIA_KNOWLEDGE_CORPUS" envDefault:"default"`
	EmbeddingDriver string `env:"ARIA_EMBEDDING_DRIVER" envDefault:"ollama"`
	EmbeddingModel  string `env:"ARIA_EMBEDDING_MODEL"`
	EmbeddingURL    string `env:"ARIA_EMBEDDING_URL"`
	EmbeddingAPIKey string `env:"ARIA_EMBEDDING_API_KEY"`
	VectorStore     string `env:"ARIA_VECTOR_STORE" envDefault:"embedded"`
	PgvectorURL     string `env:"ARIA_PGVECTOR_URL"`
	ChunkSize       int    `env:"ARIA_CHUNK_SIZE" envDefault:"800"`
	ChunkOverlap    int    `env:"ARIA_CHUNK_OVERLAP" envDefault:"100"`
	EmbeddedMaxDocs int    `env:"ARIA_EMBEDDED_MAX_DOCS" envDefault:"50000"`
}

// TelemetryConfig configures OTLP tracing.
type TelemetryConfig struct {
	Enabled      bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"aria"`
}

// Load reads an optional .env file then parses the environment. Variables
// already set in the process win over the file.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				log.Warn().Err(err).Str("path", f).Msg("Cannot read env file")
			}
			continue
		}
		log.Debug().Str("path", f).Msg("Loaded env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Knowledge.VectorStore {
	case "embedded":
	case "pgvector":
		if c.Knowledge.PgvectorURL == "" {
			return fmt.Errorf("ARIA_PGVECTOR_URL is required for the pgvector store")
		}
	default:
		return fmt.Errorf("unknown vector store %q", c.Knowledge.VectorStore)
	}
	switch c.Knowledge.EmbeddingDriver {
	case "ollama", "openai":
	default:
		return fmt.Errorf("unknown embedding driver %q", c.Knowledge.EmbeddingDriver)
	}
	if c.Pipeline.HistoryWindow <= 0 || c.Pipeline.ChartHistory <= 0 {
		return fmt.Errorf("history bounds must be positive")
	}
	return nil
}
