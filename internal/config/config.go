// Package config loads the YAML configuration for the ingestion and
// conflict-detection service.
package config

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig is the relational store's connection string.
type DatabaseConfig struct {
	ConnectionString string `yaml:"connection_string"`
}

// S3SSEConfig configures server-side encryption for the raw-artifact bucket.
type S3SSEConfig struct {
	Mode     string `yaml:"mode,omitempty"` // "", "sse-s3", "sse-kms"
	KMSKeyID string `yaml:"kms_key_id,omitempty"`
}

// S3Config configures the S3-compatible raw-artifact bucket.
type S3Config struct {
	Bucket                string      `yaml:"bucket"`
	Region                string      `yaml:"region"`
	Endpoint              string      `yaml:"endpoint,omitempty"`
	AccessKey             string      `yaml:"access_key,omitempty"`
	SecretKey             string      `yaml:"secret_key,omitempty"`
	UsePathStyle          bool        `yaml:"use_path_style,omitempty"`
	Prefix                string      `yaml:"prefix,omitempty"`
	TLSInsecureSkipVerify bool        `yaml:"tls_insecure_skip_verify,omitempty"`
	SSE                   S3SSEConfig `yaml:"sse,omitempty"`
}

// VectorConfig configures the vector index backend.
type VectorConfig struct {
	Backend    string `yaml:"backend"` // "qdrant" | "memory"
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
	Metric     string `yaml:"metric"`
}

// EmbeddingConfig addresses the embedding HTTP endpoint (see internal/embedding).
type EmbeddingConfig struct {
	BaseURL    string            `yaml:"base_url"`
	Path       string            `yaml:"path"`
	Model      string            `yaml:"model"`
	APIKey     string            `yaml:"api_key,omitempty"`
	APIHeader  string            `yaml:"api_header,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	Timeout    int               `yaml:"timeout_seconds"`
	Dimensions int               `yaml:"dimensions"`
}

// NLIConfig addresses the cross-encoder NLI inference endpoint and pins the
// softmax label order for the configured checkpoint.
type NLIConfig struct {
	BaseURL    string   `yaml:"base_url"`
	Model      string   `yaml:"model"`
	LabelOrder []string `yaml:"label_order"` // e.g. [contradiction, entailment, neutral]
	Timeout    int      `yaml:"timeout_seconds"`
}

// VerifierConfig selects and configures the generative verifier backend.
// Timeout is defaulted to 30 but is not applied to verifier calls: they are
// bounded only by the caller's context.
type VerifierConfig struct {
	Provider    string `yaml:"provider"` // "openai" | "gemini"
	Model       string `yaml:"model"`
	APIKey      string `yaml:"api_key,omitempty"`
	BaseURL     string `yaml:"base_url,omitempty"`
	Timeout     int    `yaml:"timeout_seconds"`
	Concurrency int    `yaml:"concurrency"`
}

// ChunkingConfig controls the token-bounded recursive splitter.
type ChunkingConfig struct {
	ChunkSize    int    `yaml:"chunk_size"`
	ChunkOverlap int    `yaml:"chunk_overlap"`
	Tokenizer    string `yaml:"tokenizer"` // e.g. cl100k_base
}

// ThresholdsConfig are the Conflict Engine's NLI adjudication cutoffs.
type ThresholdsConfig struct {
	Dedup         float64 `yaml:"dedup_similarity_threshold"`
	Contradiction float64 `yaml:"contradiction_score_threshold"`
	Neutral       float64 `yaml:"neutral_score_threshold"`
}

// ConflictConfig controls neighbor-search width for the Conflict Engine.
type ConflictConfig struct {
	NeighborCount int `yaml:"neighbor_count"`
}

// RetrievalConfig carries retrieval-path configuration not exercised by this
// module's HTTP boundary but kept for downstream consumers.
type RetrievalConfig struct {
	TopKNeighbors int `yaml:"top_k_neighbors"`
}

// LimitsConfig are upload validation limits.
type LimitsConfig struct {
	MaxUploadBytes    int64    `yaml:"max_upload_bytes"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
}

// TelemetryConfig controls OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// Config is the top-level configuration for cmd/ingestd.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	ObjectStore S3Config          `yaml:"object_store"`
	Vector      VectorConfig      `yaml:"vector"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	NLI         NLIConfig         `yaml:"nli"`
	Verifier    VerifierConfig    `yaml:"verifier"`
	Chunking    ChunkingConfig    `yaml:"chunking"`
	Thresholds  ThresholdsConfig  `yaml:"thresholds"`
	Conflict    ConflictConfig    `yaml:"conflict"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Limits      LimitsConfig      `yaml:"limits"`
	OTel        TelemetryConfig   `yaml:"otel"`
}

// LoadConfig reads the configuration from a YAML file and applies defaults
// for anything left unset.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		pterm.Error.Printf("Error reading config file: %v\n", err)
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		pterm.Error.Printf("Error unmarshaling config: %v\n", err)
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)
	pterm.Success.Println("Configuration loaded successfully.")
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8085
		pterm.Info.Println("No server port specified, using default (8085).")
	}
	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "qdrant"
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "chunks"
	}
	if cfg.Vector.Dimensions <= 0 {
		cfg.Vector.Dimensions = 384
	}
	if cfg.Vector.Metric == "" {
		cfg.Vector.Metric = "cosine"
	}
	if len(cfg.NLI.LabelOrder) == 0 {
		cfg.NLI.LabelOrder = []string{"contradiction", "entailment", "neutral"}
	}
	if cfg.Verifier.Provider == "" {
		cfg.Verifier.Provider = "openai"
	}
	if cfg.Verifier.Concurrency <= 0 {
		cfg.Verifier.Concurrency = 5
		pterm.Info.Println("No verifier concurrency specified, using default (5 permits).")
	}
	if cfg.Verifier.Timeout <= 0 {
		cfg.Verifier.Timeout = 30
	}
	if cfg.Chunking.ChunkSize <= 0 {
		cfg.Chunking.ChunkSize = 200
	}
	if cfg.Chunking.ChunkOverlap <= 0 {
		cfg.Chunking.ChunkOverlap = 25
	}
	if cfg.Chunking.Tokenizer == "" {
		cfg.Chunking.Tokenizer = "cl100k_base"
	}
	if cfg.Thresholds.Dedup <= 0 {
		cfg.Thresholds.Dedup = 0.95
	}
	if cfg.Thresholds.Contradiction <= 0 {
		cfg.Thresholds.Contradiction = 0.90
	}
	if cfg.Thresholds.Neutral <= 0 {
		cfg.Thresholds.Neutral = 0.90
	}
	if cfg.Conflict.NeighborCount <= 0 {
		cfg.Conflict.NeighborCount = 10
	}
	if cfg.Retrieval.TopKNeighbors <= 0 {
		cfg.Retrieval.TopKNeighbors = 3
	}
	if cfg.Limits.MaxUploadBytes <= 0 {
		cfg.Limits.MaxUploadBytes = 10 * 1024 * 1024
	}
	if len(cfg.Limits.AllowedExtensions) == 0 {
		cfg.Limits.AllowedExtensions = []string{"txt", "md", "pdf", "xlsx", "xls", "csv"}
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "ingestd"
	}
}
