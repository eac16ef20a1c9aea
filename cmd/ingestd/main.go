// Command ingestd runs the document ingestion and conflict-detection HTTP
// service: upload, publish (parse/chunk/embed/analyze), and conflict
// resolution.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ingestd/internal/chunk"
	"ingestd/internal/conflict"
	"ingestd/internal/config"
	"ingestd/internal/httpapi"
	"ingestd/internal/nli"
	"ingestd/internal/obs"
	"ingestd/internal/objectstore"
	"ingestd/internal/pipeline"
	"ingestd/internal/rag/embedder"
	"ingestd/internal/resolution"
	"ingestd/internal/store"
	"ingestd/internal/verifier"
	"ingestd/internal/vectorstore"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	log := obs.NewLogrusLogger()
	metrics := obs.NewOtelMetrics()

	configPath := os.Getenv("INGESTD_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Error("failed to load config", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	ctx := context.Background()

	shutdownTelemetry, err := obs.SetupTelemetry(ctx, obs.TelemetryConfig{
		Enabled:     cfg.OTel.Enabled,
		Endpoint:    cfg.OTel.Endpoint,
		Insecure:    cfg.OTel.Insecure,
		ServiceName: cfg.OTel.ServiceName,
	})
	if err != nil {
		log.Error("failed to init telemetry", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer shutdownTelemetry(ctx)

	relational, err := newStore(ctx, cfg.Database)
	if err != nil {
		log.Error("failed to init relational store", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer relational.Close()

	vectors, err := newVectorStore(cfg.Vector)
	if err != nil {
		log.Error("failed to init vector store", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer vectors.Close()

	objects, err := newObjectStore(ctx, cfg.ObjectStore)
	if err != nil {
		log.Warn("object storage unavailable, uploads will not persist raw bytes", map[string]any{"error": err.Error()})
		objects = nil
	}

	embed := embedder.NewClient(cfg.Embedding, cfg.Embedding.Dimensions)

	nliClient, err := nli.NewClient(cfg.NLI.BaseURL, cfg.NLI.Model, cfg.NLI.LabelOrder, time.Duration(cfg.NLI.Timeout)*time.Second)
	if err != nil {
		log.Error("failed to init nli client", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	v, err := newVerifier(ctx, cfg.Verifier, log, metrics)
	if err != nil {
		log.Warn("verifier backend unavailable, ambiguous conflicts will not be escalated", map[string]any{"error": err.Error()})
		v = nil
	}

	engine := conflict.New(vectors, relational, nliClient, v, conflict.Thresholds{
		Dedup:         cfg.Thresholds.Dedup,
		Contradiction: cfg.Thresholds.Contradiction,
		Neutral:       cfg.Thresholds.Neutral,
	}, cfg.Conflict.NeighborCount, log, metrics)

	splitter, err := chunk.NewSplitter(cfg.Chunking.Tokenizer, cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	if err != nil {
		log.Error("failed to init chunk splitter", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	pl := pipeline.New(relational, vectors, splitter, embed, engine, log, metrics)
	res := resolution.New(relational, vectors, log, metrics)

	allowed := make(map[string]bool, len(cfg.Limits.AllowedExtensions))
	for _, ext := range cfg.Limits.AllowedExtensions {
		allowed[ext] = true
	}
	limits := httpapi.Limits{MaxUploadBytes: cfg.Limits.MaxUploadBytes, AllowedExtensions: allowed}

	srv := httpapi.NewServer(relational, objects, pl, res, limits, log, metrics)
	instrumented := otelhttp.NewHandler(srv, "ingestd")

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("ingestd listening", map[string]any{"addr": addr})
	if err := http.ListenAndServe(addr, instrumented); err != nil {
		log.Error("server failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

// newStore picks the relational backend based on the connection string:
// empty means an in-process store suitable for development.
func newStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	if cfg.ConnectionString == "" {
		return store.NewMemory(), nil
	}
	return store.NewPostgres(ctx, cfg.ConnectionString)
}

func newVectorStore(cfg config.VectorConfig) (vectorstore.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return vectorstore.NewMemory(cfg.Dimensions), nil
	case "qdrant":
		return vectorstore.NewQdrant(cfg.DSN, cfg.Collection, cfg.Dimensions, cfg.Metric)
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s", cfg.Backend)
	}
}

func newObjectStore(ctx context.Context, cfg config.S3Config) (objectstore.ObjectStore, error) {
	if cfg.Bucket == "" {
		return objectstore.NewMemoryStore(), nil
	}
	return objectstore.NewS3Store(ctx, cfg)
}

func newVerifier(ctx context.Context, cfg config.VerifierConfig, log obs.Logger, metrics obs.Metrics) (*verifier.Verifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("no api key configured for verifier provider %q", cfg.Provider)
	}
	var backend verifier.Backend
	switch cfg.Provider {
	case "", "openai":
		backend = verifier.NewOpenAIBackend(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "gemini":
		gb, err := verifier.NewGeminiBackend(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		backend = gb
	default:
		return nil, fmt.Errorf("unsupported verifier provider: %s", cfg.Provider)
	}
	return verifier.New(backend, int64(cfg.Concurrency), log, metrics), nil
}
