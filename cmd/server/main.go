// Command server runs the quelle retrieval-augmented generation service.
//
// Configuration comes from a YAML or TOML file (-config, QUELLE_CONFIG,
// ./config.yaml or /etc/quelle/config.yaml) overridden by QUELLE_*
// environment variables. A .env file in the working directory is loaded
// first when present.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rhuss/quelle/pkg/config"
	"github.com/rhuss/quelle/pkg/debug"
	"github.com/rhuss/quelle/pkg/embedding"
	"github.com/rhuss/quelle/pkg/loader"
	"github.com/rhuss/quelle/pkg/mcp"
	"github.com/rhuss/quelle/pkg/provider"
	"github.com/rhuss/quelle/pkg/provider/openaicompat"
	"github.com/rhuss/quelle/pkg/rag"
	"github.com/rhuss/quelle/pkg/splitter"
	transporthttp "github.com/rhuss/quelle/pkg/transport/http"
	"github.com/rhuss/quelle/pkg/vectorstore"
	"github.com/rhuss/quelle/pkg/workerpool"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML or TOML config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the config")
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		slog.Error("loading env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	if err := run(*configPath); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// loadEnvFile loads path without overriding variables already set. A
// missing file is ignored.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	debug.Init(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := pipeline.Close(); err != nil {
			slog.Warn("closing pipeline", "error", err)
		}
	}()

	opts := []transporthttp.ServerOption{
		transporthttp.WithAddr(":" + strconv.Itoa(cfg.Server.Port)),
		transporthttp.WithMaxBodySize(cfg.Server.MaxBodySize),
		transporthttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	}

	authMW, err := buildAuthMiddleware(cfg)
	if err != nil {
		return err
	}
	if authMW != nil {
		opts = append(opts, transporthttp.WithMiddleware(authMW))
	}

	if cfg.Observability.Metrics.Enabled {
		opts = append(opts, transporthttp.WithRoute("GET "+cfg.Observability.Metrics.Path, promhttp.Handler()))
	}
	if cfg.MCP.Enabled {
		opts = append(opts, transporthttp.WithRoute(cfg.MCP.Path, mcp.NewServer(pipeline).Handler()))
		slog.Info("MCP enabled", "path", cfg.MCP.Path)
	}

	slog.Info("quelle configured",
		"vectorstore", cfg.VectorStore.Backend,
		"embedding_model", cfg.Embedding.Model,
		"completion_model", cfg.Completion.Model,
		"auth", cfg.Auth.Type,
	)
	return transporthttp.NewServer(pipeline, opts...).Run(ctx)
}

func buildPipeline(ctx context.Context, cfg *config.Config) (*rag.Pipeline, error) {
	embedder, err := embedding.New(embedding.Config{
		Provider:    cfg.Embedding.Provider,
		URL:         cfg.Embedding.URL,
		APIKey:      cfg.Embedding.APIKey,
		Model:       cfg.Embedding.Model,
		Dimensions:  cfg.Embedding.Dimensions,
		BatchSize:   cfg.Embedding.BatchSize,
		Parallelism: cfg.Embedding.Parallelism,
		RateLimit:   cfg.Embedding.RateLimit,
		Normalize:   cfg.Embedding.Normalize,
		Timeout:     cfg.Embedding.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	backend, err := newBackend(ctx, cfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}
	store := vectorstore.NewStore(backend, embedder, cfg.VectorStore.DefaultCollection)

	var prov provider.Provider
	if cfg.Completion.URL != "" {
		prov = openaicompat.NewClient(cfg.Completion.URL, cfg.Completion.APIKey, cfg.Completion.Model, cfg.Completion.Timeout)
	} else {
		slog.Warn("completion.url is not set, answers are disabled")
	}

	strategy, err := splitter.ParseStrategy(cfg.Pipeline.Strategy)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	pool := newPool(cfg.Pipeline)

	p, err := rag.New(rag.Deps{
		Loader:   loader.Default(),
		Embedder: embedder,
		Store:    store,
		Provider: prov,
		Pool:     pool,
	}, rag.Options{
		CollectionPrefix: cfg.Pipeline.CollectionPrefix,
		Strategy:         strategy,
		MaxChunkSize:     cfg.Pipeline.MaxChunkSize,
		OverlapSize:      cfg.Pipeline.OverlapSize,
		TopK:             cfg.Pipeline.TopK,
		MinScore:         cfg.Pipeline.MinScore,
		SystemPrompt:     cfg.Pipeline.SystemPrompt,
		Model:            cfg.Completion.Model,
		Temperature:      cfg.Completion.Temperature,
		MaxTokens:        cfg.Completion.MaxTokens,
	})
	if err != nil {
		_ = store.Close()
		if pool != nil {
			pool.Close()
		}
		return nil, err
	}
	return p, nil
}

// newPool starts the ingestion pool. Zero sizes default to one worker per
// CPU.
func newPool(cfg config.PipelineConfig) *workerpool.Pool {
	pool := workerpool.New(cfg.Workers, cfg.QueueSize)
	slog.Debug("worker pool started", "workers", pool.Size())
	return pool
}
