package main

import (
	"context"
	"fmt"

	"github.com/rhuss/quelle/pkg/config"
	"github.com/rhuss/quelle/pkg/vectorstore"
	"github.com/rhuss/quelle/pkg/vectorstore/memory"
	"github.com/rhuss/quelle/pkg/vectorstore/pgvector"
	"github.com/rhuss/quelle/pkg/vectorstore/qdrant"
)

// newBackend creates the configured vector store backend.
func newBackend(ctx context.Context, cfg config.VectorStoreConfig) (vectorstore.Backend, error) {
	switch cfg.Backend {
	case "", "memory":
		return memory.New(), nil
	case "qdrant":
		return qdrant.New(qdrant.Config{
			URL:     cfg.Qdrant.URL,
			Host:    cfg.Qdrant.Host,
			Port:    cfg.Qdrant.Port,
			TLS:     cfg.Qdrant.TLS,
			APIKey:  cfg.Qdrant.APIKey,
			Timeout: cfg.Qdrant.Timeout,
		}), nil
	case "pgvector":
		return pgvector.New(ctx, pgvector.Config{
			DSN:            cfg.Postgres.DSN,
			MaxConns:       cfg.Postgres.MaxConns,
			MigrateOnStart: cfg.Postgres.MigrateOnStart,
		})
	default:
		return nil, fmt.Errorf("unknown vector store backend %q", cfg.Backend)
	}
}
