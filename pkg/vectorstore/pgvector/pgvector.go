// Package pgvector implements vectorstore.Backend on PostgreSQL with the
// pgvector extension. It uses pgx/v5 for connection pooling, a jsonb column
// for metadata filtering, and cosine distance (<=>) for ranking.
package pgvector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgv "github.com/pgvector/pgvector-go"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/vectorstore"
)

// Backend is a PostgreSQL-backed vector store.
type Backend struct {
	pool *pgxpool.Pool
}

// Ensure Backend implements vectorstore.Backend at compile time.
var _ vectorstore.Backend = (*Backend)(nil)

// New connects to PostgreSQL. If MigrateOnStart is true, the extension and
// tables are created.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	b := &Backend{pool: pool}
	if cfg.MigrateOnStart {
		if err := b.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}
	return b, nil
}

// Name implements vectorstore.Backend.
func (b *Backend) Name() string { return "pgvector" }

// CollectionDimension implements vectorstore.Backend.
func (b *Backend) CollectionDimension(ctx context.Context, name string) (int, error) {
	var dim int
	err := b.pool.QueryRow(ctx, "SELECT dimension FROM collections WHERE name = $1", name).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("querying collection: %w", err)
	}
	return dim, nil
}

// EnsureCollection implements vectorstore.Backend.
func (b *Backend) EnsureCollection(ctx context.Context, name string, dimension int) error {
	if _, err := b.pool.Exec(ctx,
		"INSERT INTO collections (name, dimension) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING",
		name, dimension,
	); err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}
	have, err := b.CollectionDimension(ctx, name)
	if err != nil {
		return err
	}
	if have != dimension {
		return vectorstore.Conflict(name, have, dimension)
	}
	return nil
}

// DeleteCollection implements vectorstore.Backend. Vectors are removed by
// the foreign key cascade.
func (b *Backend) DeleteCollection(ctx context.Context, name string) error {
	if _, err := b.pool.Exec(ctx, "DELETE FROM collections WHERE name = $1", name); err != nil {
		return fmt.Errorf("deleting collection: %w", err)
	}
	return nil
}

// Upsert implements vectorstore.Backend. All records are written in one
// transaction.
func (b *Backend) Upsert(ctx context.Context, name string, records []api.VectorRecord) error {
	batch := &pgx.Batch{}
	for _, r := range records {
		meta := r.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshaling metadata for %q: %w", r.ID, err)
		}
		batch.Queue(`
			INSERT INTO vectors (collection, id, embedding, text, metadata)
			VALUES ($1, $2, $3::vector, $4, $5::jsonb)
			ON CONFLICT (collection, id) DO UPDATE
			SET embedding = EXCLUDED.embedding,
			    text = EXCLUDED.text,
			    metadata = EXCLUDED.metadata,
			    updated_at = now()
		`, name, r.ID, pgv.NewVector(r.Vector), r.Text, string(metaJSON))
	}

	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting vectors: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}
	return nil
}

// Delete implements vectorstore.Backend.
func (b *Backend) Delete(ctx context.Context, name string, ids []string) (int, error) {
	tag, err := b.pool.Exec(ctx, "DELETE FROM vectors WHERE collection = $1 AND id = ANY($2)", name, ids)
	if err != nil {
		return 0, fmt.Errorf("deleting vectors: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteByFilter implements vectorstore.Backend using jsonb containment.
func (b *Backend) DeleteByFilter(ctx context.Context, name string, filter api.Filter) (int, error) {
	filterJSON, err := json.Marshal(filter)
	if err != nil {
		return 0, fmt.Errorf("marshaling filter: %w", err)
	}
	tag, err := b.pool.Exec(ctx,
		"DELETE FROM vectors WHERE collection = $1 AND metadata @> $2::jsonb", name, string(filterJSON))
	if err != nil {
		return 0, fmt.Errorf("deleting vectors by filter: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Search implements vectorstore.Backend. Equal distances are ordered by ID.
func (b *Backend) Search(ctx context.Context, name string, p vectorstore.SearchParams) ([]api.QueryResult, error) {
	query := pgv.NewVector(p.Vector)
	args := []any{name, query, p.MinScore, p.Limit}

	var sb strings.Builder
	sb.WriteString("SELECT id, text, metadata, 1 - (embedding <=> $2::vector) AS score")
	if p.WithVectors {
		sb.WriteString(", embedding::text")
	}
	sb.WriteString(" FROM vectors WHERE collection = $1 AND 1 - (embedding <=> $2::vector) >= $3")
	if len(p.Filter) > 0 {
		filterJSON, err := json.Marshal(p.Filter)
		if err != nil {
			return nil, fmt.Errorf("marshaling filter: %w", err)
		}
		args = append(args, string(filterJSON))
		sb.WriteString(" AND metadata @> $5::jsonb")
	}
	sb.WriteString(" ORDER BY embedding <=> $2::vector, id LIMIT $4")

	rows, err := b.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}
	defer rows.Close()

	results := make([]api.QueryResult, 0, p.Limit)
	for rows.Next() {
		var (
			r        api.QueryResult
			score    float64
			meta     map[string]any
			vecText  string
			scanDest = []any{&r.ID, &r.Text, &meta, &score}
		)
		if p.WithVectors {
			scanDest = append(scanDest, &vecText)
		}
		if err := rows.Scan(scanDest...); err != nil {
			return nil, fmt.Errorf("scanning search row: %w", err)
		}
		r.Score = float32(score)
		r.Metadata = meta
		if p.WithVectors {
			var v pgv.Vector
			if err := v.Scan(vecText); err != nil {
				return nil, fmt.Errorf("parsing vector for %q: %w", r.ID, err)
			}
			r.Vector = v.Slice()
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search rows: %w", err)
	}
	return results, nil
}

// Ping implements vectorstore.Backend.
func (b *Backend) Ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

// Close releases the connection pool.
func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}
