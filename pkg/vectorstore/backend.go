package vectorstore

import (
	"context"

	"github.com/rhuss/quelle/pkg/api"
)

// Backend is the pluggable interface for vector databases. All operations
// are scoped to a collection. Implementations must be safe for concurrent
// use.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	// EnsureCollection creates the collection if it does not exist. An
	// existing collection with a different dimension yields
	// api.ErrDimensionConflict.
	EnsureCollection(ctx context.Context, name string, dimension int) error

	// CollectionDimension returns the vector size of the collection, or 0
	// when the collection does not exist.
	CollectionDimension(ctx context.Context, name string) (int, error)

	// DeleteCollection drops the collection and all its records. Dropping
	// a missing collection is not an error.
	DeleteCollection(ctx context.Context, name string) error

	// Upsert inserts or replaces records by ID.
	Upsert(ctx context.Context, name string, records []api.VectorRecord) error

	// Delete removes records by ID and returns how many existed.
	Delete(ctx context.Context, name string, ids []string) (int, error)

	// DeleteByFilter removes every record whose metadata matches filter and
	// returns how many were removed.
	DeleteByFilter(ctx context.Context, name string, filter api.Filter) (int, error)

	// Search returns the nearest records to params.Vector by cosine
	// similarity. A missing collection yields no results.
	Search(ctx context.Context, name string, params SearchParams) ([]api.QueryResult, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases connections held by the backend.
	Close() error
}

// SearchParams holds a resolved similarity query.
type SearchParams struct {
	Vector      []float32
	Limit       int
	MinScore    float32
	Filter      api.Filter
	WithVectors bool
}
