package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/debug"
	"github.com/rhuss/quelle/pkg/observability"
)

// DefaultLimit is the result count used when a query sets no limit.
const DefaultLimit = 4

var collectionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// Embedder computes the vector for query text. embedding.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store adds collection defaults, dimension checks and query embedding on
// top of a Backend.
type Store struct {
	backend           Backend
	embedder          Embedder
	defaultCollection string

	mu   sync.RWMutex
	dims map[string]int
}

// NewStore creates a Store. embedder may be nil, in which case queries must
// carry a precomputed vector.
func NewStore(backend Backend, embedder Embedder, defaultCollection string) *Store {
	return &Store{
		backend:           backend,
		embedder:          embedder,
		defaultCollection: defaultCollection,
		dims:              make(map[string]int),
	}
}

// Backend returns the underlying backend name.
func (s *Store) Backend() string {
	return s.backend.Name()
}

// DefaultCollection returns the collection used when none is given.
func (s *Store) DefaultCollection() string {
	return s.defaultCollection
}

// EnsureCollection creates the collection if needed. It is idempotent and
// fails with api.ErrDimensionConflict when the collection exists with a
// different dimension.
func (s *Store) EnsureCollection(ctx context.Context, collection string, dimension int) error {
	const op = "vectorstore.EnsureCollection"
	name, err := s.resolve(op, collection)
	if err != nil {
		return err
	}
	if dimension <= 0 {
		return api.NewError(api.ErrInvalidArgument, op, fmt.Sprintf("dimension must be positive, got %d", dimension), nil)
	}

	s.mu.RLock()
	known, ok := s.dims[name]
	s.mu.RUnlock()
	if ok {
		if known != dimension {
			return conflict(op, name, known, dimension)
		}
		return nil
	}

	if err := s.backend.EnsureCollection(ctx, name, dimension); err != nil {
		return s.classify(op, err)
	}
	s.remember(name, dimension)
	debug.Log("store", "collection ensured", "collection", name, "dimension", dimension, "backend", s.backend.Name())
	return nil
}

// DropCollection deletes a collection and every record in it.
func (s *Store) DropCollection(ctx context.Context, collection string) error {
	const op = "vectorstore.DropCollection"
	name, err := s.resolve(op, collection)
	if err != nil {
		return err
	}
	if err := s.backend.DeleteCollection(ctx, name); err != nil {
		return s.classify(op, err)
	}
	s.mu.Lock()
	delete(s.dims, name)
	s.mu.Unlock()
	slog.Info("collection dropped", "collection", name, "backend", s.backend.Name())
	return nil
}

// AddVectors upserts parallel lists of IDs, vectors, metadata and texts.
// Empty IDs are replaced by random ones. The collection is created with the
// first vector's dimension when it does not exist yet. It returns the
// number of records written.
func (s *Store) AddVectors(ctx context.Context, collection string, ids []string, vectors [][]float32, metadata []map[string]any, texts []string) (int, error) {
	const op = "vectorstore.AddVectors"
	name, err := s.resolve(op, collection)
	if err != nil {
		return 0, err
	}
	n := len(vectors)
	if len(ids) != n || len(metadata) != n || len(texts) != n {
		return 0, api.NewError(api.ErrInvalidArgument, op,
			fmt.Sprintf("list lengths differ: ids=%d vectors=%d metadata=%d texts=%d", len(ids), n, len(metadata), len(texts)), nil)
	}
	if n == 0 {
		return 0, nil
	}

	dim, err := s.dimension(ctx, op, name)
	if err != nil {
		return 0, err
	}
	if dim == 0 {
		dim = len(vectors[0])
		if err := s.EnsureCollection(ctx, name, dim); err != nil {
			return 0, err
		}
	}

	records := make([]api.VectorRecord, n)
	for i, v := range vectors {
		if len(v) != dim {
			return 0, api.NewError(api.ErrDimensionMismatch, op,
				fmt.Sprintf("vector %d has dimension %d, collection %q expects %d", i, len(v), name, dim), nil)
		}
		id := ids[i]
		if id == "" {
			id = api.NewVectorID()
		}
		records[i] = api.VectorRecord{ID: id, Vector: v, Text: texts[i], Metadata: metadata[i]}
	}

	if err := s.backend.Upsert(ctx, name, records); err != nil {
		return 0, s.classify(op, err)
	}
	debug.Log("store", "vectors upserted", "collection", name, "count", n)
	return n, nil
}

// AddSegments stores segments with their vectors. Record IDs come from
// Segment.ID (generated when empty), and each segment's VectorID is set to
// the stored ID.
func (s *Store) AddSegments(ctx context.Context, collection string, segments []api.Segment, vectors [][]float32) (int, error) {
	if len(segments) != len(vectors) {
		return 0, api.NewError(api.ErrInvalidArgument, "vectorstore.AddSegments",
			fmt.Sprintf("%d segments but %d vectors", len(segments), len(vectors)), nil)
	}

	ids := make([]string, len(segments))
	metas := make([]map[string]any, len(segments))
	texts := make([]string, len(segments))
	for i := range segments {
		seg := &segments[i]
		if seg.ID == "" {
			seg.ID = api.NewVectorID()
		}
		ids[i] = seg.ID
		texts[i] = seg.SearchText()
		metas[i] = SegmentMetadata(seg)
	}

	n, err := s.AddVectors(ctx, collection, ids, vectors, metas, texts)
	if err != nil {
		return 0, err
	}
	for i := range segments {
		segments[i].VectorID = ids[i]
	}
	return n, nil
}

// SegmentMetadata builds the stored payload for a segment: its own metadata
// plus the ownership and position keys used for filtering.
func SegmentMetadata(seg *api.Segment) map[string]any {
	meta := make(map[string]any, len(seg.Metadata)+5)
	for k, v := range seg.Metadata {
		meta[k] = v
	}
	meta[api.MetaDocumentID] = seg.DocumentID
	meta[api.MetaPosition] = seg.Position
	if seg.DatasetID != "" {
		meta[api.MetaDatasetID] = seg.DatasetID
	}
	if seg.TenantID != "" {
		meta[api.MetaTenantID] = seg.TenantID
	}
	if seg.Title != "" {
		meta[api.MetaTitle] = seg.Title
	}
	return meta
}

// DeleteVector removes one record. A missing ID returns 0.
func (s *Store) DeleteVector(ctx context.Context, collection, id string) (int, error) {
	return s.DeleteVectors(ctx, collection, []string{id})
}

// DeleteVectors removes records by ID and returns how many existed.
func (s *Store) DeleteVectors(ctx context.Context, collection string, ids []string) (int, error) {
	const op = "vectorstore.DeleteVectors"
	name, err := s.resolve(op, collection)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.backend.Delete(ctx, name, ids)
	if err != nil {
		return 0, s.classify(op, err)
	}
	return n, nil
}

// DeleteVectorsByFilter removes every record matching filter. An empty
// filter is rejected so a caller cannot wipe a collection by accident.
func (s *Store) DeleteVectorsByFilter(ctx context.Context, collection string, filter api.Filter) (int, error) {
	const op = "vectorstore.DeleteVectorsByFilter"
	name, err := s.resolve(op, collection)
	if err != nil {
		return 0, err
	}
	if len(filter) == 0 {
		return 0, api.NewError(api.ErrInvalidArgument, op, "filter must not be empty", nil)
	}
	n, err := s.backend.DeleteByFilter(ctx, name, filter)
	if err != nil {
		return 0, s.classify(op, err)
	}
	debug.Log("store", "vectors deleted by filter", "collection", name, "filter", filter, "count", n)
	return n, nil
}

// SimilaritySearch embeds the query text when no vector is given, then
// returns at most Limit results scoring at least MinScore, ordered by
// descending score. Equal scores keep the backend's order.
func (s *Store) SimilaritySearch(ctx context.Context, q api.VectorQuery) ([]api.QueryResult, error) {
	const op = "vectorstore.SimilaritySearch"
	name, err := s.resolve(op, q.Collection)
	if err != nil {
		return nil, err
	}

	vector := q.Vector
	if vector == nil {
		if strings.TrimSpace(q.Text) == "" {
			return nil, api.NewError(api.ErrInvalidArgument, op, "query needs a vector or text", nil)
		}
		if s.embedder == nil {
			return nil, api.NewError(api.ErrInvalidConfiguration, op, "no embedding client for text queries", nil)
		}
		vector, err = s.embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, err
		}
	}

	dim, err := s.dimension(ctx, op, name)
	if err != nil {
		return nil, err
	}
	if dim == 0 {
		return []api.QueryResult{}, nil
	}
	if len(vector) != dim {
		return nil, api.NewError(api.ErrDimensionMismatch, op,
			fmt.Sprintf("query vector has dimension %d, collection %q expects %d", len(vector), name, dim), nil)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	start := time.Now()
	results, err := s.backend.Search(ctx, name, SearchParams{
		Vector:      vector,
		Limit:       limit,
		MinScore:    q.MinScore,
		Filter:      q.Filter,
		WithVectors: q.IncludeVectors,
	})
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.SearchDuration.WithLabelValues(s.backend.Name(), status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, s.classify(op, err)
	}

	out := results[:0]
	for _, r := range results {
		if r.Score >= q.MinScore {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	debug.Log("store", "search", "collection", name, "limit", limit, "min_score", q.MinScore,
		"results", len(out), "duration", time.Since(start))
	return out, nil
}

// Ping checks that the backend is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.backend.Ping(ctx); err != nil {
		return s.classify("vectorstore.Ping", err)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// resolve applies the default collection and validates the name.
func (s *Store) resolve(op, collection string) (string, error) {
	name := collection
	if name == "" {
		name = s.defaultCollection
	}
	if name == "" {
		return "", api.NewError(api.ErrInvalidArgument, op, "no collection given and no default configured", nil)
	}
	if !collectionNamePattern.MatchString(name) {
		return "", api.NewError(api.ErrInvalidArgument, op, fmt.Sprintf("invalid collection name %q", name), nil)
	}
	return name, nil
}

func (s *Store) dimension(ctx context.Context, op, name string) (int, error) {
	s.mu.RLock()
	dim, ok := s.dims[name]
	s.mu.RUnlock()
	if ok {
		return dim, nil
	}
	dim, err := s.backend.CollectionDimension(ctx, name)
	if err != nil {
		return 0, s.classify(op, err)
	}
	if dim > 0 {
		s.remember(name, dim)
	}
	return dim, nil
}

func (s *Store) remember(name string, dim int) {
	s.mu.Lock()
	s.dims[name] = dim
	s.mu.Unlock()
}

// classify keeps already-classified errors and maps everything else to
// api.ErrStoreUnavailable.
func (s *Store) classify(op string, err error) error {
	if api.KindOf(err) != nil {
		return err
	}
	return api.NewError(api.ErrStoreUnavailable, op, s.backend.Name(), err)
}

func conflict(op, name string, have, want int) error {
	return api.NewError(api.ErrDimensionConflict, op,
		fmt.Sprintf("collection %q has dimension %d, requested %d", name, have, want), nil)
}

// SanitizeName turns arbitrary text into a valid collection name component
// by replacing disallowed characters with underscores.
func SanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if len(out) > 255 {
		out = out[:255]
	}
	return out
}

// Conflict builds the error backends return when a collection exists with a
// different dimension.
func Conflict(name string, have, want int) error {
	return conflict("vectorstore.EnsureCollection", name, have, want)
}
