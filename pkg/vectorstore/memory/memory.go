// Package memory provides an in-memory vectorstore.Backend for testing and
// single-process deployments. Vectors are lost when the process restarts.
// Search is a brute-force cosine scan.
package memory

import (
	"context"
	"maps"
	"math"
	"sort"
	"sync"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/vectorstore"
)

// entry holds a stored record and its insertion sequence.
type entry struct {
	record api.VectorRecord
	norm   float64
	seq    uint64
}

type collection struct {
	dimension int
	entries   map[string]*entry
	nextSeq   uint64
}

// Backend is an in-memory vector store.
type Backend struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// Ensure Backend implements vectorstore.Backend at compile time.
var _ vectorstore.Backend = (*Backend)(nil)

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{collections: make(map[string]*collection)}
}

// Name implements vectorstore.Backend.
func (b *Backend) Name() string { return "memory" }

// EnsureCollection implements vectorstore.Backend.
func (b *Backend) EnsureCollection(_ context.Context, name string, dimension int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.collections[name]; ok {
		if c.dimension != dimension {
			return vectorstore.Conflict(name, c.dimension, dimension)
		}
		return nil
	}
	b.collections[name] = &collection{dimension: dimension, entries: make(map[string]*entry)}
	return nil
}

// CollectionDimension implements vectorstore.Backend.
func (b *Backend) CollectionDimension(_ context.Context, name string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if c, ok := b.collections[name]; ok {
		return c.dimension, nil
	}
	return 0, nil
}

// DeleteCollection implements vectorstore.Backend.
func (b *Backend) DeleteCollection(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.collections, name)
	return nil
}

// Upsert implements vectorstore.Backend. A replaced record keeps its
// original insertion position.
func (b *Backend) Upsert(_ context.Context, name string, records []api.VectorRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.collections[name]
	if !ok {
		return api.NewError(api.ErrInvalidArgument, "memory.Upsert", "collection "+name+" does not exist", nil)
	}

	for _, r := range records {
		if len(r.Vector) != c.dimension {
			return api.NewError(api.ErrDimensionMismatch, "memory.Upsert", "record "+r.ID, nil)
		}
		stored := api.VectorRecord{
			ID:       r.ID,
			Vector:   append([]float32(nil), r.Vector...),
			Text:     r.Text,
			Metadata: maps.Clone(r.Metadata),
		}
		if e, exists := c.entries[r.ID]; exists {
			e.record = stored
			e.norm = norm(stored.Vector)
			continue
		}
		c.entries[r.ID] = &entry{record: stored, norm: norm(stored.Vector), seq: c.nextSeq}
		c.nextSeq++
	}
	return nil
}

// Delete implements vectorstore.Backend.
func (b *Backend) Delete(_ context.Context, name string, ids []string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.collections[name]
	if !ok {
		return 0, nil
	}
	removed := 0
	for _, id := range ids {
		if _, exists := c.entries[id]; exists {
			delete(c.entries, id)
			removed++
		}
	}
	return removed, nil
}

// DeleteByFilter implements vectorstore.Backend.
func (b *Backend) DeleteByFilter(_ context.Context, name string, filter api.Filter) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.collections[name]
	if !ok {
		return 0, nil
	}
	removed := 0
	for id, e := range c.entries {
		if filter.Matches(e.record.Metadata) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed, nil
}

type scored struct {
	e     *entry
	score float32
}

// Search implements vectorstore.Backend. Equal scores are ordered by
// insertion.
func (b *Backend) Search(_ context.Context, name string, p vectorstore.SearchParams) ([]api.QueryResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.collections[name]
	if !ok {
		return []api.QueryResult{}, nil
	}

	qnorm := norm(p.Vector)
	hits := make([]scored, 0, len(c.entries))
	for _, e := range c.entries {
		if len(p.Filter) > 0 && !p.Filter.Matches(e.record.Metadata) {
			continue
		}
		s := cosine(p.Vector, e.record.Vector, qnorm, e.norm)
		if s < p.MinScore {
			continue
		}
		hits = append(hits, scored{e: e, score: s})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].e.seq < hits[j].e.seq
	})
	if p.Limit > 0 && len(hits) > p.Limit {
		hits = hits[:p.Limit]
	}

	out := make([]api.QueryResult, len(hits))
	for i, h := range hits {
		out[i] = api.QueryResult{
			ID:       h.e.record.ID,
			Text:     h.e.record.Text,
			Score:    h.score,
			Metadata: maps.Clone(h.e.record.Metadata),
		}
		if p.WithVectors {
			out[i].Vector = append([]float32(nil), h.e.record.Vector...)
		}
	}
	return out, nil
}

// Ping implements vectorstore.Backend.
func (b *Backend) Ping(context.Context) error { return nil }

// Close implements vectorstore.Backend.
func (b *Backend) Close() error { return nil }

// Len returns the number of records in a collection.
func (b *Backend) Len(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if c, ok := b.collections[name]; ok {
		return len(c.entries)
	}
	return 0
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32, na, nb float64) float32 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (na * nb))
}
