package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rhuss/quelle/pkg/api"
	"github.com/rhuss/quelle/pkg/vectorstore"
)

func TestEnsureCollectionConflict(t *testing.T) {
	ctx := context.Background()
	b := New()

	if err := b.EnsureCollection(ctx, "c", 3); err != nil {
		t.Fatal(err)
	}
	if err := b.EnsureCollection(ctx, "c", 4); !errors.Is(err, api.ErrDimensionConflict) {
		t.Errorf("error = %v, want ErrDimensionConflict", err)
	}
	if dim, _ := b.CollectionDimension(ctx, "c"); dim != 3 {
		t.Errorf("dimension = %d, want 3", dim)
	}
	if dim, _ := b.CollectionDimension(ctx, "missing"); dim != 0 {
		t.Errorf("missing collection dimension = %d, want 0", dim)
	}
}

func TestUpsertReplacesInPlace(t *testing.T) {
	ctx := context.Background()
	b := New()
	b.EnsureCollection(ctx, "c", 2)

	b.Upsert(ctx, "c", []api.VectorRecord{
		{ID: "first", Vector: []float32{1, 0}, Text: "old"},
		{ID: "second", Vector: []float32{1, 0}, Text: "two"},
	})
	b.Upsert(ctx, "c", []api.VectorRecord{{ID: "first", Vector: []float32{1, 0}, Text: "new"}})

	if b.Len("c") != 2 {
		t.Fatalf("Len = %d, want 2", b.Len("c"))
	}
	results, _ := b.Search(ctx, "c", vectorstore.SearchParams{Vector: []float32{1, 0}, Limit: 2, MinScore: -1})
	if results[0].ID != "first" || results[0].Text != "new" {
		t.Errorf("replaced record lost its position or text: %+v", results)
	}
}

func TestUpsertCopiesInput(t *testing.T) {
	ctx := context.Background()
	b := New()
	b.EnsureCollection(ctx, "c", 2)

	vec := []float32{1, 0}
	meta := map[string]any{"k": "v"}
	b.Upsert(ctx, "c", []api.VectorRecord{{ID: "a", Vector: vec, Metadata: meta}})
	vec[0] = -1
	meta["k"] = "changed"

	results, _ := b.Search(ctx, "c", vectorstore.SearchParams{Vector: []float32{1, 0}, Limit: 1, MinScore: -1, WithVectors: true})
	if results[0].Vector[0] != 1 || results[0].Metadata["k"] != "v" {
		t.Errorf("stored record aliases caller data: %+v", results[0])
	}
}

func TestUpsertMissingCollection(t *testing.T) {
	b := New()
	err := b.Upsert(context.Background(), "nope", []api.VectorRecord{{ID: "a", Vector: []float32{1}}})
	if err == nil {
		t.Fatal("expected error for missing collection")
	}
}

func TestSearchFilterAndZeroVector(t *testing.T) {
	ctx := context.Background()
	b := New()
	b.EnsureCollection(ctx, "c", 2)
	b.Upsert(ctx, "c", []api.VectorRecord{
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]any{"lang": "de"}},
		{ID: "b", Vector: []float32{1, 0}, Metadata: map[string]any{"lang": "en"}},
		{ID: "zero", Vector: []float32{0, 0}, Metadata: map[string]any{"lang": "de"}},
	})

	results, _ := b.Search(ctx, "c", vectorstore.SearchParams{
		Vector: []float32{1, 0}, Limit: 10, MinScore: -1, Filter: api.Filter{"lang": "de"},
	})
	if len(results) != 2 || results[0].ID != "a" || results[1].ID != "zero" {
		t.Fatalf("results = %+v", results)
	}
	if results[1].Score != 0 {
		t.Errorf("zero vector score = %v, want 0", results[1].Score)
	}
}

func TestDeleteCollection(t *testing.T) {
	ctx := context.Background()
	b := New()
	b.EnsureCollection(ctx, "c", 1)
	b.Upsert(ctx, "c", []api.VectorRecord{{ID: "a", Vector: []float32{1}}})

	if err := b.DeleteCollection(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	if err := b.DeleteCollection(ctx, "c"); err != nil {
		t.Errorf("dropping a missing collection: %v", err)
	}
	results, err := b.Search(ctx, "c", vectorstore.SearchParams{Vector: []float32{1}, Limit: 1})
	if err != nil || len(results) != 0 {
		t.Errorf("search after drop = (%v, %v)", results, err)
	}
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	b := New()
	b.EnsureCollection(ctx, "c", 2)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			b.Upsert(ctx, "c", []api.VectorRecord{{ID: string(rune('a' + i)), Vector: []float32{1, float32(i)}}})
		}()
		go func() {
			defer wg.Done()
			b.Search(ctx, "c", vectorstore.SearchParams{Vector: []float32{1, 0}, Limit: 5})
		}()
	}
	wg.Wait()

	if b.Len("c") != 20 {
		t.Errorf("Len = %d, want 20", b.Len("c"))
	}
}
