package vectorstore

import (
	"context"
	"testing"

	"github.com/spike2204/intelligent-qa/internal/model"
)

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore(3)
	err := store.Insert(context.Background(), []Record{
		{ID: "a", DocumentID: "doc-1", Content: "alpha", Embedding: []float32{1, 0, 0},
			Metadata: model.ChunkMetadata{Hierarchy: "Guide > Install"}},
		{ID: "b", DocumentID: "doc-1", Content: "beta", Embedding: []float32{0.8, 0.6, 0},
			Metadata: model.ChunkMetadata{Hierarchy: "Guide > Usage"}},
		{ID: "c", DocumentID: "doc-2", Content: "gamma", Embedding: []float32{0, 1, 0},
			Metadata: model.ChunkMetadata{Hierarchy: "Manual > Setup"}},
	})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return store
}

func TestMemoryStore_SearchOrdering(t *testing.T) {
	store := seedStore(t)

	results, err := store.Search(context.Background(), []float32{1, 0, 0}, 10, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted descending at index %d", i)
		}
	}
	if results[0].Record.ID != "a" {
		t.Errorf("top result = %s, want a", results[0].Record.ID)
	}
}

func TestMemoryStore_DocumentFilter(t *testing.T) {
	store := seedStore(t)

	results, err := store.Search(context.Background(), []float32{1, 0, 0}, 10, Filter{DocumentID: "doc-2"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Record.ID != "c" {
		t.Fatalf("document filter returned %+v", results)
	}
}

func TestMemoryStore_DocumentSetFilter(t *testing.T) {
	store := seedStore(t)

	results, err := store.Search(context.Background(), []float32{1, 0, 0}, 10, Filter{DocumentIDs: []string{"doc-1", "doc-2"}})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("id-set filter returned %d results, want 3", len(results))
	}
}

func TestMemoryStore_HierarchyPrefixFilter(t *testing.T) {
	store := seedStore(t)

	results, err := store.Search(context.Background(), []float32{1, 0, 0}, 10, Filter{HierarchyPrefix: "Guide"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("hierarchy filter returned %d results, want 2", len(results))
	}
	for _, r := range results {
		if got := r.Record.Metadata.Hierarchy; got[:5] != "Guide" {
			t.Errorf("result %s hierarchy %q does not match prefix", r.Record.ID, got)
		}
	}
}

func TestMemoryStore_TiesBrokenByInsertionOrder(t *testing.T) {
	store := NewMemoryStore(2)
	_ = store.Insert(context.Background(), []Record{
		{ID: "first", DocumentID: "d", Embedding: []float32{1, 0}},
		{ID: "second", DocumentID: "d", Embedding: []float32{1, 0}},
	})

	results, err := store.Search(context.Background(), []float32{1, 0}, 2, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if results[0].Record.ID != "first" || results[1].Record.ID != "second" {
		t.Errorf("tie order = %s, %s; want first, second", results[0].Record.ID, results[1].Record.ID)
	}
}

func TestMemoryStore_DeleteByDocumentID(t *testing.T) {
	store := seedStore(t)

	if err := store.DeleteByDocumentID(context.Background(), "doc-1"); err != nil {
		t.Fatalf("DeleteByDocumentID: %v", err)
	}
	if count, _ := store.Count(context.Background(), "doc-1"); count != 0 {
		t.Errorf("doc-1 count after delete = %d", count)
	}
	if count, _ := store.Count(context.Background(), "doc-2"); count != 1 {
		t.Errorf("doc-2 count = %d, want 1", count)
	}
}

func TestMemoryStore_DimensionCheck(t *testing.T) {
	store := NewMemoryStore(3)
	err := store.Insert(context.Background(), []Record{{ID: "x", DocumentID: "d", Embedding: []float32{1, 0}}})
	if err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1},
		{name: "orthogonal", a: []float32{1, 0}, b: []float32{0, 1}, want: 0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1},
		{name: "mismatched lengths", a: []float32{1}, b: []float32{1, 0}, want: 0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 0}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("CosineSimilarity = %f, want %f", got, tt.want)
			}
		})
	}
}
