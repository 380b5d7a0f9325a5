// Package vectorstore defines the dense index contract and its two
// backends: a process-local cosine store and a pgvector-backed store. Both
// honor the same filter keys and top-K ordering, so callers never branch
// on the backend.
package vectorstore

import (
	"context"
	"errors"
	"strings"

	"github.com/spike2204/intelligent-qa/internal/model"
)

// ErrDimensionMismatch reports an embedding whose length differs from the
// store's fixed dimension.
var ErrDimensionMismatch = errors.New("vectorstore: embedding dimension mismatch")

// Record is one stored embedding with its source chunk.
type Record struct {
	ID         string
	DocumentID string
	Content    string
	Embedding  []float32
	Metadata   model.ChunkMetadata
}

// Filter narrows a search. DocumentID matches exactly, DocumentIDs matches
// membership, HierarchyPrefix matches records whose hierarchy path starts
// with the given prefix. Zero values are ignored.
type Filter struct {
	DocumentID      string
	DocumentIDs     []string
	HierarchyPrefix string
}

// Matches reports whether record passes every populated filter key.
func (f Filter) Matches(r *Record) bool {
	if f.DocumentID != "" && r.DocumentID != f.DocumentID {
		return false
	}
	if len(f.DocumentIDs) > 0 {
		found := false
		for _, id := range f.DocumentIDs {
			if r.DocumentID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.HierarchyPrefix != "" && !strings.HasPrefix(r.Metadata.Hierarchy, f.HierarchyPrefix) {
		return false
	}
	return true
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Record Record
	Score  float64
}

// Store is the dense index contract.
type Store interface {
	Insert(ctx context.Context, records []Record) error
	Search(ctx context.Context, queryVector []float32, topK int, filter Filter) ([]SearchResult, error)
	DeleteByDocumentID(ctx context.Context, documentID string) error
	Count(ctx context.Context, documentID string) (int, error)
}
