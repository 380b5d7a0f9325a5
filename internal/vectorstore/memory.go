package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryStore is the default backend: one map of records scanned linearly
// per search. Brute force is fine for the tens of thousands of chunks a
// single deployment holds.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]*memoryRecord
	seq       int64
}

type memoryRecord struct {
	record Record
	seq    int64 // insertion order, breaks score ties deterministically
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{dimension: dimension, records: make(map[string]*memoryRecord)}
}

func (s *MemoryStore) Insert(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if s.dimension > 0 && len(r.Embedding) != s.dimension {
			return ErrDimensionMismatch
		}
		s.seq++
		s.records[r.ID] = &memoryRecord{record: r, seq: s.seq}
	}
	return nil
}

func (s *MemoryStore) Search(_ context.Context, queryVector []float32, topK int, filter Filter) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	type scored struct {
		result SearchResult
		seq    int64
	}
	candidates := make([]scored, 0, len(s.records))
	for _, mr := range s.records {
		if !filter.Matches(&mr.record) {
			continue
		}
		candidates = append(candidates, scored{
			result: SearchResult{Record: mr.record, Score: CosineSimilarity(queryVector, mr.record.Embedding)},
			seq:    mr.seq,
		})
	}
	s.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].result.Score != candidates[j].result.Score {
			return candidates[i].result.Score > candidates[j].result.Score
		}
		return candidates[i].seq < candidates[j].seq
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	results := make([]SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = c.result
	}
	return results, nil
}

func (s *MemoryStore) DeleteByDocumentID(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, mr := range s.records {
		if mr.record.DocumentID == documentID {
			delete(s.records, id)
		}
	}
	return nil
}

func (s *MemoryStore) Count(_ context.Context, documentID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, mr := range s.records {
		if mr.record.DocumentID == documentID {
			count++
		}
	}
	return count, nil
}

// CosineSimilarity accumulates in float64 to keep long vectors stable.
// Mismatched or zero-norm inputs score zero instead of erroring, matching
// how a distance metric treats degenerate points.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
