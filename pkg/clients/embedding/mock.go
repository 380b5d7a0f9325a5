package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
)

// MockEmbedder produces deterministic pseudo-embeddings: the text hash
// seeds a Gaussian vector which is then L2-normalized. Identical texts
// always map to identical vectors, so cosine ranking stays stable across
// process restarts.
type MockEmbedder struct {
	dimension int
}

var _ Embedder = (*MockEmbedder)(nil)

func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &MockEmbedder{dimension: dimension}
}

func (m *MockEmbedder) Dimension() int { return m.dimension }

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, m.dimension)
	var norm float64
	for i := range vec {
		v := rng.NormFloat64() * 0.1
		vec[i] = float32(v)
		norm += v * v
	}

	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec, nil
}

func (m *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}
