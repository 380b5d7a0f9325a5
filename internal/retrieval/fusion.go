package retrieval

import (
	"sort"

	"github.com/spike2204/intelligent-qa/internal/model"
)

// rrfK dampens the rank contribution so the tail of each list still
// matters. 60 is the value from the original RRF paper and works well
// without tuning.
const rrfK = 60

// candidate is one chunk inside the fusion stage, list-agnostic.
type candidate struct {
	ChunkID    string
	DocumentID string
	Content    string
	Metadata   model.ChunkMetadata
	Score      float64
}

// fuseRRF merges ranked candidate lists by reciprocal rank fusion: each
// appearance contributes 1/(rrfK+rank), ranks starting at 1. The merged
// list is sorted by fused score, ties broken by chunk id so the result is
// deterministic regardless of list order, then cut to topK.
func fuseRRF(topK int, lists ...[]candidate) []candidate {
	fused := make(map[string]*candidate)

	for _, list := range lists {
		for rank, c := range list {
			contribution := 1.0 / float64(rrfK+rank+1)
			if existing, ok := fused[c.ChunkID]; ok {
				existing.Score += contribution
				continue
			}
			merged := c
			merged.Score = contribution
			fused[merged.ChunkID] = &merged
		}
	}

	out := make([]candidate, 0, len(fused))
	for _, c := range fused {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
