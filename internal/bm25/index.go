// Package bm25 maintains per-document inverted indexes for lexical
// retrieval. Each document owns its own term statistics, so scores never
// leak across documents and deleting a document drops its whole index.
package bm25

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/spike2204/intelligent-qa/internal/model"
)

// BM25 constants.
const (
	k1 = 1.2
	b  = 0.75
)

// minPerDocTopK is the floor applied to the per-document limit in a
// multi-document search so small topK values still surface candidates
// from every document before the merged cut.
const minPerDocTopK = 5

// Entry is one chunk to index. Content is the display text returned in
// results; Indexed, when set, is the text actually tokenized (the chunk
// with its context prefix).
type Entry struct {
	ChunkID    string
	DocumentID string
	Content    string
	Indexed    string
	Metadata   model.ChunkMetadata
}

// Result is one scored chunk.
type Result struct {
	ChunkID    string
	DocumentID string
	Content    string
	Score      float64
	Metadata   model.ChunkMetadata
}

// chunkStats holds the per-chunk term table.
type chunkStats struct {
	entry    Entry
	termFreq map[string]int
	length   int
}

// docIndex is the complete inverted state of one document.
type docIndex struct {
	chunks    map[string]*chunkStats
	order     []string // chunk ids in index order, for stable ranking
	avgLength float64
}

// Index serves concurrent searches; per-document mutations swap the whole
// document entry under the write lock.
type Index struct {
	mu   sync.RWMutex
	docs map[string]*docIndex
}

func NewIndex() *Index {
	return &Index{docs: make(map[string]*docIndex)}
}

// IndexDocument (re)builds the inverted tables for one document. Existing
// state for the document is replaced atomically.
func (idx *Index) IndexDocument(documentID string, entries []Entry) {
	di := &docIndex{chunks: make(map[string]*chunkStats, len(entries))}

	totalLength := 0
	for _, entry := range entries {
		text := entry.Indexed
		if text == "" {
			text = entry.Content
		}
		tokens := Tokenize(text)
		tf := make(map[string]int, len(tokens))
		for _, token := range tokens {
			tf[token]++
		}
		di.chunks[entry.ChunkID] = &chunkStats{entry: entry, termFreq: tf, length: len(tokens)}
		di.order = append(di.order, entry.ChunkID)
		totalLength += len(tokens)
	}
	if len(entries) > 0 {
		di.avgLength = float64(totalLength) / float64(len(entries))
	}

	idx.mu.Lock()
	idx.docs[documentID] = di
	idx.mu.Unlock()
}

// DeleteDocument drops all index state for documentID.
func (idx *Index) DeleteDocument(documentID string) {
	idx.mu.Lock()
	delete(idx.docs, documentID)
	idx.mu.Unlock()
}

// ChunkCount returns the number of indexed chunks for documentID.
func (idx *Index) ChunkCount(documentID string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if di, ok := idx.docs[documentID]; ok {
		return len(di.chunks)
	}
	return 0
}

// AverageLength returns the mean chunk token length for documentID.
func (idx *Index) AverageLength(documentID string) float64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if di, ok := idx.docs[documentID]; ok {
		return di.avgLength
	}
	return 0
}

// Search scores query against one document and returns the topK chunks
// with positive scores, best first.
func (idx *Index) Search(documentID, query string, topK int) []Result {
	idx.mu.RLock()
	di, ok := idx.docs[documentID]
	idx.mu.RUnlock()
	if !ok || topK <= 0 {
		return nil
	}
	return di.search(documentID, query, topK)
}

// SearchMulti runs the per-document search over every id, merges, dedupes
// by chunk id, and truncates to topK. Each document is probed with an
// inflated limit so the merged ranking is not starved by a small topK.
func (idx *Index) SearchMulti(documentIDs []string, query string, topK int) []Result {
	if topK <= 0 {
		return nil
	}
	perDoc := topK
	if perDoc < minPerDocTopK {
		perDoc = minPerDocTopK
	}

	seen := make(map[string]struct{})
	var merged []Result
	for _, docID := range documentIDs {
		for _, r := range idx.Search(docID, query, perDoc) {
			if _, dup := seen[r.ChunkID]; dup {
				continue
			}
			seen[r.ChunkID] = struct{}{}
			merged = append(merged, r)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged
}

func (di *docIndex) search(documentID, query string, topK int) []Result {
	terms := Tokenize(query)
	if len(terms) == 0 || len(di.chunks) == 0 {
		return nil
	}

	n := float64(len(di.chunks))

	// Document frequency per distinct query term.
	df := make(map[string]int, len(terms))
	for _, term := range terms {
		if _, done := df[term]; done {
			continue
		}
		count := 0
		for _, cs := range di.chunks {
			if cs.termFreq[term] > 0 {
				count++
			}
		}
		df[term] = count
	}

	var results []Result
	for _, chunkID := range di.order {
		cs := di.chunks[chunkID]
		score := 0.0
		for term, d := range df {
			tf := cs.termFreq[term]
			if tf == 0 || d == 0 {
				continue
			}
			idf := math.Log((n-float64(d)+0.5)/(float64(d)+0.5) + 1)
			norm := float64(tf) + k1*(1-b+b*float64(cs.length)/di.avgLength)
			score += idf * float64(tf) * (k1 + 1) / norm
		}
		if score <= 0 {
			continue
		}
		results = append(results, Result{
			ChunkID:    chunkID,
			DocumentID: documentID,
			Content:    cs.entry.Content,
			Score:      score,
			Metadata:   cs.entry.Metadata,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Tokenize lowercases text and splits it into BM25 terms: every CJK
// ideograph is its own token, runs of letters and digits form one token,
// and everything else delimits.
func Tokenize(text string) []string {
	text = strings.ToLower(text)

	var tokens []string
	var run []rune
	flush := func() {
		if len(run) > 0 {
			tokens = append(tokens, string(run))
			run = run[:0]
		}
	}

	for _, r := range text {
		switch {
		case r >= 0x4E00 && r <= 0x9FA5:
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			run = append(run, r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
