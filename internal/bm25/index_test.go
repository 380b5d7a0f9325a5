package bm25

import (
	"math"
	"reflect"
	"testing"

	"github.com/spike2204/intelligent-qa/internal/model"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{name: "latin runs", text: "Hello, world-42!", want: []string{"hello", "world", "42"}},
		{name: "cjk singles", text: "向量检索", want: []string{"向", "量", "检", "索"}},
		{name: "mixed", text: "BM25算法 ranking", want: []string{"bm25", "算", "法", "ranking"}},
		{name: "empty", text: "  ,. ", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Tokenize(tt.text); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func indexFixture() *Index {
	idx := NewIndex()
	idx.IndexDocument("doc-1", []Entry{
		{ChunkID: "c0", DocumentID: "doc-1", Content: "common words about cooking pasta", Metadata: model.ChunkMetadata{ChunkIndex: 0}},
		{ChunkID: "c1", DocumentID: "doc-1", Content: "common words about zymurgy and brewing", Metadata: model.ChunkMetadata{ChunkIndex: 1}},
		{ChunkID: "c2", DocumentID: "doc-1", Content: "common words about gardening", Metadata: model.ChunkMetadata{ChunkIndex: 2}},
	})
	return idx
}

func TestSearch_RarestWordRanksItsChunkFirst(t *testing.T) {
	idx := indexFixture()

	results := idx.Search("doc-1", "zymurgy", 5)
	if len(results) == 0 {
		t.Fatal("no results for unique term")
	}
	if results[0].ChunkID != "c1" {
		t.Errorf("top chunk = %s, want c1", results[0].ChunkID)
	}
}

func TestSearch_NoMatchesReturnsEmpty(t *testing.T) {
	idx := indexFixture()
	if results := idx.Search("doc-1", "quantum", 5); len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestSearch_ScoresSortedDescending(t *testing.T) {
	idx := indexFixture()
	results := idx.Search("doc-1", "common cooking", 5)
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted at %d: %f > %f", i, results[i].Score, results[i-1].Score)
		}
	}
	if len(results) == 0 || results[0].ChunkID != "c0" {
		t.Errorf("expected c0 first for cooking query, got %+v", results)
	}
}

func TestAverageLength_Invariant(t *testing.T) {
	idx := NewIndex()
	idx.IndexDocument("doc-1", []Entry{
		{ChunkID: "a", Content: "one two three"},        // 3 tokens
		{ChunkID: "b", Content: "one two three four五"}, // 5 tokens
	})
	if got, want := idx.AverageLength("doc-1"), 4.0; math.Abs(got-want) > 1e-9 {
		t.Errorf("AverageLength = %f, want %f", got, want)
	}
}

func TestIndexDocument_ReplacesPreviousState(t *testing.T) {
	idx := indexFixture()
	idx.IndexDocument("doc-1", []Entry{{ChunkID: "n0", Content: "fresh content"}})

	if got := idx.ChunkCount("doc-1"); got != 1 {
		t.Errorf("ChunkCount = %d, want 1", got)
	}
	if results := idx.Search("doc-1", "zymurgy", 5); len(results) != 0 {
		t.Error("stale chunk still searchable after reindex")
	}
}

func TestDeleteDocument(t *testing.T) {
	idx := indexFixture()
	idx.DeleteDocument("doc-1")

	if got := idx.ChunkCount("doc-1"); got != 0 {
		t.Errorf("ChunkCount after delete = %d, want 0", got)
	}
	if results := idx.Search("doc-1", "common", 5); results != nil {
		t.Errorf("search after delete returned %d results", len(results))
	}
}

func TestSearchMulti_MergesAndDedupes(t *testing.T) {
	idx := NewIndex()
	idx.IndexDocument("doc-1", []Entry{
		{ChunkID: "a", DocumentID: "doc-1", Content: "shared term alpha"},
	})
	idx.IndexDocument("doc-2", []Entry{
		{ChunkID: "b", DocumentID: "doc-2", Content: "shared term beta"},
		{ChunkID: "c", DocumentID: "doc-2", Content: "unrelated text"},
	})

	results := idx.SearchMulti([]string{"doc-1", "doc-2"}, "shared term", 2)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	seen := map[string]bool{}
	for _, r := range results {
		if seen[r.ChunkID] {
			t.Errorf("duplicate chunk %s in merged results", r.ChunkID)
		}
		seen[r.ChunkID] = true
	}
}

func TestSearch_CJKQuery(t *testing.T) {
	idx := NewIndex()
	idx.IndexDocument("doc-1", []Entry{
		{ChunkID: "a", DocumentID: "doc-1", Content: "本章介绍向量检索的基本原理"},
		{ChunkID: "b", DocumentID: "doc-1", Content: "这里讨论烹饪技巧"},
	})

	results := idx.Search("doc-1", "向量检索", 5)
	if len(results) == 0 || results[0].ChunkID != "a" {
		t.Fatalf("expected chunk a first, got %+v", results)
	}
}
