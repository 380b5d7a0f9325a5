package chunking

import (
	"strings"
	"testing"
)

func newTestChunker(t *testing.T, size, overlap, min int) *Chunker {
	t.Helper()
	c, err := NewChunker(Config{ChunkSize: size, ChunkOverlap: overlap, MinChunkSize: min})
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}
	return c
}

func TestNewChunker_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{ChunkSize: 500, ChunkOverlap: 50, MinChunkSize: 100}},
		{name: "zero chunk size", cfg: Config{ChunkSize: 0, ChunkOverlap: 0, MinChunkSize: 0}, wantErr: true},
		{name: "overlap not below size", cfg: Config{ChunkSize: 100, ChunkOverlap: 100, MinChunkSize: 10}, wantErr: true},
		{name: "min above size", cfg: Config{ChunkSize: 100, ChunkOverlap: 10, MinChunkSize: 200}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewChunker(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewChunker() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestChunkDocument_HeadingHierarchy(t *testing.T) {
	c := newTestChunker(t, 500, 50, 3)

	text := "# Intro\n\nHello world.\n\n# Usage\n\nRun it."
	chunks, err := c.ChunkDocument("doc-1", text)
	if err != nil {
		t.Fatalf("ChunkDocument: %v", err)
	}

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Hierarchy != "Intro" || chunks[1].Hierarchy != "Usage" {
		t.Errorf("hierarchies = %q, %q; want Intro, Usage", chunks[0].Hierarchy, chunks[1].Hierarchy)
	}
	if chunks[0].Content != "Hello world." {
		t.Errorf("first chunk content = %q", chunks[0].Content)
	}
	for i, chunk := range chunks {
		if chunk.ChunkIndex != i {
			t.Errorf("chunk %d has index %d", i, chunk.ChunkIndex)
		}
		if chunk.DocumentID != "doc-1" {
			t.Errorf("chunk %d document id = %q", i, chunk.DocumentID)
		}
		if chunk.ID == "" {
			t.Errorf("chunk %d has empty id", i)
		}
		if chunk.TokenCount <= 0 {
			t.Errorf("chunk %d token count = %d", i, chunk.TokenCount)
		}
	}
}

func TestSplitSections_SiblingHeadingPops(t *testing.T) {
	// A level-2 heading replaces the previous level-2 entry on the stack,
	// so content under C sees "A > C" with B popped.
	text := "# A\n\nalpha\n\n## B\n\nbeta\n\n## C\n\ngamma"
	sections := SplitSections(text)

	if len(sections) != 3 {
		t.Fatalf("got %d sections, want 3", len(sections))
	}

	want := []struct{ heading, hierarchy, content string }{
		{"A", "A", "alpha"},
		{"B", "A > B", "beta"},
		{"C", "A > C", "gamma"},
	}
	for i, w := range want {
		if sections[i].Heading != w.heading {
			t.Errorf("section %d heading = %q, want %q", i, sections[i].Heading, w.heading)
		}
		if sections[i].Hierarchy != w.hierarchy {
			t.Errorf("section %d hierarchy = %q, want %q", i, sections[i].Hierarchy, w.hierarchy)
		}
		if sections[i].Content != w.content {
			t.Errorf("section %d content = %q, want %q", i, sections[i].Content, w.content)
		}
	}
}

func TestSplitSections_NumericAndChineseHeadings(t *testing.T) {
	text := "1. Basics\n\nintro text\n\n1.2 Volume\n\nvolume text\n\n第二章 安装\n\n安装说明"
	sections := SplitSections(text)

	if len(sections) != 3 {
		t.Fatalf("got %d sections, want 3", len(sections))
	}
	if sections[1].Hierarchy != "1. Basics > 1.2 Volume" {
		t.Errorf("numeric hierarchy = %q", sections[1].Hierarchy)
	}
	// A top-level Chinese chapter marker resets the stack.
	if sections[2].Hierarchy != "第二章 安装" {
		t.Errorf("chapter hierarchy = %q", sections[2].Hierarchy)
	}
}

func TestSplitSections_PreambleHasNoHierarchy(t *testing.T) {
	sections := SplitSections("leading text\n\n# First\n\nbody")
	if len(sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(sections))
	}
	if sections[0].Heading != "" || sections[0].Hierarchy != "" {
		t.Errorf("preamble section = %+v, want empty heading and hierarchy", sections[0])
	}
}

func TestChunkDocument_SizeBound(t *testing.T) {
	c := newTestChunker(t, 100, 20, 30)

	var sb strings.Builder
	sb.WriteString("# Long\n\n")
	for i := 0; i < 40; i++ {
		sb.WriteString("This sentence pads the section with repeated filler text.\n\n")
	}

	chunks, err := c.ChunkDocument("doc-1", sb.String())
	if err != nil {
		t.Fatalf("ChunkDocument: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if n := len([]rune(chunk.Content)); n > 100 {
			t.Errorf("chunk %d has %d runes, exceeds chunk size", i, n)
		}
	}
}

func TestChunkDocument_OverlapSeedsNextChunk(t *testing.T) {
	c := newTestChunker(t, 60, 15, 10)

	text := "# S\n\nfirst sentence block here\n\nsecond sentence block here\n\nthird sentence block here\n\nfourth sentence block here"
	chunks, err := c.ChunkDocument("doc-1", text)
	if err != nil {
		t.Fatalf("ChunkDocument: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// Each follow-up chunk starts with the tail of its predecessor.
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1].Content)
		tail := strings.TrimSpace(string(prev[len(prev)-15:]))
		if !strings.HasPrefix(chunks[i].Content, tail) {
			t.Errorf("chunk %d does not start with overlap tail %q: %q", i, tail, chunks[i].Content)
		}
	}
}

func TestChunkDocument_Coverage(t *testing.T) {
	c := newTestChunker(t, 80, 10, 5)

	text := "# One\n\naaa bbb ccc ddd eee fff ggg hhh iii jjj kkk lll mmm nnn ooo ppp qqq rrr sss ttt uuu vvv www xxx yyy zzz"
	chunks, err := c.ChunkDocument("doc-1", text)
	if err != nil {
		t.Fatalf("ChunkDocument: %v", err)
	}

	joined := ""
	for _, chunk := range chunks {
		joined += chunk.Content + " "
	}
	for _, word := range strings.Fields("aaa bbb mmm ttt zzz") {
		if !strings.Contains(joined, word) {
			t.Errorf("word %q missing from chunk output", word)
		}
	}
}

func TestChunkDocument_FixedWidthFallback(t *testing.T) {
	c := newTestChunker(t, 50, 10, 5)

	// No separator at all: one unbroken run must still be sliced.
	text := "# X\n\n" + strings.Repeat("x", 180)
	chunks, err := c.ChunkDocument("doc-1", text)
	if err != nil {
		t.Fatalf("ChunkDocument: %v", err)
	}
	if len(chunks) < 3 {
		t.Fatalf("expected fixed-width slices, got %d chunks", len(chunks))
	}
	total := 0
	for i, chunk := range chunks {
		if n := len([]rune(chunk.Content)); n > 50 {
			t.Errorf("slice %d has %d runes", i, n)
		}
		total += len(chunk.Content)
	}
	if total < 180 {
		t.Errorf("slices cover %d runes, want at least 180", total)
	}
}

func TestChunkDocument_SmallAccumulatorNeverOverflows(t *testing.T) {
	c := newTestChunker(t, 10, 0, 5)

	// The first segment is below the minimum size and appending the next
	// one overflows; the pair must be split deeper, not emitted oversized.
	chunks, err := c.ChunkDocument("doc-1", "abc\n\nabcdefghi")
	if err != nil {
		t.Fatalf("ChunkDocument: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("got no chunks")
	}

	joined := ""
	for i, chunk := range chunks {
		if n := len([]rune(chunk.Content)); n > 10 {
			t.Errorf("chunk %d has %d runes, exceeds chunk size: %q", i, n, chunk.Content)
		}
		joined += chunk.Content
	}
	for _, part := range []string{"abc", "abcdefghi"} {
		if !strings.Contains(joined, part) {
			t.Errorf("text %q missing from chunk output %q", part, joined)
		}
	}
}

func TestChunkDocument_TailMergeRespectsSizeBound(t *testing.T) {
	c := newTestChunker(t, 10, 0, 5)

	// The trailing fragment is below the minimum size but merging it into
	// the previous chunk would overflow, so it stands alone.
	chunks, err := c.ChunkDocument("doc-1", "abcdefghij\n\nhi")
	if err != nil {
		t.Fatalf("ChunkDocument: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Content != "abcdefghij" || chunks[1].Content != "hi" {
		t.Errorf("chunks = %q, %q; want abcdefghij, hi", chunks[0].Content, chunks[1].Content)
	}
	for i, chunk := range chunks {
		if n := len([]rune(chunk.Content)); n > 10 {
			t.Errorf("chunk %d has %d runes, exceeds chunk size", i, n)
		}
	}
}

func TestChunkDocument_CJKSentenceSplit(t *testing.T) {
	c := newTestChunker(t, 30, 5, 4)

	text := "# 中文\n\n" + strings.Repeat("这是一个完整的中文句子。", 8)
	chunks, err := c.ChunkDocument("doc-1", text)
	if err != nil {
		t.Fatalf("ChunkDocument: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if !strings.Contains(chunk.Content, "。") {
			t.Errorf("chunk %d lost its sentence terminator: %q", i, chunk.Content)
		}
	}
}

func TestChunkDocument_EmptyInput(t *testing.T) {
	c := newTestChunker(t, 500, 50, 100)
	if _, err := c.ChunkDocument("doc-1", "   \n  "); err == nil {
		t.Error("expected error for blank input")
	}
}
