package parser

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/spike2204/intelligent-qa/pkg/clients/doc2x"
)

func TestRegistry(t *testing.T) {
	reg := NewRegistry(NewMarkdownParser())

	t.Run("dispatches by extension", func(t *testing.T) {
		got, err := reg.Parse(context.Background(), "md", "a.md", []byte("# Title\n\nbody"))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if !strings.HasPrefix(got, "# Title") {
			t.Errorf("got %q", got)
		}
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := reg.Parse(context.Background(), "docx", "a.docx", []byte("x"))
		var perr *ProcessError
		if !errors.As(err, &perr) {
			t.Fatalf("want ProcessError, got %v", err)
		}
	})

	t.Run("empty output is an error", func(t *testing.T) {
		_, err := reg.Parse(context.Background(), "txt", "a.txt", []byte("   \n\n  "))
		var perr *ProcessError
		if !errors.As(err, &perr) {
			t.Fatalf("want ProcessError, got %v", err)
		}
	})

	t.Run("supports", func(t *testing.T) {
		if !reg.Supports("MD") || reg.Supports("docx") {
			t.Error("Supports misreported")
		}
	})
}

func TestMarkdownParser(t *testing.T) {
	p := NewMarkdownParser()

	tests := []struct {
		name  string
		input string
		want  []string // substrings that must appear
		avoid []string
	}{
		{
			name:  "headings keep their markers",
			input: "# 快速入门\n\n## 安装\n\n运行安装脚本。",
			want:  []string{"# 快速入门", "## 安装", "运行安装脚本。"},
		},
		{
			name:  "inline formatting is stripped",
			input: "This is **bold** and *italic* with `code`.",
			want:  []string{"This is bold and italic with code."},
			avoid: []string{"**", "*italic*", "`"},
		},
		{
			name:  "soft line breaks become newlines",
			input: "line one\nline two",
			want:  []string{"line one\nline two"},
		},
		{
			name:  "list items get dashes",
			input: "- apple\n- banana",
			want:  []string{"- apple", "- banana"},
		},
		{
			name:  "fenced code survives verbatim",
			input: "```go\nfmt.Println(\"hi\")\n```",
			want:  []string{`fmt.Println("hi")`},
			avoid: []string{"```"},
		},
		{
			name:  "multi-line code block keeps every line",
			input: "```go\nfunc main() {\n\tfmt.Println(\"a\")\n\tfmt.Println(\"b\")\n}\n```",
			want:  []string{"func main() {", `fmt.Println("a")`, `fmt.Println("b")`},
			avoid: []string{"```"},
		},
		{
			name:  "plain text paragraphs",
			input: "第一段内容。\n\n第二段内容。",
			want:  []string{"第一段内容。\n\n第二段内容。"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Parse(context.Background(), "doc.md", []byte(tt.input))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("output missing %q:\n%s", w, got)
				}
			}
			for _, a := range tt.avoid {
				if strings.Contains(got, a) {
					t.Errorf("output should not contain %q:\n%s", a, got)
				}
			}
		})
	}
}

func TestNormalizePDFText(t *testing.T) {
	input := strings.Join([]string{
		"第一章 概述",
		"本章介绍系统整体结构。",
		"- 3 -",
		"1. 架构设计",
		"系统由三层组成。",
		"1.2 数据层",
		"一、概述",
		"● 存储模块",
		"• 缓存模块",
		"12",
	}, "\n")

	got := normalizePDFText(input)

	for _, want := range []string{
		"## 第一章 概述",
		"## 1. 架构设计",
		"### 1.2 数据层",
		"## 一、概述",
		"- 存储模块",
		"- 缓存模块",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
	for _, avoid := range []string{"- 3 -", "\n12"} {
		if strings.Contains(got, avoid) {
			t.Errorf("page number %q survived:\n%s", avoid, got)
		}
	}
	if strings.Contains(got, "\n\n\n") {
		t.Error("blank lines not collapsed")
	}
	// Sub-section rule wins over the chapter rule for dotted numbers.
	if strings.Contains(got, "\n## 1.2 数据层") {
		t.Error("1.2 matched the chapter rule")
	}
}

// stubConverter records whether the Doc2X fallback fired.
type stubConverter struct {
	markdown string
	err      error
	called   bool
}

var _ doc2x.DocumentConverter = (*stubConverter)(nil)

func (s *stubConverter) UploadPDF(context.Context, []byte) (*doc2x.UploadResponse, error) {
	return nil, errors.New("not used")
}

func (s *stubConverter) GetStatus(context.Context, string) (*doc2x.StatusResponse, error) {
	return nil, errors.New("not used")
}

func (s *stubConverter) WaitForParsing(context.Context, string, time.Duration) (*doc2x.StatusResponse, error) {
	return nil, errors.New("not used")
}

func (s *stubConverter) ConvertToMarkdown(context.Context, []byte) (string, error) {
	s.called = true
	return s.markdown, s.err
}

// memConversionCache is an in-memory ConversionCache for tests.
type memConversionCache struct {
	entries map[string]string
	gets    int
	puts    int
}

var _ ConversionCache = (*memConversionCache)(nil)

func newMemConversionCache() *memConversionCache {
	return &memConversionCache{entries: make(map[string]string)}
}

func (m *memConversionCache) GetDoc2XResult(_ context.Context, md5Hash string) (string, error) {
	m.gets++
	return m.entries[md5Hash], nil
}

func (m *memConversionCache) CacheDoc2XResult(_ context.Context, md5Hash string, markdown string) error {
	m.puts++
	m.entries[md5Hash] = markdown
	return nil
}

func TestPDFParser_FallsBackToConverter(t *testing.T) {
	conv := &stubConverter{markdown: "# 扫描文档\n\n内容"}
	p := NewPDFParser(conv, nil, 100)

	got, err := p.Parse(context.Background(), "scan.pdf", []byte("not a real pdf"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !conv.called {
		t.Fatal("converter was not invoked")
	}
	if got != "# 扫描文档\n\n内容" {
		t.Errorf("got %q", got)
	}
}

func TestPDFParser_ConversionCacheSkipsConverter(t *testing.T) {
	cache := newMemConversionCache()

	first := &stubConverter{markdown: "# 扫描文档"}
	p := NewPDFParser(first, cache, 100)
	if _, err := p.Parse(context.Background(), "scan.pdf", []byte("same bytes")); err != nil {
		t.Fatalf("first Parse: %v", err)
	}
	if !first.called || cache.puts != 1 {
		t.Fatalf("first parse: called=%v puts=%d", first.called, cache.puts)
	}

	// Same bytes again: the cached result answers, no conversion runs.
	second := &stubConverter{markdown: "should not be used"}
	p = NewPDFParser(second, cache, 100)
	got, err := p.Parse(context.Background(), "scan.pdf", []byte("same bytes"))
	if err != nil {
		t.Fatalf("second Parse: %v", err)
	}
	if second.called {
		t.Error("converter ran despite a cache hit")
	}
	if got != "# 扫描文档" {
		t.Errorf("got %q", got)
	}
}

func TestPDFParser_NoConverterFails(t *testing.T) {
	p := NewPDFParser(nil, nil, 100)

	_, err := p.Parse(context.Background(), "scan.pdf", []byte("not a real pdf"))
	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("want ProcessError, got %v", err)
	}
}

func TestPDFParser_ConverterErrorSurfaces(t *testing.T) {
	conv := &stubConverter{err: errors.New("service down")}
	p := NewPDFParser(conv, nil, 100)

	_, err := p.Parse(context.Background(), "scan.pdf", []byte("junk"))
	var perr *ProcessError
	if !errors.As(err, &perr) {
		t.Fatalf("want ProcessError, got %v", err)
	}
}
