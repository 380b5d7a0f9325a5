package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spike2204/intelligent-qa/internal/model"
	"github.com/spike2204/intelligent-qa/pkg/clients/llm"
)

// flakyClient answers every call except the chunk indexes listed in fail.
type flakyClient struct {
	fail  map[int]bool
	calls int
}

var _ llm.Client = (*flakyClient)(nil)

func (c *flakyClient) ModelName() string { return "test-model" }
func (c *flakyClient) Kind() string      { return "mock" }
func (c *flakyClient) Available() bool   { return true }

func (c *flakyClient) Chat(context.Context, llm.Request) (string, error) {
	call := c.calls
	c.calls++
	if c.fail[call] {
		return "", errors.New("provider unavailable")
	}
	return "  位于文档第一章，介绍安装步骤。 ", nil
}

func (c *flakyClient) StreamChat(context.Context, llm.Request) (<-chan string, <-chan error, error) {
	contentCh := make(chan string)
	errCh := make(chan error, 1)
	close(contentCh)
	close(errCh)
	return contentCh, errCh, nil
}

func newTestEnricher(client llm.Client) *Enricher {
	e := NewEnricher(client)
	e.pacing = 0 // no rate limit in tests
	return e
}

func TestEnrichChunks_SetsTrimmedPrefix(t *testing.T) {
	e := newTestEnricher(&flakyClient{})
	chunks := []model.DocumentChunk{{ID: "c0", DocumentID: "d", Content: "install instructions"}}

	out := e.EnrichChunks(context.Background(), "full document text", chunks)
	if got := out[0].ContextPrefix; got != "位于文档第一章，介绍安装步骤。" {
		t.Errorf("ContextPrefix = %q", got)
	}
	if got := out[0].IndexedContent(); !strings.HasPrefix(got, "位于文档第一章") || !strings.HasSuffix(got, "install instructions") {
		t.Errorf("IndexedContent = %q", got)
	}
}

func TestEnrichChunks_FailureIsNonFatal(t *testing.T) {
	e := newTestEnricher(&flakyClient{fail: map[int]bool{1: true}})
	chunks := []model.DocumentChunk{
		{ID: "c0", DocumentID: "d", ChunkIndex: 0, Content: "first"},
		{ID: "c1", DocumentID: "d", ChunkIndex: 1, Content: "second"},
		{ID: "c2", DocumentID: "d", ChunkIndex: 2, Content: "third"},
	}

	out := e.EnrichChunks(context.Background(), "doc", chunks)
	if out[0].ContextPrefix == "" || out[2].ContextPrefix == "" {
		t.Error("surviving chunks should keep their prefixes")
	}
	if out[1].ContextPrefix != "" {
		t.Errorf("failed chunk should have empty prefix, got %q", out[1].ContextPrefix)
	}
	// Raw content is untouched either way.
	if out[1].IndexedContent() != "second" {
		t.Errorf("IndexedContent without prefix = %q", out[1].IndexedContent())
	}
}

func TestEnrichChunks_CancelledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &flakyClient{}
	e := newTestEnricher(client)
	chunks := []model.DocumentChunk{{ID: "c0", Content: "a"}, {ID: "c1", Content: "b"}}

	out := e.EnrichChunks(ctx, "doc", chunks)
	if client.calls != 0 {
		t.Errorf("expected no calls after cancellation, got %d", client.calls)
	}
	for _, c := range out {
		if c.ContextPrefix != "" {
			t.Errorf("chunk %s unexpectedly enriched", c.ID)
		}
	}
}

func TestTruncateDocument(t *testing.T) {
	t.Run("short passes through", func(t *testing.T) {
		if got := truncateDocument("short"); got != "short" {
			t.Errorf("got %q", got)
		}
	})

	t.Run("long keeps head and tail", func(t *testing.T) {
		text := strings.Repeat("甲", 5000) + strings.Repeat("乙", 5000)
		got := truncateDocument(text)

		if !strings.Contains(got, "[... 中间内容已省略 ...]") {
			t.Error("missing ellipsis marker")
		}
		if !strings.HasPrefix(got, "甲") || !strings.HasSuffix(got, "乙") {
			t.Error("head or tail missing")
		}
		runes := len([]rune(got))
		if runes > documentWindow+len([]rune(ellipsisMarker)) {
			t.Errorf("window too large: %d runes", runes)
		}
	})
}
