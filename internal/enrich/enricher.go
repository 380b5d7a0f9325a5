// Package enrich implements contextual retrieval: before indexing, each
// chunk gets a one-sentence locator generated by the LLM that situates it
// inside its document. The locator is prepended for embedding and BM25
// indexing only; display and citations keep the raw chunk text.
package enrich

import (
	"context"
	"strings"
	"time"

	"github.com/spike2204/intelligent-qa/internal/model"
	"github.com/spike2204/intelligent-qa/internal/prompts"
	"github.com/spike2204/intelligent-qa/pkg/clients/llm"
	"github.com/spike2204/intelligent-qa/pkg/logger"
)

const (
	// documentWindow bounds how much of the document the prompt carries.
	documentWindow = 6000
	// ellipsisMarker replaces the elided middle of a long document.
	ellipsisMarker = "\n[... 中间内容已省略 ...]\n"

	enrichMaxTokens   = 100
	enrichTemperature = 0.2

	// callPacing spaces out provider calls to stay under rate limits.
	callPacing = 100 * time.Millisecond
)

// Enricher generates context prefixes for chunks.
type Enricher struct {
	client llm.Client
	pacing time.Duration
}

func NewEnricher(client llm.Client) *Enricher {
	return &Enricher{client: client, pacing: callPacing}
}

// EnrichChunks fills ContextPrefix on every chunk it can. Individual call
// failures are logged and leave that chunk's prefix empty; enrichment
// never fails the ingest. Cancelling ctx stops the loop early.
func (e *Enricher) EnrichChunks(ctx context.Context, fullText string, chunks []model.DocumentChunk) []model.DocumentChunk {
	window := truncateDocument(fullText)

	for i := range chunks {
		if ctx.Err() != nil {
			logger.Get().Warn("上下文增强被取消", "completed", i, "total", len(chunks))
			return chunks
		}

		prefix, err := e.enrichOne(ctx, window, chunks[i].Content)
		if err != nil {
			logger.Get().Warn("分块上下文生成失败",
				"documentId", chunks[i].DocumentID,
				"chunkIndex", chunks[i].ChunkIndex,
				"error", err)
		} else {
			chunks[i].ContextPrefix = prefix
		}

		if i < len(chunks)-1 && e.pacing > 0 {
			select {
			case <-time.After(e.pacing):
			case <-ctx.Done():
				return chunks
			}
		}
	}
	return chunks
}

func (e *Enricher) enrichOne(ctx context.Context, window, chunk string) (string, error) {
	reply, err := e.client.Chat(ctx, llm.Request{
		SystemPrompt: prompts.EnrichmentSystem,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: prompts.Enrichment(window, chunk)},
		},
		MaxTokens:   enrichMaxTokens,
		Temperature: enrichTemperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// truncateDocument keeps the head two thirds and the tail third of a
// documentWindow-sized view, joined by the ellipsis marker. Short
// documents pass through whole.
func truncateDocument(text string) string {
	runes := []rune(text)
	if len(runes) <= documentWindow {
		return text
	}

	head := documentWindow * 2 / 3
	tail := documentWindow - head
	return string(runes[:head]) + ellipsisMarker + string(runes[len(runes)-tail:])
}
