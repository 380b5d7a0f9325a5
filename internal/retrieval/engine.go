// Package retrieval implements the hybrid retrieval engine: dense cosine
// search and per-document BM25 run in parallel and their rankings are
// merged with reciprocal rank fusion. Single-document queries additionally
// get query expansion and an LLM-predicted hierarchy pre-filter, both
// advisory and never fatal.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/spike2204/intelligent-qa/internal/bm25"
	"github.com/spike2204/intelligent-qa/internal/config"
	"github.com/spike2204/intelligent-qa/internal/model"
	"github.com/spike2204/intelligent-qa/internal/prompts"
	"github.com/spike2204/intelligent-qa/internal/redis"
	"github.com/spike2204/intelligent-qa/internal/repository"
	"github.com/spike2204/intelligent-qa/internal/router"
	"github.com/spike2204/intelligent-qa/internal/vectorstore"
	"github.com/spike2204/intelligent-qa/pkg/clients/embedding"
	"github.com/spike2204/intelligent-qa/pkg/clients/llm"
	"github.com/spike2204/intelligent-qa/pkg/logger"
	"github.com/spike2204/intelligent-qa/pkg/utils"
)

const (
	maxCitations         = 5
	citationExcerptRunes = 300
	fullDocExcerptRunes  = 200

	// Queries longer than this are already specific enough; expansion
	// only helps terse ones.
	expansionMaxQueryRunes = 50
	expansionMaxTokens     = 100
	expansionTemperature   = 0.3

	// FullDocumentChunkID marks a citation that covers the whole document
	// (small-document shortcut).
	FullDocumentChunkID = "full-document"
)

// Engine runs hybrid retrieval over the dense and lexical indexes.
type Engine struct {
	cfg       config.RAGConfig
	embedder  embedding.Embedder
	store     vectorstore.Store
	index     *bm25.Index
	router    *router.Router
	documents repository.DocumentRepository
	chunks    repository.ChunkRepository
	cache     *redis.CacheService // nil when redis is disabled
}

func NewEngine(
	cfg config.RAGConfig,
	embedder embedding.Embedder,
	store vectorstore.Store,
	index *bm25.Index,
	r *router.Router,
	documents repository.DocumentRepository,
	chunks repository.ChunkRepository,
	cache *redis.CacheService,
) *Engine {
	return &Engine{
		cfg:       cfg,
		embedder:  embedder,
		store:     store,
		index:     index,
		router:    r,
		documents: documents,
		chunks:    chunks,
		cache:     cache,
	}
}

// Retrieve assembles the grounding for query over documentIDs. An empty
// result (no citations) means nothing relevant was found; the caller picks
// the prompt accordingly.
func (e *Engine) Retrieve(ctx context.Context, query string, documentIDs []string) (*model.RetrievalResult, error) {
	if len(documentIDs) == 0 {
		return &model.RetrievalResult{}, nil
	}

	if len(documentIDs) == 1 {
		if result := e.smallDocument(ctx, documentIDs[0]); result != nil {
			return result, nil
		}
	}

	denseQuery := e.expandQuery(ctx, query, documentIDs)

	var (
		denseResults []vectorstore.SearchResult
		bm25Results  []bm25.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, err := e.denseSearch(gctx, denseQuery, query, documentIDs)
		if err != nil {
			// A dead embedding provider degrades to lexical-only search.
			logger.Get().Warn("向量检索失败，降级为 BM25 检索", "error", err)
			return nil
		}
		denseResults = results
		return nil
	})
	g.Go(func() error {
		bm25Results = e.index.SearchMulti(documentIDs, query, e.cfg.TopK)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := fuseRRF(e.cfg.TopK, denseCandidates(denseResults), bm25Candidates(bm25Results))
	return e.assemble(fused, len(documentIDs) > 1), nil
}

// smallDocument returns the whole-document grounding when the single
// selected document is small enough that chunked retrieval only loses
// information. Returns nil when the shortcut does not apply.
func (e *Engine) smallDocument(ctx context.Context, documentID string) *model.RetrievalResult {
	doc, err := e.documents.Get(ctx, documentID)
	if err != nil {
		return nil
	}
	if doc.ChunkCount > e.cfg.SmallDocumentThreshold || strings.TrimSpace(doc.FullText) == "" {
		return nil
	}

	logger.Get().Debug("小文档直通，跳过检索", "documentId", documentID, "chunkCount", doc.ChunkCount)
	return &model.RetrievalResult{
		Context: doc.FullText,
		Citations: []model.Citation{{
			ChunkID:      FullDocumentChunkID,
			DocumentID:   doc.ID,
			DocumentName: doc.Filename,
			Excerpt:      utils.Excerpt(doc.FullText, fullDocExcerptRunes),
			Score:        1,
		}},
	}
}

// expandQuery rewrites a terse single-document query into a fuller dense
// search query. The expansion is appended to the original, feeds only the
// dense branch, and any failure returns the query unchanged.
func (e *Engine) expandQuery(ctx context.Context, query string, documentIDs []string) string {
	if len(documentIDs) != 1 || len([]rune(query)) > expansionMaxQueryRunes {
		return query
	}

	expanded, err := e.router.Primary().Chat(ctx, llmRequest(prompts.QueryExpansion(query)))
	if err != nil {
		logger.Get().Warn("查询扩展失败，使用原始查询", "error", err)
		return query
	}
	expanded = strings.TrimSpace(expanded)
	if expanded == "" {
		return query
	}
	return query + " " + expanded
}

// denseSearch embeds denseQuery and searches the vector store. For a
// single document it first tries an LLM-predicted hierarchy filter and
// falls back to unfiltered search when the filtered slice looks too thin.
func (e *Engine) denseSearch(ctx context.Context, denseQuery, originalQuery string, documentIDs []string) ([]vectorstore.SearchResult, error) {
	vector, err := e.embedQuery(ctx, denseQuery)
	if err != nil {
		return nil, err
	}

	filter := vectorstore.Filter{DocumentIDs: documentIDs}
	hierarchy := ""
	if len(documentIDs) == 1 {
		filter = vectorstore.Filter{DocumentID: documentIDs[0]}
		hierarchy = e.router.PredictHierarchy(ctx, originalQuery, e.documentHierarchies(ctx, documentIDs[0]))
		filter.HierarchyPrefix = hierarchy
	}

	results, err := e.store.Search(ctx, vector, e.cfg.TopK, filter)
	if err != nil {
		return nil, err
	}

	if hierarchy != "" && e.filteredTooThin(results) {
		logger.Get().Info("层级过滤结果不足，回退全文档检索",
			"hierarchy", hierarchy, "filteredHits", len(results))
		filter.HierarchyPrefix = ""
		return e.store.Search(ctx, vector, e.cfg.TopK, filter)
	}
	return results, nil
}

// filteredTooThin decides whether a hierarchy-filtered result set is too
// weak to trust: too few hits, or a best score well under the similarity
// threshold band.
func (e *Engine) filteredTooThin(results []vectorstore.SearchResult) bool {
	minHits := e.cfg.TopK / 2
	if minHits < 2 {
		minHits = 2
	}
	if len(results) == 0 || len(results) < minHits {
		return true
	}
	return results[0].Score < e.cfg.SimilarityThreshold*1.2
}

// documentHierarchies returns the distinct non-empty hierarchy paths of a
// document, in chunk order.
func (e *Engine) documentHierarchies(ctx context.Context, documentID string) []string {
	chunks, err := e.chunks.ListByDocument(ctx, documentID)
	if err != nil {
		return nil
	}

	seen := make(map[string]struct{})
	var hierarchies []string
	for _, c := range chunks {
		if c.Hierarchy == "" {
			continue
		}
		if _, dup := seen[c.Hierarchy]; dup {
			continue
		}
		seen[c.Hierarchy] = struct{}{}
		hierarchies = append(hierarchies, c.Hierarchy)
	}
	return hierarchies
}

// embedQuery consults the embedding cache before calling the provider.
func (e *Engine) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.cache != nil {
		if vector, err := e.cache.GetEmbedding(ctx, text); err == nil && len(vector) > 0 {
			return vector, nil
		}
	}

	vector, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.CacheEmbedding(ctx, text, vector); err != nil {
			logger.Get().Debug("嵌入缓存写入失败", "error", err)
		}
	}
	return vector, nil
}

// assemble renders the fused candidates into the numbered context block
// and its citations. Multi-document retrievals tag each fragment with its
// source filename so the model can attribute.
func (e *Engine) assemble(fused []candidate, multiDocument bool) *model.RetrievalResult {
	if len(fused) == 0 {
		return &model.RetrievalResult{}
	}

	var sb strings.Builder
	citations := make([]model.Citation, 0, maxCitations)
	for i, c := range fused {
		sb.WriteString(fmt.Sprintf("[%d] ", i+1))
		if multiDocument && c.Metadata.Filename != "" {
			sb.WriteString(fmt.Sprintf("【文档：%s】", c.Metadata.Filename))
		}
		sb.WriteString(c.Content)
		sb.WriteString("\n\n")

		if len(citations) < maxCitations {
			citations = append(citations, model.Citation{
				ChunkID:      c.ChunkID,
				DocumentID:   c.DocumentID,
				DocumentName: c.Metadata.Filename,
				PageNumber:   c.Metadata.StartPage,
				Excerpt:      utils.Excerpt(c.Content, citationExcerptRunes),
				Score:        c.Score,
			})
		}
	}

	return &model.RetrievalResult{
		Context:   strings.TrimSpace(sb.String()),
		Citations: citations,
	}
}

func llmRequest(content string) llm.Request {
	return llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: content}},
		MaxTokens:   expansionMaxTokens,
		Temperature: expansionTemperature,
	}
}

func denseCandidates(results []vectorstore.SearchResult) []candidate {
	out := make([]candidate, 0, len(results))
	for _, r := range results {
		out = append(out, candidate{
			ChunkID:    r.Record.ID,
			DocumentID: r.Record.DocumentID,
			Content:    r.Record.Content,
			Metadata:   r.Record.Metadata,
			Score:      r.Score,
		})
	}
	return out
}

func bm25Candidates(results []bm25.Result) []candidate {
	out := make([]candidate, 0, len(results))
	for _, r := range results {
		out = append(out, candidate{
			ChunkID:    r.ChunkID,
			DocumentID: r.DocumentID,
			Content:    r.Content,
			Metadata:   r.Metadata,
			Score:      r.Score,
		})
	}
	return out
}
