package server

import (
	"context"
	"fmt"
	"time"

	"github.com/spike2204/intelligent-qa/internal/bm25"
	"github.com/spike2204/intelligent-qa/internal/model"
	"github.com/spike2204/intelligent-qa/internal/vectorstore"
	"github.com/spike2204/intelligent-qa/pkg/logger"
)

// ingestTimeout bounds a whole pipeline run, Doc2X polling and enrichment
// included.
const ingestTimeout = 15 * time.Minute

// ingestState accumulates pipeline output across stages.
type ingestState struct {
	doc            *model.Document
	data           []byte
	skipEnrichment bool

	fullText string
	chunks   []model.DocumentChunk
	vectors  [][]float32
}

// ingestStage is one named step of the pipeline; a returned error aborts
// the run and fails the document.
type ingestStage struct {
	name string
	run  func(ctx context.Context, st *ingestState) error
}

func (s *Server) ingestStages() []ingestStage {
	return []ingestStage{
		{name: "解析文档", run: s.runParseStage},
		{name: "切分文档", run: s.runChunkStage},
		{name: "上下文增强", run: s.runEnrichStage},
		{name: "保存分块", run: s.runPersistStage},
		{name: "生成向量", run: s.runEmbedStage},
		{name: "建立索引", run: s.runIndexStage},
	}
}

// ingestDocument drives the async pipeline for one uploaded document. It
// runs detached from the upload request and moves the document exactly
// once from PROCESSING to READY or FAILED.
func (s *Server) ingestDocument(doc *model.Document, data []byte, skipEnrichment bool) {
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	st := &ingestState{doc: doc, data: data, skipEnrichment: skipEnrichment}
	started := time.Now()

	for _, stage := range s.ingestStages() {
		if err := stage.run(ctx, st); err != nil {
			logger.Get().Error("文档处理流水线失败",
				"documentId", doc.ID, "stage", stage.name, "error", err)
			s.markFailed(ctx, doc, fmt.Errorf("%s: %w", stage.name, err))
			return
		}
	}

	s.markReady(ctx, st)
	logger.Get().Info("文档处理完成",
		"documentId", doc.ID,
		"chunks", len(st.chunks),
		"elapsed", time.Since(started).String())
}

func (s *Server) runParseStage(ctx context.Context, st *ingestState) error {
	text, err := s.parsers.Parse(ctx, st.doc.FileType, st.doc.Filename, st.data)
	if err != nil {
		return err
	}
	st.fullText = text

	if s.cache != nil {
		if err := s.cache.CacheDocumentContent(ctx, st.doc.ID, text); err != nil {
			logger.Get().Debug("文档内容缓存写入失败", "documentId", st.doc.ID, "error", err)
		}
	}
	return nil
}

func (s *Server) runChunkStage(_ context.Context, st *ingestState) error {
	chunks, err := s.chunker.ChunkDocument(st.doc.ID, st.fullText)
	if err != nil {
		return err
	}
	st.chunks = chunks
	return nil
}

func (s *Server) runEnrichStage(ctx context.Context, st *ingestState) error {
	if st.skipEnrichment || !s.cfg.RAG.ContextualRetrievalEnabled {
		return nil
	}
	// Enrichment is advisory: per-chunk failures already degrade inside
	// the enricher, so this stage never fails the pipeline.
	st.chunks = s.enricher.EnrichChunks(ctx, st.fullText, st.chunks)
	return nil
}

func (s *Server) runPersistStage(ctx context.Context, st *ingestState) error {
	return s.chunks.SaveAll(ctx, st.chunks)
}

func (s *Server) runEmbedStage(ctx context.Context, st *ingestState) error {
	texts := make([]string, len(st.chunks))
	for i := range st.chunks {
		texts[i] = st.chunks[i].IndexedContent()
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(st.chunks) {
		return fmt.Errorf("embedding count %d does not match chunk count %d", len(vectors), len(st.chunks))
	}
	st.vectors = vectors
	return nil
}

func (s *Server) runIndexStage(ctx context.Context, st *ingestState) error {
	records := make([]vectorstore.Record, len(st.chunks))
	entries := make([]bm25.Entry, len(st.chunks))
	for i := range st.chunks {
		c := &st.chunks[i]
		meta := model.ChunkMetadata{
			Filename:   st.doc.Filename,
			ChunkIndex: c.ChunkIndex,
			Heading:    c.Heading,
			Hierarchy:  c.Hierarchy,
			StartPage:  c.StartPage,
		}
		records[i] = vectorstore.Record{
			ID:         c.ID,
			DocumentID: c.DocumentID,
			Content:    c.Content,
			Embedding:  st.vectors[i],
			Metadata:   meta,
		}
		entries[i] = bm25.Entry{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Content:    c.Content,
			Indexed:    c.IndexedContent(),
			Metadata:   meta,
		}
	}

	if err := s.vectors.Insert(ctx, records); err != nil {
		return err
	}
	s.index.IndexDocument(st.doc.ID, entries)
	return nil
}

func (s *Server) markReady(ctx context.Context, st *ingestState) {
	st.doc.Status = model.StatusReady
	st.doc.ChunkCount = len(st.chunks)
	st.doc.FullText = st.fullText
	st.doc.ErrorMessage = ""
	if err := s.documents.Update(ctx, st.doc); err != nil {
		logger.Get().Error("文档状态更新失败", "documentId", st.doc.ID, "error", err)
	}
}

func (s *Server) markFailed(ctx context.Context, doc *model.Document, cause error) {
	doc.Status = model.StatusFailed
	doc.ErrorMessage = cause.Error()
	if err := s.documents.Update(ctx, doc); err != nil {
		logger.Get().Error("文档状态更新失败", "documentId", doc.ID, "error", err)
	}
}

// reindexDocument rebuilds the vector and BM25 entries of one document
// from its persisted chunks.
func (s *Server) reindexDocument(doc *model.Document) {
	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	chunks, err := s.chunks.ListByDocument(ctx, doc.ID)
	if err != nil {
		s.markFailed(ctx, doc, fmt.Errorf("读取分块: %w", err))
		return
	}
	if len(chunks) == 0 {
		s.markFailed(ctx, doc, fmt.Errorf("文档没有可重建的分块"))
		return
	}

	if err := s.vectors.DeleteByDocumentID(ctx, doc.ID); err != nil {
		s.markFailed(ctx, doc, fmt.Errorf("清理旧向量: %w", err))
		return
	}

	st := &ingestState{doc: doc, chunks: chunks, fullText: doc.FullText}
	for _, stage := range []ingestStage{
		{name: "生成向量", run: s.runEmbedStage},
		{name: "建立索引", run: s.runIndexStage},
	} {
		if err := stage.run(ctx, st); err != nil {
			logger.Get().Error("重建索引失败", "documentId", doc.ID, "stage", stage.name, "error", err)
			s.markFailed(ctx, doc, fmt.Errorf("%s: %w", stage.name, err))
			return
		}
	}

	s.markReady(ctx, st)
	logger.Get().Info("文档索引已重建", "documentId", doc.ID, "chunks", len(chunks))
}

// WarmIndexes rebuilds the in-process BM25 index from persisted chunks of
// READY documents. The vector store is durable; BM25 is not, so it is
// reconstructed on every boot.
func (s *Server) WarmIndexes(ctx context.Context) error {
	docs, err := s.documents.List(ctx)
	if err != nil {
		return fmt.Errorf("warm indexes: %w", err)
	}

	warmed := 0
	for i := range docs {
		if docs[i].Status != model.StatusReady {
			continue
		}
		chunks, err := s.chunks.ListByDocument(ctx, docs[i].ID)
		if err != nil {
			return fmt.Errorf("warm indexes: %w", err)
		}
		entries := make([]bm25.Entry, len(chunks))
		for j := range chunks {
			c := &chunks[j]
			entries[j] = bm25.Entry{
				ChunkID:    c.ID,
				DocumentID: c.DocumentID,
				Content:    c.Content,
				Indexed:    c.IndexedContent(),
				Metadata: model.ChunkMetadata{
					Filename:   docs[i].Filename,
					ChunkIndex: c.ChunkIndex,
					Heading:    c.Heading,
					Hierarchy:  c.Hierarchy,
					StartPage:  c.StartPage,
				},
			}
		}
		s.index.IndexDocument(docs[i].ID, entries)
		warmed++
	}

	if warmed > 0 {
		logger.Get().Info("BM25 索引已重建", "documents", warmed)
	}
	return nil
}
