// Package server exposes the REST + SSE surface of the service and hosts
// the two orchestrations that tie the pipeline together: document
// ingestion and chat answering.
package server

import (
	"net/http"

	"github.com/spike2204/intelligent-qa/internal/bm25"
	"github.com/spike2204/intelligent-qa/internal/chunking"
	"github.com/spike2204/intelligent-qa/internal/config"
	"github.com/spike2204/intelligent-qa/internal/contextmgr"
	"github.com/spike2204/intelligent-qa/internal/enrich"
	"github.com/spike2204/intelligent-qa/internal/parser"
	"github.com/spike2204/intelligent-qa/internal/redis"
	"github.com/spike2204/intelligent-qa/internal/repository"
	"github.com/spike2204/intelligent-qa/internal/retrieval"
	"github.com/spike2204/intelligent-qa/internal/router"
	"github.com/spike2204/intelligent-qa/internal/vectorstore"
	"github.com/spike2204/intelligent-qa/pkg/clients/embedding"
	"github.com/spike2204/intelligent-qa/pkg/logger"
	"github.com/spike2204/intelligent-qa/pkg/storage"
)

// Server carries every dependency the handlers need. Optional backends
// (object storage, cache) are nil when disabled in config.
type Server struct {
	cfg       config.Config
	parsers   *parser.Registry
	chunker   *chunking.Chunker
	enricher  *enrich.Enricher
	embedder  embedding.Embedder
	vectors   vectorstore.Store
	index     *bm25.Index
	retriever *retrieval.Engine
	router    *router.Router
	contexts  *contextmgr.Manager
	documents repository.DocumentRepository
	chunks    repository.ChunkRepository
	storage   storage.ObjectStorage
	cache     *redis.CacheService
}

// Deps bundles the Server constructor arguments; fx fills it.
type Deps struct {
	Config    config.Config
	Parsers   *parser.Registry
	Chunker   *chunking.Chunker
	Enricher  *enrich.Enricher
	Embedder  embedding.Embedder
	Vectors   vectorstore.Store
	Index     *bm25.Index
	Retriever *retrieval.Engine
	Router    *router.Router
	Contexts  *contextmgr.Manager
	Documents repository.DocumentRepository
	Chunks    repository.ChunkRepository
	Storage   storage.ObjectStorage
	Cache     *redis.CacheService
}

func NewServer(deps Deps) *Server {
	return &Server{
		cfg:       deps.Config,
		parsers:   deps.Parsers,
		chunker:   deps.Chunker,
		enricher:  deps.Enricher,
		embedder:  deps.Embedder,
		vectors:   deps.Vectors,
		index:     deps.Index,
		retriever: deps.Retriever,
		router:    deps.Router,
		contexts:  deps.Contexts,
		documents: deps.Documents,
		chunks:    deps.Chunks,
		storage:   deps.Storage,
		cache:     deps.Cache,
	}
}

// Routes builds the service mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/documents", s.handleUploadDocument)
	mux.HandleFunc("GET /api/documents", s.handleListDocuments)
	mux.HandleFunc("GET /api/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("GET /api/documents/{id}/content", s.handleDocumentContent)
	mux.HandleFunc("GET /api/documents/{id}/chunks", s.handleListChunks)
	mux.HandleFunc("GET /api/documents/{id}/download", s.handleDownloadDocument)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDeleteDocument)
	mux.HandleFunc("POST /api/documents/{id}/reindex", s.handleReindexDocument)
	mux.HandleFunc("POST /api/documents/preupload", s.handlePreupload)

	mux.HandleFunc("POST /api/chat/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/chat/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/chat/sessions/{id}", s.handleClearSession)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/chat/stream", s.handleChatStream)

	mux.HandleFunc("GET /healthz", s.handleHealthz)

	return mux
}

// handleHealthz reports liveness plus the state of the optional cache
// backend; a degraded cache does not fail the check.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"status": "ok"}
	if s.cache != nil {
		if err := s.cache.Ping(r.Context()); err != nil {
			logger.Get().Warn("缓存健康检查失败", "error", err)
			resp["cache"] = "down"
		} else {
			resp["cache"] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
