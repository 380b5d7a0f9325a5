package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spike2204/intelligent-qa/internal/model"
	"github.com/spike2204/intelligent-qa/internal/parser"
	"github.com/spike2204/intelligent-qa/internal/repository"
	"github.com/spike2204/intelligent-qa/pkg/logger"
)

const presignedURLExpiry = 15 * time.Minute

// handleUploadDocument accepts a multipart upload, validates it, stores
// the original, inserts the PROCESSING row, and kicks off the async
// pipeline. The response returns immediately with status PROCESSING.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Document.MaxFileSize
	if r.ContentLength > maxSize {
		writeError(w, fmt.Errorf("%w: %d bytes over limit %d", errFileTooLarge, r.ContentLength, maxSize))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("%w: missing multipart field \"file\"", errInvalidArgument))
		return
	}
	defer file.Close()

	if header.Size > maxSize {
		writeError(w, fmt.Errorf("%w: %d bytes over limit %d", errFileTooLarge, header.Size, maxSize))
		return
	}

	fileType := strings.TrimPrefix(strings.ToLower(filepath.Ext(header.Filename)), ".")
	if !s.allowedType(fileType) || !s.parsers.Supports(fileType) {
		writeError(w, parser.NewProcessError(header.Filename,
			fmt.Errorf("unsupported file type %q", fileType)))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, fmt.Errorf("read upload: %w", err))
		return
	}

	doc := &model.Document{
		ID:       uuid.NewString(),
		Filename: header.Filename,
		FileType: fileType,
		FileSize: int64(len(data)),
		Status:   model.StatusUploading,
	}

	if s.storage != nil {
		doc.ObjectKey = s.objectKey(doc.ID, header.Filename)
		if err := s.storage.UploadFile(r.Context(), doc.ObjectKey, bytes.NewReader(data), int64(len(data)), header.Header.Get("Content-Type")); err != nil {
			writeError(w, fmt.Errorf("store original: %w", err))
			return
		}
	}

	// The original is safely stored; the row enters the parse pipeline.
	doc.Status = model.StatusProcessing
	if err := s.documents.Create(r.Context(), doc); err != nil {
		writeError(w, err)
		return
	}

	skipEnrichment := r.URL.Query().Get("skipEnrichment") == "true"
	go s.ingestDocument(doc, data, skipEnrichment)

	logger.Get().Info("文档已接收",
		"documentId", doc.ID, "filename", doc.Filename, "size", doc.FileSize)
	writeJSON(w, http.StatusCreated, documentDto(doc, false))
}

func (s *Server) allowedType(fileType string) bool {
	for _, t := range s.cfg.AllowedTypeList() {
		if t == fileType {
			return true
		}
	}
	return false
}

func (s *Server) objectKey(docID, filename string) string {
	prefix := strings.Trim(s.cfg.Document.StoragePath, "./")
	if prefix == "" {
		prefix = "uploads"
	}
	return fmt.Sprintf("%s/%s_%s", prefix, docID, filename)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.documents.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]DocumentDto, 0, len(docs))
	for i := range docs {
		dtos = append(dtos, documentDto(&docs[i], false))
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentDto(doc, true))
}

// handleDocumentContent serves the rendered full text, preferring the
// cache over the document row.
func (s *Server) handleDocumentContent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if s.cache != nil {
		if content, err := s.cache.GetDocumentContent(r.Context(), id); err == nil && content != "" {
			writeJSON(w, http.StatusOK, map[string]string{"content": content})
			return
		}
	}

	doc, err := s.documents.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.cache != nil && doc.FullText != "" {
		if err := s.cache.CacheDocumentContent(r.Context(), id, doc.FullText); err != nil {
			logger.Get().Debug("文档内容缓存写入失败", "documentId", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": doc.FullText})
}

func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.documents.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	chunks, err := s.chunks.ListByDocument(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	dtos := make([]ChunkDto, 0, len(chunks))
	for i := range chunks {
		dtos = append(dtos, chunkDto(&chunks[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// handleDownloadDocument serves the stored original file. With
// presign=true the response carries a presigned URL so the bytes flow
// straight from object storage; otherwise the file is streamed through.
func (s *Server) handleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := s.documents.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if s.storage == nil || doc.ObjectKey == "" {
		writeError(w, fmt.Errorf("%w: no stored original for document %s", repository.ErrNotFound, id))
		return
	}

	if r.URL.Query().Get("presign") == "true" {
		url, err := s.storage.GeneratePresignedDownloadURL(r.Context(), doc.ObjectKey, presignedURLExpiry)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"downloadUrl": url})
		return
	}

	exists, err := s.storage.CheckFileExists(r.Context(), doc.ObjectKey)
	if err != nil {
		writeError(w, err)
		return
	}
	if !exists {
		writeError(w, fmt.Errorf("%w: object %s", repository.ErrNotFound, doc.ObjectKey))
		return
	}

	reader, err := s.storage.DownloadFile(r.Context(), doc.ObjectKey)
	if err != nil {
		writeError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename))
	if _, err := io.Copy(w, reader); err != nil {
		logger.Get().Warn("文件下载中断", "documentId", id, "error", err)
	}
}

// handleDeleteDocument removes the document and cascades to every derived
// artifact: vectors, BM25 entries, chunks, cache, and the stored object.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := s.documents.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := s.vectors.DeleteByDocumentID(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	s.index.DeleteDocument(id)

	if err := s.chunks.DeleteByDocument(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.documents.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	if s.cache != nil {
		if err := s.cache.InvalidateDocument(r.Context(), id); err != nil {
			logger.Get().Debug("文档缓存清理失败", "documentId", id, "error", err)
		}
	}
	if s.storage != nil && doc.ObjectKey != "" {
		if err := s.storage.DeleteFile(r.Context(), doc.ObjectKey); err != nil {
			logger.Get().Warn("原始文件删除失败", "documentId", id, "objectKey", doc.ObjectKey, "error", err)
		}
	}

	logger.Get().Info("文档已删除", "documentId", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleReindexDocument rebuilds the indexes of one document from its
// persisted chunks; the rebuild runs asynchronously.
func (s *Server) handleReindexDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.documents.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	doc.Status = model.StatusProcessing
	if err := s.documents.Update(r.Context(), doc); err != nil {
		writeError(w, err)
		return
	}

	go s.reindexDocument(doc)
	writeJSON(w, http.StatusAccepted, documentDto(doc, false))
}

type preuploadRequest struct {
	Filename string `json:"filename"`
}

type preuploadResponse struct {
	UploadURL string `json:"uploadUrl"`
	ObjectKey string `json:"objectKey"`
}

// handlePreupload issues a presigned PUT URL so large files can bypass
// the API process on their way to object storage.
func (s *Server) handlePreupload(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		writeError(w, fmt.Errorf("%w: object storage is not configured", errInvalidArgument))
		return
	}

	var req preuploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Filename) == "" {
		writeError(w, fmt.Errorf("%w: filename is required", errInvalidArgument))
		return
	}

	objectKey := s.objectKey(uuid.NewString(), req.Filename)
	url, err := s.storage.GeneratePresignedUploadURL(r.Context(), objectKey, presignedURLExpiry)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preuploadResponse{UploadURL: url, ObjectKey: objectKey})
}
