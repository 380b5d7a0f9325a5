package server

import (
	"errors"
	"net/http"

	"github.com/bytedance/sonic"

	"github.com/spike2204/intelligent-qa/internal/model"
	"github.com/spike2204/intelligent-qa/internal/parser"
	"github.com/spike2204/intelligent-qa/internal/repository"
	"github.com/spike2204/intelligent-qa/pkg/clients/llm"
	"github.com/spike2204/intelligent-qa/pkg/logger"
)

// Request-side validation sentinels. The HTTP mapping lives in writeError.
var (
	errInvalidArgument = errors.New("invalid argument")
	errFileTooLarge    = errors.New("file too large")
)

// errorEnvelope is the wire shape of every failure response.
type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DocumentDto is the document wire shape. FullText is only populated on
// the single-document read.
type DocumentDto struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	FileType     string `json:"fileType"`
	FileSize     int64  `json:"fileSize"`
	Status       string `json:"status"`
	ChunkCount   int    `json:"chunkCount"`
	FullText     string `json:"fullText,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

func documentDto(doc *model.Document, includeFullText bool) DocumentDto {
	dto := DocumentDto{
		ID:           doc.ID,
		Filename:     doc.Filename,
		FileType:     doc.FileType,
		FileSize:     doc.FileSize,
		Status:       doc.Status,
		ChunkCount:   doc.ChunkCount,
		ErrorMessage: doc.ErrorMessage,
		CreatedAt:    doc.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:    doc.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
	if includeFullText {
		dto.FullText = doc.FullText
	}
	return dto
}

// ChunkDto is the chunk wire shape; the context prefix stays internal.
type ChunkDto struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	ChunkIndex int    `json:"chunkIndex"`
	Content    string `json:"content"`
	Heading    string `json:"heading,omitempty"`
	Hierarchy  string `json:"hierarchy,omitempty"`
	TokenCount int    `json:"tokenCount"`
}

func chunkDto(c *model.DocumentChunk) ChunkDto {
	return ChunkDto{
		ID:         c.ID,
		DocumentID: c.DocumentID,
		ChunkIndex: c.ChunkIndex,
		Content:    c.Content,
		Heading:    c.Heading,
		Hierarchy:  c.Hierarchy,
		TokenCount: c.TokenCount,
	}
}

// SessionDto is the chat session wire shape.
type SessionDto struct {
	ID           string   `json:"id"`
	DocumentIDs  []string `json:"documentIds"`
	MessageCount int      `json:"messageCount"`
	CreatedAt    string   `json:"createdAt"`
}

func sessionDto(s *model.ChatSession) SessionDto {
	ids := s.DocumentIDList()
	if ids == nil {
		ids = []string{}
	}
	return SessionDto{
		ID:           s.ID,
		DocumentIDs:  ids,
		MessageCount: s.MessageCount,
		CreatedAt:    s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// ChatChunk is one frame of an answer, streamed or not. The terminal frame
// has Complete true, empty Content, and carries the citations.
type ChatChunk struct {
	Content   string           `json:"content"`
	Complete  bool             `json:"complete"`
	Citations []model.Citation `json:"citations,omitempty"`
	Error     string           `json:"error,omitempty"`
	Warning   string           `json:"warning,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	data, err := sonic.Marshal(v)
	if err != nil {
		logger.Get().Error("响应序列化失败", "error", err)
		return
	}
	if _, err := w.Write(data); err != nil {
		logger.Get().Warn("响应写入失败", "error", err)
	}
}

// writeError maps domain failures onto status codes and the error
// envelope.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := "INTERNAL"

	var processErr *parser.ProcessError
	var llmErr *llm.Error
	switch {
	case errors.As(err, &processErr):
		status, code = http.StatusUnprocessableEntity, "DOCUMENT_PROCESS"
	case errors.Is(err, errInvalidArgument):
		status, code = http.StatusBadRequest, "INVALID_ARGUMENT"
	case errors.Is(err, errFileTooLarge):
		status, code = http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE"
	case errors.Is(err, repository.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.As(err, &llmErr):
		code = string(llmErr.Kind)
		switch llmErr.Kind {
		case llm.KindRateLimit:
			status = http.StatusTooManyRequests
		case llm.KindAuth:
			status = http.StatusUnauthorized
		case llm.KindInvalidRequest:
			status = http.StatusBadRequest
		default: // TIMEOUT, NETWORK, SERVICE
			status = http.StatusServiceUnavailable
		}
	}

	if status >= 500 {
		logger.Get().Error("请求处理失败", "code", code, "error", err)
	}
	writeJSON(w, status, errorEnvelope{Code: code, Message: err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(v); err != nil {
		return errInvalidArgument
	}
	return nil
}
