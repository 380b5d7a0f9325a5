// Package repository persists the four domain tables: documents, chunks,
// chat sessions, and chat messages. Two implementations exist: an
// in-memory set for tests and single-node deployments, and a postgres set
// for everything else. Vector and BM25 indexes are secondary views of the
// chunk table and are rebuilt from it, never repaired.
package repository

import (
	"context"
	"errors"

	"github.com/spike2204/intelligent-qa/internal/model"
)

// ErrNotFound reports a missing row.
var ErrNotFound = errors.New("repository: not found")

// DocumentRepository stores document rows. List returns newest first.
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	Update(ctx context.Context, doc *model.Document) error
	Get(ctx context.Context, id string) (*model.Document, error)
	List(ctx context.Context) ([]model.Document, error)
	Delete(ctx context.Context, id string) error
}

// ChunkRepository stores document chunks. ListByDocument returns chunks
// ordered by chunk index; a document's chunks always form a dense prefix
// starting at zero.
type ChunkRepository interface {
	SaveAll(ctx context.Context, chunks []model.DocumentChunk) error
	ListByDocument(ctx context.Context, documentID string) ([]model.DocumentChunk, error)
	CountByDocument(ctx context.Context, documentID string) (int, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

// SessionRepository stores chat sessions.
type SessionRepository interface {
	Create(ctx context.Context, session *model.ChatSession) error
	Get(ctx context.Context, id string) (*model.ChatSession, error)
	Update(ctx context.Context, session *model.ChatSession) error
}

// MessageRepository stores chat messages. ListBySession returns messages
// in creation order.
type MessageRepository interface {
	Save(ctx context.Context, message *model.ChatMessage) error
	ListBySession(ctx context.Context, sessionID string) ([]model.ChatMessage, error)
	DeleteByIDs(ctx context.Context, ids []string) error
}
