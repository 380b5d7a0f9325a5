package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spike2204/intelligent-qa/internal/model"
)

// Memory bundles the four in-memory repositories. They share nothing but
// the constructor; each guards its own map.
type Memory struct {
	Documents *MemoryDocuments
	Chunks    *MemoryChunks
	Sessions  *MemorySessions
	Messages  *MemoryMessages
}

func NewMemory() *Memory {
	return &Memory{
		Documents: &MemoryDocuments{docs: make(map[string]model.Document)},
		Chunks:    &MemoryChunks{chunks: make(map[string][]model.DocumentChunk)},
		Sessions:  &MemorySessions{sessions: make(map[string]model.ChatSession)},
		Messages:  &MemoryMessages{messages: make(map[string][]model.ChatMessage)},
	}
}

// MemoryDocuments keeps document rows in a map.
type MemoryDocuments struct {
	mu   sync.RWMutex
	docs map[string]model.Document
}

var _ DocumentRepository = (*MemoryDocuments)(nil)

func (r *MemoryDocuments) Create(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	r.docs[doc.ID] = *doc
	return nil
}

func (r *MemoryDocuments) Update(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; !ok {
		return ErrNotFound
	}
	doc.UpdatedAt = time.Now()
	r.docs[doc.ID] = *doc
	return nil
}

func (r *MemoryDocuments) Get(_ context.Context, id string) (*model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (r *MemoryDocuments) List(_ context.Context) ([]model.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs := make([]model.Document, 0, len(r.docs))
	for _, doc := range r.docs {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].CreatedAt.After(docs[j].CreatedAt) })
	return docs, nil
}

func (r *MemoryDocuments) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return ErrNotFound
	}
	delete(r.docs, id)
	return nil
}

// MemoryChunks keeps chunks grouped by document.
type MemoryChunks struct {
	mu     sync.RWMutex
	chunks map[string][]model.DocumentChunk
}

var _ ChunkRepository = (*MemoryChunks)(nil)

func (r *MemoryChunks) SaveAll(_ context.Context, chunks []model.DocumentChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, chunk := range chunks {
		if chunk.CreatedAt.IsZero() {
			chunk.CreatedAt = now
		}
		r.chunks[chunk.DocumentID] = append(r.chunks[chunk.DocumentID], chunk)
	}
	for docID := range r.chunks {
		list := r.chunks[docID]
		sort.Slice(list, func(i, j int) bool { return list[i].ChunkIndex < list[j].ChunkIndex })
	}
	return nil
}

func (r *MemoryChunks) ListByDocument(_ context.Context, documentID string) ([]model.DocumentChunk, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.chunks[documentID]
	out := make([]model.DocumentChunk, len(list))
	copy(out, list)
	return out, nil
}

func (r *MemoryChunks) CountByDocument(_ context.Context, documentID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.chunks[documentID]), nil
}

func (r *MemoryChunks) DeleteByDocument(_ context.Context, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chunks, documentID)
	return nil
}

// MemorySessions keeps chat sessions in a map.
type MemorySessions struct {
	mu       sync.RWMutex
	sessions map[string]model.ChatSession
}

var _ SessionRepository = (*MemorySessions)(nil)

func (r *MemorySessions) Create(_ context.Context, session *model.ChatSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	session.UpdatedAt = now
	r.sessions[session.ID] = *session
	return nil
}

func (r *MemorySessions) Get(_ context.Context, id string) (*model.ChatSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &session, nil
}

func (r *MemorySessions) Update(_ context.Context, session *model.ChatSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[session.ID]; !ok {
		return ErrNotFound
	}
	session.UpdatedAt = time.Now()
	r.sessions[session.ID] = *session
	return nil
}

// MemoryMessages keeps messages grouped by session in arrival order.
type MemoryMessages struct {
	mu       sync.RWMutex
	messages map[string][]model.ChatMessage
	seq      int64
}

var _ MessageRepository = (*MemoryMessages)(nil)

func (r *MemoryMessages) Save(_ context.Context, message *model.ChatMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if message.CreatedAt.IsZero() {
		// Monotonic timestamps keep ordering stable even when saves land
		// within the same clock tick.
		r.seq++
		message.CreatedAt = time.Now().Add(time.Duration(r.seq) * time.Nanosecond)
	}
	r.messages[message.SessionID] = append(r.messages[message.SessionID], *message)
	return nil
}

func (r *MemoryMessages) ListBySession(_ context.Context, sessionID string) ([]model.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.messages[sessionID]
	out := make([]model.ChatMessage, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryMessages) DeleteByIDs(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for sessionID, list := range r.messages {
		kept := list[:0]
		for _, msg := range list {
			if _, gone := drop[msg.ID]; !gone {
				kept = append(kept, msg)
			}
		}
		r.messages[sessionID] = kept
	}
	return nil
}
