// Package model holds the persistent domain types shared by the
// repositories, the indexes, and the HTTP layer.
package model

import "time"

// Document lifecycle states. A document starts UPLOADING while its bytes
// are received, becomes PROCESSING once persisted, and moves exactly once
// to READY or FAILED.
const (
	StatusUploading  = "UPLOADING"
	StatusProcessing = "PROCESSING"
	StatusReady      = "READY"
	StatusFailed     = "FAILED"
)

// Document is one uploaded file and the root of ownership: deleting a
// document cascades to its chunks, vectors, and BM25 entries.
type Document struct {
	ID           string    `json:"id"`
	Filename     string    `json:"filename"`
	FileType     string    `json:"fileType"`
	FileSize     int64     `json:"fileSize"`
	Status       string    `json:"status"`
	ChunkCount   int       `json:"chunkCount"`
	FullText     string    `json:"fullText,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	ObjectKey    string    `json:"objectKey,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// DocumentChunk is one contiguous piece of a parsed document.
//
// Content is always the original text; ContextPrefix, when enrichment ran,
// holds the LLM-generated situating sentence. Indexes store
// ContextPrefix+"\n"+Content while citations show the original Content.
type DocumentChunk struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"documentId"`
	ChunkIndex    int       `json:"chunkIndex"`
	Content       string    `json:"content"`
	ContextPrefix string    `json:"contextPrefix,omitempty"`
	Heading       string    `json:"heading,omitempty"`
	Hierarchy     string    `json:"hierarchy,omitempty"`
	StartPage     int       `json:"startPage"`
	EndPage       int       `json:"endPage"`
	TokenCount    int       `json:"tokenCount"`
	VectorID      string    `json:"vectorId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// IndexedContent is the text form a chunk is embedded and BM25-indexed
// under.
func (c *DocumentChunk) IndexedContent() string {
	if c.ContextPrefix == "" {
		return c.Content
	}
	return c.ContextPrefix + "\n" + c.Content
}
