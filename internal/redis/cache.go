// Package redis provides the domain cache layer: query/chunk embeddings,
// rendered document content, and Doc2X conversion results.
package redis

import (
	"context"
	"fmt"
	"time"

	pkgredis "github.com/spike2204/intelligent-qa/pkg/redis"
)

const (
	EmbeddingCacheTTL = 24 * time.Hour
	DocumentCacheTTL  = 6 * time.Hour
	Doc2XCacheTTL     = 7 * 24 * time.Hour // conversions are expensive, keep a week
)

// CacheService namespaces cache keys and pins a TTL per key family.
type CacheService struct {
	client pkgredis.RedisClient
}

func NewCacheService(client pkgredis.RedisClient) *CacheService {
	return &CacheService{
		client: client,
	}
}

// CacheEmbedding stores an embedding keyed by the hash of its source text.
func (s *CacheService) CacheEmbedding(ctx context.Context, text string, embedding []float32) error {
	key := fmt.Sprintf("embedding:%s", hashText(text))
	return s.client.SetJSON(ctx, key, embedding, EmbeddingCacheTTL)
}

// GetEmbedding returns the cached embedding for text, or nil on a miss.
func (s *CacheService) GetEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := fmt.Sprintf("embedding:%s", hashText(text))
	var embedding []float32
	if err := s.client.GetJSON(ctx, key, &embedding); err != nil {
		return nil, err
	}
	return embedding, nil
}

// CacheDocumentContent stores the rendered full text of a document.
func (s *CacheService) CacheDocumentContent(ctx context.Context, docID string, content string) error {
	key := fmt.Sprintf("doc:content:%s", docID)
	return s.client.Set(ctx, key, content, DocumentCacheTTL)
}

// GetDocumentContent returns the cached full text, or "" on a miss.
func (s *CacheService) GetDocumentContent(ctx context.Context, docID string) (string, error) {
	key := fmt.Sprintf("doc:content:%s", docID)
	return s.client.Get(ctx, key)
}

// InvalidateDocument drops every cache entry owned by docID.
func (s *CacheService) InvalidateDocument(ctx context.Context, docID string) error {
	key := fmt.Sprintf("doc:content:%s", docID)
	return s.client.Delete(ctx, key)
}

// CacheDoc2XResult stores a converted markdown payload keyed by the MD5 of
// the original PDF bytes, so re-uploads of the same file skip conversion.
func (s *CacheService) CacheDoc2XResult(ctx context.Context, md5Hash string, markdown string) error {
	key := fmt.Sprintf("doc2x:%s", md5Hash)
	return s.client.Set(ctx, key, markdown, Doc2XCacheTTL)
}

// GetDoc2XResult returns the cached conversion, or "" on a miss.
func (s *CacheService) GetDoc2XResult(ctx context.Context, md5Hash string) (string, error) {
	key := fmt.Sprintf("doc2x:%s", md5Hash)
	return s.client.Get(ctx, key)
}

// Ping reports cache reachability for health checks.
func (s *CacheService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}
