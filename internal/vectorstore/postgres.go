package vectorstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/spike2204/intelligent-qa/pkg/logger"
)

// PostgresStore implements Store on pgvector, the clustered alternative to
// the in-memory backend. Filters compile to WHERE clauses and ranking uses
// the cosine distance operator, so ordering matches MemoryStore.
type PostgresStore struct {
	pool      *pgxpool.Pool
	dimension int
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects, enables the vector extension, and bootstraps
// the records table for the configured embedding dimension.
func NewPostgresStore(ctx context.Context, dsn string, dimension int) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("vectorstore: ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return nil, fmt.Errorf("vectorstore: enable pgvector: %w", err)
	}

	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS vector_records (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		content TEXT NOT NULL,
		filename TEXT NOT NULL DEFAULT '',
		chunk_index INTEGER NOT NULL DEFAULT 0,
		heading TEXT NOT NULL DEFAULT '',
		hierarchy TEXT NOT NULL DEFAULT '',
		start_page INTEGER NOT NULL DEFAULT 0,
		embedding vector(%d) NOT NULL
	);
	CREATE INDEX IF NOT EXISTS vector_records_document_id_idx ON vector_records (document_id);`, dimension)
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("vectorstore: create schema: %w", err)
	}

	logger.Get().Info("pgvector 向量存储已就绪", "dimension", dimension)
	return &PostgresStore{pool: pool, dimension: dimension}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) Insert(ctx context.Context, records []Record) error {
	for _, r := range records {
		if s.dimension > 0 && len(r.Embedding) != s.dimension {
			return ErrDimensionMismatch
		}
		_, err := s.pool.Exec(ctx, `
			INSERT INTO vector_records (id, document_id, content, filename, chunk_index, heading, hierarchy, start_page, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding,
				filename = EXCLUDED.filename,
				chunk_index = EXCLUDED.chunk_index,
				heading = EXCLUDED.heading,
				hierarchy = EXCLUDED.hierarchy,
				start_page = EXCLUDED.start_page`,
			r.ID, r.DocumentID, r.Content,
			r.Metadata.Filename, r.Metadata.ChunkIndex, r.Metadata.Heading,
			r.Metadata.Hierarchy, r.Metadata.StartPage,
			pgvector.NewVector(r.Embedding))
		if err != nil {
			return fmt.Errorf("vectorstore: insert record %s: %w", r.ID, err)
		}
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, queryVector []float32, topK int, filter Filter) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	query := `
		SELECT id, document_id, content, filename, chunk_index, heading, hierarchy, start_page,
		       1 - (embedding <=> $1) AS score
		FROM vector_records
		WHERE 1=1`
	args := []any{pgvector.NewVector(queryVector)}

	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		query += fmt.Sprintf(" AND document_id = $%d", len(args))
	}
	if len(filter.DocumentIDs) > 0 {
		args = append(args, filter.DocumentIDs)
		query += fmt.Sprintf(" AND document_id = ANY($%d)", len(args))
	}
	if filter.HierarchyPrefix != "" {
		args = append(args, filter.HierarchyPrefix+"%")
		query += fmt.Sprintf(" AND hierarchy LIKE $%d", len(args))
	}

	args = append(args, topK)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r Record
		var score float64
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Content,
			&r.Metadata.Filename, &r.Metadata.ChunkIndex, &r.Metadata.Heading,
			&r.Metadata.Hierarchy, &r.Metadata.StartPage, &score); err != nil {
			return nil, fmt.Errorf("vectorstore: scan result: %w", err)
		}
		results = append(results, SearchResult{Record: r, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vectorstore: iterate results: %w", err)
	}
	return results, nil
}

func (s *PostgresStore) DeleteByDocumentID(ctx context.Context, documentID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM vector_records WHERE document_id = $1", documentID); err != nil {
		return fmt.Errorf("vectorstore: delete document %s: %w", documentID, err)
	}
	return nil
}

func (s *PostgresStore) Count(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM vector_records WHERE document_id = $1", documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("vectorstore: count document %s: %w", documentID, err)
	}
	return count, nil
}
