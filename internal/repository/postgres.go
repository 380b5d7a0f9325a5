package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spike2204/intelligent-qa/internal/model"
	"github.com/spike2204/intelligent-qa/pkg/logger"
)

// postgresSchema bootstraps the four tables on startup.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	file_type TEXT NOT NULL,
	file_size BIGINT NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	full_text TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS document_chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	chunk_index INTEGER NOT NULL,
	content TEXT NOT NULL,
	context_prefix TEXT NOT NULL DEFAULT '',
	heading TEXT NOT NULL DEFAULT '',
	hierarchy TEXT NOT NULL DEFAULT '',
	start_page INTEGER NOT NULL DEFAULT 0,
	end_page INTEGER NOT NULL DEFAULT 0,
	token_count INTEGER NOT NULL DEFAULT 0,
	vector_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (document_id, chunk_index)
);

CREATE TABLE IF NOT EXISTS chat_sessions (
	id TEXT PRIMARY KEY,
	document_ids TEXT NOT NULL DEFAULT '',
	summary TEXT NOT NULL DEFAULT '',
	message_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS chat_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES chat_sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	token_count INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS chat_messages_session_idx ON chat_messages (session_id, created_at);`

// Postgres bundles the four pgx-backed repositories over one pool.
type Postgres struct {
	Documents *PostgresDocuments
	Chunks    *PostgresChunks
	Sessions  *PostgresSessions
	Messages  *PostgresMessages

	pool *pgxpool.Pool
}

// NewPostgres connects and bootstraps the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("repository: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("repository: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("repository: create schema: %w", err)
	}

	logger.Get().Info("Postgres 存储已就绪")
	return &Postgres{
		Documents: &PostgresDocuments{pool: pool},
		Chunks:    &PostgresChunks{pool: pool},
		Sessions:  &PostgresSessions{pool: pool},
		Messages:  &PostgresMessages{pool: pool},
		pool:      pool,
	}, nil
}

func (p *Postgres) Close() { p.pool.Close() }

// PostgresDocuments implements DocumentRepository on pgx.
type PostgresDocuments struct {
	pool *pgxpool.Pool
}

var _ DocumentRepository = (*PostgresDocuments)(nil)

func (r *PostgresDocuments) Create(ctx context.Context, doc *model.Document) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (id, filename, file_type, file_size, status, chunk_count, full_text, error_message, object_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		doc.ID, doc.Filename, doc.FileType, doc.FileSize, doc.Status,
		doc.ChunkCount, doc.FullText, doc.ErrorMessage, doc.ObjectKey)
	if err != nil {
		return fmt.Errorf("repository: create document: %w", err)
	}
	return nil
}

func (r *PostgresDocuments) Update(ctx context.Context, doc *model.Document) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents SET filename=$2, file_type=$3, file_size=$4, status=$5,
			chunk_count=$6, full_text=$7, error_message=$8, object_key=$9, updated_at=NOW()
		WHERE id=$1`,
		doc.ID, doc.Filename, doc.FileType, doc.FileSize, doc.Status,
		doc.ChunkCount, doc.FullText, doc.ErrorMessage, doc.ObjectKey)
	if err != nil {
		return fmt.Errorf("repository: update document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const documentColumns = `id, filename, file_type, file_size, status, chunk_count, full_text, error_message, object_key, created_at, updated_at`

func scanDocument(row pgx.Row) (*model.Document, error) {
	var doc model.Document
	err := row.Scan(&doc.ID, &doc.Filename, &doc.FileType, &doc.FileSize, &doc.Status,
		&doc.ChunkCount, &doc.FullText, &doc.ErrorMessage, &doc.ObjectKey,
		&doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: scan document: %w", err)
	}
	return &doc, nil
}

func (r *PostgresDocuments) Get(ctx context.Context, id string) (*model.Document, error) {
	row := r.pool.QueryRow(ctx, "SELECT "+documentColumns+" FROM documents WHERE id=$1", id)
	return scanDocument(row)
}

func (r *PostgresDocuments) List(ctx context.Context) ([]model.Document, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+documentColumns+" FROM documents ORDER BY created_at DESC")
	if err != nil {
		return nil, fmt.Errorf("repository: list documents: %w", err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

func (r *PostgresDocuments) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, "DELETE FROM documents WHERE id=$1", id)
	if err != nil {
		return fmt.Errorf("repository: delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresChunks implements ChunkRepository on pgx.
type PostgresChunks struct {
	pool *pgxpool.Pool
}

var _ ChunkRepository = (*PostgresChunks)(nil)

func (r *PostgresChunks) SaveAll(ctx context.Context, chunks []model.DocumentChunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO document_chunks
				(id, document_id, chunk_index, content, context_prefix, heading, hierarchy, start_page, end_page, token_count, vector_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			c.ID, c.DocumentID, c.ChunkIndex, c.Content, c.ContextPrefix,
			c.Heading, c.Hierarchy, c.StartPage, c.EndPage, c.TokenCount, c.VectorID)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("repository: save chunks: %w", err)
		}
	}
	return nil
}

func (r *PostgresChunks) ListByDocument(ctx context.Context, documentID string) ([]model.DocumentChunk, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, document_id, chunk_index, content, context_prefix, heading, hierarchy,
		       start_page, end_page, token_count, vector_id, created_at
		FROM document_chunks WHERE document_id=$1 ORDER BY chunk_index`, documentID)
	if err != nil {
		return nil, fmt.Errorf("repository: list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []model.DocumentChunk
	for rows.Next() {
		var c model.DocumentChunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ChunkIndex, &c.Content, &c.ContextPrefix,
			&c.Heading, &c.Hierarchy, &c.StartPage, &c.EndPage, &c.TokenCount,
			&c.VectorID, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *PostgresChunks) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM document_chunks WHERE document_id=$1", documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("repository: count chunks: %w", err)
	}
	return count, nil
}

func (r *PostgresChunks) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM document_chunks WHERE document_id=$1", documentID); err != nil {
		return fmt.Errorf("repository: delete chunks: %w", err)
	}
	return nil
}

// PostgresSessions implements SessionRepository on pgx.
type PostgresSessions struct {
	pool *pgxpool.Pool
}

var _ SessionRepository = (*PostgresSessions)(nil)

func (r *PostgresSessions) Create(ctx context.Context, session *model.ChatSession) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO chat_sessions (id, document_ids, summary, message_count)
		VALUES ($1, $2, $3, $4)`,
		session.ID, session.DocumentIDs, session.Summary, session.MessageCount)
	if err != nil {
		return fmt.Errorf("repository: create session: %w", err)
	}
	return nil
}

func (r *PostgresSessions) Get(ctx context.Context, id string) (*model.ChatSession, error) {
	var s model.ChatSession
	err := r.pool.QueryRow(ctx, `
		SELECT id, document_ids, summary, message_count, created_at, updated_at
		FROM chat_sessions WHERE id=$1`, id).
		Scan(&s.ID, &s.DocumentIDs, &s.Summary, &s.MessageCount, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository: get session: %w", err)
	}
	return &s, nil
}

func (r *PostgresSessions) Update(ctx context.Context, session *model.ChatSession) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE chat_sessions SET document_ids=$2, summary=$3, message_count=$4, updated_at=NOW()
		WHERE id=$1`,
		session.ID, session.DocumentIDs, session.Summary, session.MessageCount)
	if err != nil {
		return fmt.Errorf("repository: update session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PostgresMessages implements MessageRepository on pgx.
type PostgresMessages struct {
	pool *pgxpool.Pool
}

var _ MessageRepository = (*PostgresMessages)(nil)

func (r *PostgresMessages) Save(ctx context.Context, message *model.ChatMessage) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO chat_messages (id, session_id, role, content, token_count)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		message.ID, message.SessionID, message.Role, message.Content, message.TokenCount).
		Scan(&message.CreatedAt)
	if err != nil {
		return fmt.Errorf("repository: save message: %w", err)
	}
	return nil
}

func (r *PostgresMessages) ListBySession(ctx context.Context, sessionID string) ([]model.ChatMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, role, content, token_count, created_at
		FROM chat_messages WHERE session_id=$1 ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("repository: list messages: %w", err)
	}
	defer rows.Close()

	var messages []model.ChatMessage
	for rows.Next() {
		var m model.ChatMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.TokenCount, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("repository: scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

func (r *PostgresMessages) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, "DELETE FROM chat_messages WHERE id = ANY($1)", ids); err != nil {
		return fmt.Errorf("repository: delete messages: %w", err)
	}
	return nil
}
