package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

const upsertDocumentSQL = `INSERT INTO documents (user_id, source_type, native_id, title, tags, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (user_id, source_type, native_id)
	DO UPDATE SET title = EXCLUDED.title, tags = EXCLUDED.tags, updated_at = EXCLUDED.updated_at`

const deleteDocumentChunksSQL = `DELETE FROM chunks
	WHERE user_id = $1 AND source_type = $2 AND document_id = $3`

const insertChunkSQL = `INSERT INTO chunks (id, document_id, user_id, source_type, title, content, embedding, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

const revisionsSQL = `SELECT native_id, updated_at FROM documents
	WHERE user_id = $1 AND source_type = $2`

// chunkCols is the standard SELECT column list for query scans.
const chunkCols = `id, document_id, user_id, source_type, title, content, updated_at`

// Postgres is the pgvector-backed index.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a Postgres index over an open pool. The schema is
// managed by the db package's migrations.
func NewPostgres(pool *pgxpool.Pool, logger *slog.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// Upsert replaces the document's chunk set in one transaction.
func (p *Postgres) Upsert(ctx context.Context, doc Document, chunks []Chunk) error {
	if doc.UserID == "" {
		return ErrUserIDRequired
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tags := doc.Tags
	if tags == nil {
		tags = []string{}
	}
	if _, err := tx.Exec(ctx, upsertDocumentSQL,
		doc.UserID, doc.SourceType, doc.NativeID, doc.Title, tags, doc.UpdatedAt); err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}

	if _, err := tx.Exec(ctx, deleteDocumentChunksSQL,
		doc.UserID, doc.SourceType, doc.NativeID); err != nil {
		return fmt.Errorf("superseding chunks: %w", err)
	}

	for _, chunk := range chunks {
		if _, err := tx.Exec(ctx, insertChunkSQL,
			chunk.ID, chunk.DocumentID, doc.UserID, doc.SourceType,
			chunk.Title, chunk.Content, pgvector.NewVector(chunk.Embedding), chunk.UpdatedAt); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing upsert: %w", err)
	}
	return nil
}

// Delete removes chunks and their document rows in the filter's scope.
func (p *Postgres) Delete(ctx context.Context, f Filter) error {
	if f.UserID == "" {
		return ErrUserIDRequired
	}

	chunkWhere := []string{"user_id = $1"}
	docWhere := []string{"user_id = $1"}
	args := []any{f.UserID}

	if f.SourceType != "" {
		args = append(args, f.SourceType)
		cond := fmt.Sprintf("source_type = $%d", len(args))
		chunkWhere = append(chunkWhere, cond)
		docWhere = append(docWhere, cond)
	}
	if f.DocumentID != "" {
		args = append(args, f.DocumentID)
		chunkWhere = append(chunkWhere, fmt.Sprintf("document_id = $%d", len(args)))
		docWhere = append(docWhere, fmt.Sprintf("native_id = $%d", len(args)))
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		"DELETE FROM chunks WHERE "+strings.Join(chunkWhere, " AND "), args...); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"DELETE FROM documents WHERE "+strings.Join(docWhere, " AND "), args...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// Query returns the user's top-k chunks by cosine similarity.
func (p *Postgres) Query(ctx context.Context, userID string, vec []float32, k int, f QueryFilter) ([]Scored, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if k <= 0 || len(vec) == 0 {
		return nil, nil
	}

	args := []any{userID, pgvector.NewVector(vec)}
	where := "user_id = $1"
	if len(f.SourceTypes) > 0 {
		args = append(args, f.SourceTypes)
		where += fmt.Sprintf(" AND source_type = ANY($%d)", len(args))
	}
	args = append(args, k)

	sql := fmt.Sprintf(`SELECT %s, 1 - (embedding <=> $2) AS score
		FROM chunks
		WHERE %s
		ORDER BY embedding <=> $2, updated_at DESC
		LIMIT $%d`, chunkCols, where, len(args))

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var hits []Scored
	for rows.Next() {
		var hit Scored
		if err := rows.Scan(
			&hit.Chunk.ID, &hit.Chunk.DocumentID, &hit.Chunk.UserID,
			&hit.Chunk.SourceType, &hit.Chunk.Title, &hit.Chunk.Content,
			&hit.Chunk.UpdatedAt, &hit.Score); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading chunks: %w", err)
	}

	return hits, nil
}

// Revisions returns NativeID to UpdatedAt for one user and source.
func (p *Postgres) Revisions(ctx context.Context, userID, sourceType string) (map[string]time.Time, error) {
	if userID == "" {
		return nil, ErrUserIDRequired
	}

	rows, err := p.pool.Query(ctx, revisionsSQL, userID, sourceType)
	if err != nil {
		return nil, fmt.Errorf("querying revisions: %w", err)
	}
	defer rows.Close()

	revisions := make(map[string]time.Time)
	for rows.Next() {
		var nativeID string
		var updatedAt time.Time
		if err := rows.Scan(&nativeID, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning revision: %w", err)
		}
		revisions[nativeID] = updatedAt
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading revisions: %w", err)
	}

	return revisions, nil
}
