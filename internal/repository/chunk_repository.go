package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/AITrekker/RAG-sub000/internal/database"
	"github.com/AITrekker/RAG-sub000/internal/models"
)

// ChunkRepository manages chunk rows and their inline embeddings.
type ChunkRepository struct {
	db         *sqlx.DB
	dimensions int
}

func NewChunkRepository(db *sqlx.DB, dimensions int) *ChunkRepository {
	return &ChunkRepository{db: db, dimensions: dimensions}
}

// chunkInsertColumns is the column count per row in InsertBatch's VALUES list.
const chunkInsertColumns = 10

// InsertBatch bulk-inserts all chunks for a file in one statement inside the
// caller's transaction. Every vector is dimension-checked before the insert so
// a bad batch never partially lands.
func (r *ChunkRepository) InsertBatch(ctx context.Context, q Queryer, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for i := range chunks {
		if err := database.ValidateDimensions(chunks[i].Embedding, r.dimensions); err != nil {
			return fmt.Errorf("chunk %d: %w", chunks[i].ChunkIndex, err)
		}
	}

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO chunks (id, tenant_id, file_id, chunk_index, content, token_count,
		                    text_hash, embedding, embedding_model, created_at)
		VALUES `)

	now := time.Now().UTC()
	args := make([]interface{}, 0, len(chunks)*chunkInsertColumns)
	for i := range chunks {
		c := &chunks[i]
		c.CreatedAt = now
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * chunkInsertColumns
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d::vector, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10)
		args = append(args,
			c.ID, c.TenantID, c.FileID, c.ChunkIndex, c.Content, c.TokenCount,
			c.TextHash, database.FormatVector(c.Embedding), c.EmbeddingModel, c.CreatedAt)
	}

	if _, err := q.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to insert %d chunks: %w", len(chunks), err)
	}
	return nil
}

// DeleteForFile removes a file's chunks and returns how many went, used on
// update (before re-insert) and on delete (alongside the tombstone) in the
// same transaction.
func (r *ChunkRepository) DeleteForFile(ctx context.Context, q Queryer, fileID uuid.UUID) (int64, error) {
	res, err := q.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = $1`, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks for file: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountByTenant returns the tenant's total chunk count.
func (r *ChunkRepository) CountByTenant(ctx context.Context, tenantID uuid.UUID) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM chunks WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}

// Search runs tenant-scoped cosine top-k over chunk embeddings. Only chunks
// of fully synced, non-tombstoned files are candidates, so a half-written or
// failed update never leaks stale content. Equal distances break
// deterministically by file then chunk index.
func (r *ChunkRepository) Search(ctx context.Context, tenantID uuid.UUID, queryVec []float32, topK int) ([]models.SearchResult, error) {
	if err := database.ValidateDimensions(queryVec, r.dimensions); err != nil {
		return nil, err
	}

	query := `
		SELECT c.id, c.file_id, c.chunk_index, c.content, c.token_count,
		       f.path AS file_path, f.name AS file_name,
		       1 - (c.embedding <=> $1::vector) AS similarity
		FROM chunks c
		JOIN files f ON f.id = c.file_id
		WHERE c.tenant_id = $2
		  AND f.sync_status = 'synced'
		  AND f.deleted_at IS NULL
		ORDER BY c.embedding <=> $1::vector ASC, c.file_id ASC, c.chunk_index ASC
		LIMIT $3`

	var out []models.SearchResult
	err := r.db.SelectContext(ctx, &out, query, database.FormatVector(queryVec), tenantID, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}
	return out, nil
}
