package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/AITrekker/RAG-sub000/internal/models"
)

// FileState is the slice of a file row the change detector compares against
// the filesystem.
type FileState struct {
	ID          uuid.UUID         `db:"id"`
	Path        string            `db:"path"`
	ContentHash string            `db:"content_hash"`
	SyncStatus  models.FileStatus `db:"sync_status"`
}

// FileRepository manages file rows. Tuple writes (file plus chunks) run
// inside a caller-owned transaction, so the mutating methods accept a Queryer.
type FileRepository struct {
	db *sqlx.DB
}

func NewFileRepository(db *sqlx.DB) *FileRepository {
	return &FileRepository{db: db}
}

// Insert adds a new file row.
func (r *FileRepository) Insert(ctx context.Context, q Queryer, f *models.File) error {
	query := `
		INSERT INTO files (id, tenant_id, path, name, size_bytes, mime_type, content_hash,
		                   sync_status, sync_error, chunk_count, deleted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	_, err := q.ExecContext(ctx, query,
		f.ID, f.TenantID, f.Path, f.Name, f.SizeBytes, f.MimeType, f.ContentHash,
		f.SyncStatus, f.SyncError, f.ChunkCount, f.DeletedAt, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

// UpdateContent refreshes metadata for a changed file and clears any
// tombstone, covering the resurrect case where a deleted path reappears.
func (r *FileRepository) UpdateContent(ctx context.Context, q Queryer, f *models.File) error {
	query := `
		UPDATE files
		SET name = $2, size_bytes = $3, mime_type = $4, content_hash = $5,
		    sync_status = $6, sync_error = NULL, deleted_at = NULL, updated_at = $7
		WHERE id = $1`

	f.UpdatedAt = time.Now().UTC()
	res, err := q.ExecContext(ctx, query,
		f.ID, f.Name, f.SizeBytes, f.MimeType, f.ContentHash, f.SyncStatus, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update file: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &models.NotFoundError{Resource: "file", ID: f.ID.String()}
	}
	return nil
}

// SetSynced flips a file to synced with its final chunk count.
func (r *FileRepository) SetSynced(ctx context.Context, q Queryer, fileID uuid.UUID, chunkCount int) error {
	query := `
		UPDATE files
		SET sync_status = $2, sync_error = NULL, chunk_count = $3, updated_at = $4
		WHERE id = $1`

	_, err := q.ExecContext(ctx, query, fileID, models.FileStatusSynced, chunkCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark file synced: %w", err)
	}
	return nil
}

// SoftDelete tombstones a file. Chunks are removed by the caller in the same
// transaction so deleted content cannot be retrieved.
func (r *FileRepository) SoftDelete(ctx context.Context, q Queryer, fileID uuid.UUID) error {
	now := time.Now().UTC()
	query := `
		UPDATE files
		SET deleted_at = $2, chunk_count = 0, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`

	_, err := q.ExecContext(ctx, query, fileID, now)
	if err != nil {
		return fmt.Errorf("failed to soft-delete file: %w", err)
	}
	return nil
}

// MarkFailed upserts a failed marker for path. It runs outside the aborted
// tuple transaction: for creates there is no row yet, so the failure is
// recorded by inserting one; for updates the existing row is flagged. A
// failed file is live, so any tombstone on the row is cleared and the content
// hash is not advanced, keeping the file eligible for retry.
func (r *FileRepository) MarkFailed(ctx context.Context, tenantID uuid.UUID, change models.FileChange, syncErr string) error {
	now := time.Now().UTC()
	query := `
		INSERT INTO files (id, tenant_id, path, name, size_bytes, mime_type, content_hash,
		                   sync_status, sync_error, chunk_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, '', $7, $8, 0, $9, $9)
		ON CONFLICT (tenant_id, path) DO UPDATE
		SET sync_status = EXCLUDED.sync_status,
		    sync_error = EXCLUDED.sync_error,
		    deleted_at = NULL,
		    updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		uuid.New(), tenantID, change.Path, baseName(change.Path), change.SizeBytes,
		change.MimeType, models.FileStatusFailed, syncErr, now)
	if err != nil {
		return fmt.Errorf("failed to mark file failed: %w", err)
	}
	return nil
}

// ResetProcessing demotes a tenant's in-flight files back to pending. Called
// when an operation times out or is reclaimed as stuck, so the abandoned
// files re-enter the next plan.
func (r *FileRepository) ResetProcessing(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE files
		 SET sync_status = $2, updated_at = $3
		 WHERE tenant_id = $1 AND sync_status = $4`,
		tenantID, models.FileStatusPending, time.Now().UTC(), models.FileStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing files: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ResetAllProcessing demotes every in-flight file across tenants. Runs once
// at startup, before any executor exists, to clear debris from a crash.
func (r *FileRepository) ResetAllProcessing(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE files SET sync_status = $1, updated_at = $2 WHERE sync_status = $3`,
		models.FileStatusPending, time.Now().UTC(), models.FileStatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing files: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetByPath returns a file row including tombstones, or (nil, nil) when the
// path has never been seen.
func (r *FileRepository) GetByPath(ctx context.Context, tenantID uuid.UUID, path string) (*models.File, error) {
	var f models.File
	err := r.db.GetContext(ctx, &f,
		`SELECT * FROM files WHERE tenant_id = $1 AND path = $2`, tenantID, path)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get file by path: %w", err)
	}
	return &f, nil
}

// ListByTenant returns a page of files ordered by path.
func (r *FileRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit, offset int, includeDeleted bool) ([]models.File, error) {
	query := `SELECT * FROM files WHERE tenant_id = $1`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY path ASC LIMIT $2 OFFSET $3`

	var out []models.File
	if err := r.db.SelectContext(ctx, &out, query, tenantID, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return out, nil
}

// ListActiveState returns the live (non-tombstoned) catalog state keyed by
// path, which is everything change detection needs in one round trip.
func (r *FileRepository) ListActiveState(ctx context.Context, tenantID uuid.UUID) (map[string]FileState, error) {
	var rows []FileState
	err := r.db.SelectContext(ctx, &rows,
		`SELECT id, path, content_hash, sync_status
		 FROM files
		 WHERE tenant_id = $1 AND deleted_at IS NULL
		 ORDER BY path ASC`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list file state: %w", err)
	}

	out := make(map[string]FileState, len(rows))
	for _, row := range rows {
		out[row.Path] = row
	}
	return out, nil
}

// CountsByStatus aggregates a tenant's files for status reporting.
func (r *FileRepository) CountsByStatus(ctx context.Context, tenantID uuid.UUID) (models.FileStatusCounts, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE sync_status = 'pending'    AND deleted_at IS NULL) AS pending,
			COUNT(*) FILTER (WHERE sync_status = 'processing' AND deleted_at IS NULL) AS processing,
			COUNT(*) FILTER (WHERE sync_status = 'synced'     AND deleted_at IS NULL) AS synced,
			COUNT(*) FILTER (WHERE sync_status = 'failed'     AND deleted_at IS NULL) AS failed,
			COUNT(*) FILTER (WHERE deleted_at IS NOT NULL)                            AS deleted
		FROM files
		WHERE tenant_id = $1`

	var counts models.FileStatusCounts
	if err := r.db.GetContext(ctx, &counts, query, tenantID); err != nil {
		return counts, fmt.Errorf("failed to count files by status: %w", err)
	}
	return counts, nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
