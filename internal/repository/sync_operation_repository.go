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

// SyncOperationRepository persists the sync state machine. Terminal updates
// are guarded on the current status so a lost race (cleanup vs executor)
// can never resurrect a finished operation.
type SyncOperationRepository struct {
	db *sqlx.DB
}

func NewSyncOperationRepository(db *sqlx.DB) *SyncOperationRepository {
	return &SyncOperationRepository{db: db}
}

// Insert adds a new operation. It runs inside the admission transaction that
// holds the tenant's advisory lock.
func (r *SyncOperationRepository) Insert(ctx context.Context, q Queryer, op *models.SyncOperation) error {
	query := `
		INSERT INTO sync_operations (id, tenant_id, status, stage, progress, files_total,
		                             files_processed, files_failed, files_added, files_updated,
		                             files_deleted, chunks_created, chunks_deleted, embeddings_created,
		                             error_message, force_full_sync, expected_duration_seconds,
		                             started_at, heartbeat_at, completed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	op.CreatedAt = time.Now().UTC()
	_, err := q.ExecContext(ctx, query,
		op.ID, op.TenantID, op.Status, op.Stage, op.Progress, op.FilesTotal,
		op.FilesProcessed, op.FilesFailed, op.FilesAdded, op.FilesUpdated,
		op.FilesDeleted, op.ChunksCreated, op.ChunksDeleted, op.EmbeddingsCreated,
		op.ErrorMessage, op.ForceFullSync, op.ExpectedDurationSeconds,
		op.StartedAt, op.HeartbeatAt, op.CompletedAt, op.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert sync operation: %w", err)
	}
	return nil
}

// GetByID returns the operation or a NotFoundError.
func (r *SyncOperationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.SyncOperation, error) {
	var op models.SyncOperation
	err := r.db.GetContext(ctx, &op, `SELECT * FROM sync_operations WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &models.NotFoundError{Resource: "sync operation", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to get sync operation: %w", err)
	}
	return &op, nil
}

// GetActiveForTenant returns the tenant's pending or running operation, or
// (nil, nil) when the tenant is idle. Callers run it under the admission
// lock to make check-then-insert atomic.
func (r *SyncOperationRepository) GetActiveForTenant(ctx context.Context, q Queryer, tenantID uuid.UUID) (*models.SyncOperation, error) {
	var op models.SyncOperation
	err := sqlx.GetContext(ctx, q, &op,
		`SELECT * FROM sync_operations
		 WHERE tenant_id = $1 AND status IN ('pending', 'running')
		 ORDER BY created_at DESC
		 LIMIT 1`, tenantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active sync operation: %w", err)
	}
	return &op, nil
}

// Latest returns the most recent operation for the tenant, or (nil, nil).
func (r *SyncOperationRepository) Latest(ctx context.Context, tenantID uuid.UUID) (*models.SyncOperation, error) {
	var op models.SyncOperation
	err := r.db.GetContext(ctx, &op,
		`SELECT * FROM sync_operations
		 WHERE tenant_id = $1
		 ORDER BY created_at DESC
		 LIMIT 1`, tenantID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest sync operation: %w", err)
	}
	return &op, nil
}

// History returns recent operations, newest first.
func (r *SyncOperationRepository) History(ctx context.Context, tenantID uuid.UUID, limit int) ([]models.SyncOperation, error) {
	var out []models.SyncOperation
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM sync_operations
		 WHERE tenant_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync history: %w", err)
	}
	return out, nil
}

// Start claims a pending operation for execution. Returns false when the
// operation is no longer pending (cancelled or cleaned up first).
func (r *SyncOperationRepository) Start(ctx context.Context, id uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_operations
		 SET status = 'running', stage = $2, progress = $3, started_at = $4, heartbeat_at = $4
		 WHERE id = $1 AND status = 'pending'`,
		id, models.StageInitializing, models.StageInitializing.EntryProgress(), now)
	if err != nil {
		return false, fmt.Errorf("failed to start sync operation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// SetStage records entry into a stage with its entry progress.
func (r *SyncOperationRepository) SetStage(ctx context.Context, id uuid.UUID, stage models.SyncStage) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_operations
		 SET stage = $2, progress = $3
		 WHERE id = $1 AND status = 'running'`,
		id, stage, stage.EntryProgress())
	if err != nil {
		return fmt.Errorf("failed to set sync stage: %w", err)
	}
	return nil
}

// UpdateProgress persists per-file counters during processing_files.
func (r *SyncOperationRepository) UpdateProgress(ctx context.Context, id uuid.UUID, c models.SyncCounters, progress int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_operations
		 SET files_processed = $2, files_failed = $3, files_added = $4, files_updated = $5,
		     files_deleted = $6, chunks_created = $7, chunks_deleted = $8,
		     embeddings_created = $9, progress = $10
		 WHERE id = $1 AND status = 'running'`,
		id, c.Processed, c.Failed, c.Added, c.Updated, c.Deleted,
		c.ChunksCreated, c.ChunksDeleted, c.EmbeddingsCreated, progress)
	if err != nil {
		return fmt.Errorf("failed to update sync progress: %w", err)
	}
	return nil
}

// Heartbeat bumps heartbeat_at in its own short statement, never inside the
// file-processing transactions.
func (r *SyncOperationRepository) Heartbeat(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sync_operations SET heartbeat_at = $2 WHERE id = $1 AND status = 'running'`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to heartbeat sync operation: %w", err)
	}
	return nil
}

// Complete moves a running operation to completed with final counters.
func (r *SyncOperationRepository) Complete(ctx context.Context, id uuid.UUID, c models.SyncCounters) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_operations
		 SET status = 'completed', progress = 100, files_processed = $2, files_failed = $3,
		     files_added = $4, files_updated = $5, files_deleted = $6,
		     chunks_created = $7, chunks_deleted = $8, embeddings_created = $9, completed_at = $10
		 WHERE id = $1 AND status = 'running'`,
		id, c.Processed, c.Failed, c.Added, c.Updated, c.Deleted,
		c.ChunksCreated, c.ChunksDeleted, c.EmbeddingsCreated, now)
	if err != nil {
		return false, fmt.Errorf("failed to complete sync operation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Fail terminates a pending or running operation with an error message.
func (r *SyncOperationRepository) Fail(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_operations
		 SET status = 'failed', error_message = $2, completed_at = $3
		 WHERE id = $1 AND status IN ('pending', 'running')`,
		id, message, now)
	if err != nil {
		return false, fmt.Errorf("failed to fail sync operation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// Cancel terminates a pending or running operation as cancelled.
func (r *SyncOperationRepository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_operations
		 SET status = 'cancelled', completed_at = $2
		 WHERE id = $1 AND status IN ('pending', 'running')`,
		id, now)
	if err != nil {
		return false, fmt.Errorf("failed to cancel sync operation: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// FindStuck returns live operations that have gone silent or overrun. An
// operation is stuck when its heartbeat is older than heartbeatCutoff, when
// it has been running longer than stuckMultiplier times its expected
// duration, or when it has sat pending since before pendingCutoff.
func (r *SyncOperationRepository) FindStuck(ctx context.Context, heartbeatCutoff, pendingCutoff time.Time, stuckMultiplier float64) ([]models.SyncOperation, error) {
	query := `
		SELECT * FROM sync_operations
		WHERE (status = 'running' AND (
		         heartbeat_at < $1
		         OR EXTRACT(EPOCH FROM (NOW() - started_at)) > $3 * expected_duration_seconds))
		   OR (status = 'pending' AND created_at < $2)
		ORDER BY created_at ASC`

	var out []models.SyncOperation
	if err := r.db.SelectContext(ctx, &out, query, heartbeatCutoff, pendingCutoff, stuckMultiplier); err != nil {
		return nil, fmt.Errorf("failed to find stuck operations: %w", err)
	}
	return out, nil
}

// FailOrphans fails running operations whose heartbeat predates cutoff.
// Called once at startup: a heartbeat older than the process means the
// executor that owned it died with the previous process.
func (r *SyncOperationRepository) FailOrphans(ctx context.Context, cutoff time.Time, message string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE sync_operations
		 SET status = 'failed', error_message = $2, completed_at = NOW()
		 WHERE status = 'running' AND heartbeat_at < $1`,
		cutoff, message)
	if err != nil {
		return 0, fmt.Errorf("failed to fail orphaned operations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
