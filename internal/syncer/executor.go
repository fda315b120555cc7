package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/AITrekker/RAG-sub000/internal/models"
)

// execute drives one operation through the stage machine:
//
//	initializing → processing_files → finalizing → completed
//
// The plan was built during admission; change detection is not repeated here.
// Any failure or deadline excess terminates the run as failed; cancellation
// terminates it as cancelled at the next file boundary. The heartbeat runs on
// its own goroutine with its own short statements so a long file transaction
// never starves it.
func (m *Manager) execute(ctx context.Context, op *models.SyncOperation, tenant *models.Tenant, plan *models.SyncPlan, scanErrs []error) {
	started := time.Now()

	claimed, err := m.ops.Start(ctx, op.ID)
	if err != nil {
		m.logger.Error("failed to claim sync operation", map[string]interface{}{
			"operation_id": op.ID, "error": err.Error(),
		})
		return
	}
	if !claimed {
		// Cancelled or reclaimed before we got here.
		return
	}

	if m.metrics != nil {
		m.metrics.ActiveSyncs.Inc()
		defer m.metrics.ActiveSyncs.Dec()
	}

	stopHeartbeat := m.startHeartbeat(op.ID)
	defer stopHeartbeat()

	m.logger.Info("sync started", map[string]interface{}{
		"operation_id": op.ID,
		"tenant_id":    tenant.ID,
		"tenant_slug":  tenant.Slug,
		"force_full":   op.ForceFullSync,
	})

	status, errMsg := m.runStages(ctx, op, plan, scanErrs)

	switch status {
	case models.OperationCompleted:
		// Complete was already written by runStages with final counters.
	case models.OperationCancelled:
		if _, err := m.ops.Cancel(context.Background(), op.ID); err != nil {
			m.logger.Error("failed to mark operation cancelled", map[string]interface{}{
				"operation_id": op.ID, "error": err.Error(),
			})
		}
	case models.OperationFailed:
		// Terminal writes use a fresh context; ctx may already be dead.
		bg := context.Background()
		if _, err := m.ops.Fail(bg, op.ID, errMsg); err != nil {
			m.logger.Error("failed to mark operation failed", map[string]interface{}{
				"operation_id": op.ID, "error": err.Error(),
			})
		}
		if _, err := m.files.ResetProcessing(bg, tenant.ID); err != nil {
			m.logger.Error("failed to demote processing files", map[string]interface{}{
				"tenant_id": tenant.ID, "error": err.Error(),
			})
		}
	}

	duration := time.Since(started)
	if m.metrics != nil {
		m.metrics.SyncOperationsTotal.WithLabelValues(string(status)).Inc()
		m.metrics.SyncDuration.Observe(duration.Seconds())
	}
	m.logger.Info("sync finished", map[string]interface{}{
		"operation_id": op.ID,
		"tenant_id":    tenant.ID,
		"status":       status,
		"duration_ms":  duration.Milliseconds(),
	})
}

// runStages returns the terminal status and, for failures, the message to
// record. Completed operations are already persisted when it returns.
func (m *Manager) runStages(ctx context.Context, op *models.SyncOperation, plan *models.SyncPlan, scanErrs []error) (models.OperationStatus, string) {
	for _, scanErr := range scanErrs {
		m.logger.Warn("unreadable file skipped", map[string]interface{}{
			"operation_id": op.ID, "error": scanErr.Error(),
		})
	}

	counters := models.SyncCounters{Failed: len(scanErrs)}
	if plan.Total() == 0 {
		if _, err := m.ops.Complete(ctx, op.ID, counters); err != nil {
			return models.OperationFailed, err.Error()
		}
		return models.OperationCompleted, ""
	}

	// The adaptive deadline was fixed at admission from the plan size.
	deadline := time.Now().Add(time.Duration(op.ExpectedDurationSeconds) * time.Second)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	// processing_files
	if err := m.ops.SetStage(ctx, op.ID, models.StageProcessingFiles); err != nil {
		return models.OperationFailed, err.Error()
	}

	for _, change := range plan.Changes() {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return models.OperationFailed, "timeout"
			}
			return models.OperationCancelled, ""
		}

		res, err := m.processor.Process(ctx, op.TenantID, change)
		if err != nil {
			if isCancelled(ctx, err) {
				return models.OperationCancelled, ""
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return models.OperationFailed, "timeout"
			}
			counters.Failed++
			m.logger.Warn("file failed, continuing", map[string]interface{}{
				"operation_id": op.ID,
				"path":         change.Path,
				"action":       change.Action,
				"error":        err.Error(),
			})
		} else {
			switch change.Action {
			case models.ActionCreate:
				counters.Added++
			case models.ActionUpdate:
				counters.Updated++
			case models.ActionDelete:
				counters.Deleted++
			}
			counters.ChunksCreated += res.ChunksCreated
			counters.ChunksDeleted += res.ChunksDeleted
			counters.EmbeddingsCreated += res.EmbeddingsCreated
			if m.metrics != nil {
				m.metrics.SyncFilesTotal.WithLabelValues(string(change.Action)).Inc()
			}
		}
		counters.Processed++

		progress := models.ProcessingProgress(counters.Processed, plan.Total())
		if err := m.ops.UpdateProgress(ctx, op.ID, counters, progress); err != nil {
			m.logger.Warn("failed to persist progress", map[string]interface{}{
				"operation_id": op.ID, "error": err.Error(),
			})
		}
	}

	// finalizing
	if err := m.ops.SetStage(ctx, op.ID, models.StageFinalizing); err != nil {
		return models.OperationFailed, err.Error()
	}

	if _, err := m.ops.Complete(ctx, op.ID, counters); err != nil {
		return models.OperationFailed, err.Error()
	}
	return models.OperationCompleted, ""
}

// startHeartbeat bumps heartbeat_at until the returned stop function runs.
// The update deliberately uses the background context: a heartbeat must
// outlive the executor's deadline so cleanup can tell "slow" from "dead".
func (m *Manager) startHeartbeat(opID uuid.UUID) func() {
	done := make(chan struct{})

	ticker := time.NewTicker(m.cfg.HeartbeatInterval())
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := m.ops.Heartbeat(ctx, opID); err != nil {
					m.logger.Warn("heartbeat failed", map[string]interface{}{
						"operation_id": opID, "error": err.Error(),
					})
				}
				cancel()
			}
		}
	}()

	return func() { close(done) }
}

func isCancelled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled))
}
