package syncer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/AITrekker/RAG-sub000/internal/config"
	"github.com/AITrekker/RAG-sub000/internal/database"
	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
	"github.com/AITrekker/RAG-sub000/internal/pipeline"
	"github.com/AITrekker/RAG-sub000/internal/repository"
)

// FileProcessor applies one planned change; satisfied by
// pipeline.FileProcessor.
type FileProcessor interface {
	Process(ctx context.Context, tenantID uuid.UUID, change models.FileChange) (pipeline.Result, error)
}

// Manager serializes sync work per tenant and supervises the executors. Each
// admitted operation runs on its own goroutine with a heartbeat loop and an
// adaptive deadline; cleanup reclaims operations whose executor died.
type Manager struct {
	db        *sqlx.DB
	ops       *repository.SyncOperationRepository
	files     *repository.FileRepository
	detector  *Detector
	processor FileProcessor
	cfg       config.SyncConfig
	logger    observability.Logger
	metrics   *observability.Metrics

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	tenantMu map[uuid.UUID]*sync.Mutex
	cancels  map[uuid.UUID]context.CancelFunc
}

func NewManager(
	db *sqlx.DB,
	ops *repository.SyncOperationRepository,
	files *repository.FileRepository,
	detector *Detector,
	processor FileProcessor,
	cfg config.SyncConfig,
	logger observability.Logger,
	metrics *observability.Metrics,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		db:         db,
		ops:        ops,
		files:      files,
		detector:   detector,
		processor:  processor,
		cfg:        cfg,
		logger:     logger.WithPrefix("syncer"),
		metrics:    metrics,
		rootCtx:    ctx,
		rootCancel: cancel,
		tenantMu:   make(map[uuid.UUID]*sync.Mutex),
		cancels:    make(map[uuid.UUID]context.CancelFunc),
	}
}

// RecoverOrphans fails running operations left behind by a previous process
// and demotes their in-flight files. Call once at startup, before serving.
func (m *Manager) RecoverOrphans(ctx context.Context) error {
	failed, err := m.ops.FailOrphans(ctx, time.Now().UTC(), "reset by supervisor: orphaned by restart")
	if err != nil {
		return err
	}
	demoted, err := m.files.ResetAllProcessing(ctx)
	if err != nil {
		return err
	}
	if failed > 0 || demoted > 0 {
		m.logger.Warn("recovered orphaned sync state", map[string]interface{}{
			"operations_failed": failed,
			"files_demoted":     demoted,
		})
	}
	return nil
}

// RequestSync admits a sync for the tenant. If another operation is live and
// healthy it returns a ConflictError carrying that operation's progress; if
// the live operation is stuck it is reclaimed first and the new sync starts.
// The plan is built inside the admission critical section, so the returned
// operation already carries its total file count and adaptive timeout. On
// success the executor is already running and the returned operation is a
// handle the client can poll.
func (m *Manager) RequestSync(ctx context.Context, tenant *models.Tenant, forceFull bool) (*models.SyncOperation, error) {
	lock := m.lockFor(tenant.ID)
	lock.Lock()
	defer lock.Unlock()

	op := &models.SyncOperation{
		ID:            uuid.New(),
		TenantID:      tenant.ID,
		Status:        models.OperationPending,
		Stage:         models.StageInitializing,
		ForceFullSync: forceFull,
	}

	var plan *models.SyncPlan
	var scanErrs []error
	err := database.Transaction(ctx, m.db, func(tx *sqlx.Tx) error {
		if err := database.AdvisoryLock(ctx, tx, "sync:"+tenant.ID.String()); err != nil {
			return err
		}

		active, err := m.ops.GetActiveForTenant(ctx, tx, tenant.ID)
		if err != nil {
			return err
		}
		if active != nil {
			if reason := m.stuckReason(active, time.Now().UTC()); reason != "" {
				m.logger.Warn("reclaiming stuck operation at admission", map[string]interface{}{
					"operation_id": active.ID,
					"reason":       reason,
				})
				if _, err := m.ops.Fail(ctx, active.ID, "reset by supervisor: "+reason); err != nil {
					return err
				}
				if _, err := m.files.ResetProcessing(ctx, tenant.ID); err != nil {
					return err
				}
			} else {
				return &models.ConflictError{
					OperationID: active.ID,
					Status:      active.Status,
					Progress:    active.Progress,
				}
			}
		}

		plan, scanErrs, err = m.detector.BuildPlan(ctx, tenant.ID, tenant.Slug, forceFull)
		if err != nil {
			return err
		}
		op.FilesTotal = plan.Total()
		op.ExpectedDurationSeconds = int(models.ExpectedDuration(
			m.cfg.BaseTimeout(), m.cfg.PerFileTimeout(),
			m.cfg.MinTimeout(), m.cfg.MaxTimeout(), plan.Total()).Seconds())

		return m.ops.Insert(ctx, tx, op)
	})
	if err != nil {
		return nil, err
	}

	m.launch(op, tenant, plan, scanErrs)
	return op, nil
}

// CancelSync cancels the tenant's operation. A pending row flips directly; a
// running executor is signalled and stops at the next file boundary.
func (m *Manager) CancelSync(ctx context.Context, tenantID, opID uuid.UUID) error {
	op, err := m.ops.GetByID(ctx, opID)
	if err != nil {
		return err
	}
	if op.TenantID != tenantID {
		return &models.NotFoundError{Resource: "sync operation", ID: opID.String()}
	}
	if op.Status.IsTerminal() {
		return &models.ValidationError{Field: "operation_id", Message: "operation already finished"}
	}

	m.mu.Lock()
	cancel, inProcess := m.cancels[opID]
	m.mu.Unlock()

	if inProcess {
		cancel()
		return nil
	}

	// Not ours (other process or pending, executor not yet claimed): flip the
	// row; Start's pending guard keeps a late executor from running it.
	if _, err := m.ops.Cancel(ctx, opID); err != nil {
		return err
	}
	return nil
}

// CleanupStuck reclaims operations whose heartbeat went silent, that overran
// their expected duration, or that sat pending unclaimed. Returns how many
// were reset.
func (m *Manager) CleanupStuck(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	heartbeatCutoff := now.Add(-3 * m.cfg.HeartbeatInterval())
	pendingCutoff := now.Add(-m.cfg.MaxTimeout())

	stuck, err := m.ops.FindStuck(ctx, heartbeatCutoff, pendingCutoff, m.cfg.StuckMultiplier)
	if err != nil {
		return 0, err
	}

	reset := 0
	for i := range stuck {
		op := &stuck[i]
		reason := m.stuckReason(op, now)
		if reason == "" {
			reason = "pending past deadline"
		}

		ok, err := m.ops.Fail(ctx, op.ID, "reset by supervisor: "+reason)
		if err != nil {
			m.logger.Error("failed to reset stuck operation", map[string]interface{}{
				"operation_id": op.ID,
				"error":        err.Error(),
			})
			continue
		}
		if !ok {
			continue // finished on its own between find and fail
		}

		if _, err := m.files.ResetProcessing(ctx, op.TenantID); err != nil {
			m.logger.Error("failed to demote processing files", map[string]interface{}{
				"tenant_id": op.TenantID,
				"error":     err.Error(),
			})
		}

		m.logger.Warn("stuck operation reset", map[string]interface{}{
			"operation_id": op.ID,
			"tenant_id":    op.TenantID,
			"reason":       reason,
		})
		if m.metrics != nil {
			m.metrics.StuckOperationsReset.Inc()
		}
		reset++
	}
	return reset, nil
}

// Shutdown stops accepting work, cancels running executors, and waits for
// them to finalize their operations or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.rootCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sync executors did not stop in time: %w", ctx.Err())
	}
}

// stuckReason classifies a live operation as stuck, returning "" when it is
// healthy. An operation is stuck when its heartbeat is older than three
// intervals or its runtime exceeds the stuck multiplier times its expected
// duration.
func (m *Manager) stuckReason(op *models.SyncOperation, now time.Time) string {
	if op.Status == models.OperationRunning {
		if op.HeartbeatAt == nil {
			return "running without heartbeat"
		}
		if silent := now.Sub(*op.HeartbeatAt); silent > 3*m.cfg.HeartbeatInterval() {
			return fmt.Sprintf("heartbeat silent for %s", silent.Round(time.Second))
		}
		expected := time.Duration(op.ExpectedDurationSeconds) * time.Second
		if runtime := op.Runtime(now); expected > 0 && runtime > time.Duration(m.cfg.StuckMultiplier*float64(expected)) {
			return fmt.Sprintf("runtime %s exceeded %.0fx expected duration", runtime.Round(time.Second), m.cfg.StuckMultiplier)
		}
	}
	if op.Status == models.OperationPending && now.Sub(op.CreatedAt) > m.cfg.MaxTimeout() {
		return "pending past deadline"
	}
	return ""
}

func (m *Manager) lockFor(tenantID uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.tenantMu[tenantID]
	if !ok {
		lock = &sync.Mutex{}
		m.tenantMu[tenantID] = lock
	}
	return lock
}

func (m *Manager) launch(op *models.SyncOperation, tenant *models.Tenant, plan *models.SyncPlan, scanErrs []error) {
	ctx, cancel := context.WithCancel(m.rootCtx)

	m.mu.Lock()
	m.cancels[op.ID] = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			cancel()
			m.mu.Lock()
			delete(m.cancels, op.ID)
			m.mu.Unlock()
		}()
		m.execute(ctx, op, tenant, plan, scanErrs)
	}()
}
