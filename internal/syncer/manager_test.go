package syncer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AITrekker/RAG-sub000/internal/config"
	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
	"github.com/AITrekker/RAG-sub000/internal/pipeline"
	"github.com/AITrekker/RAG-sub000/internal/repository"
	"github.com/AITrekker/RAG-sub000/internal/scanner"
)

type fakeProcessor struct {
	mu      sync.Mutex
	calls   []models.FileChange
	failOn  map[string]error
	blockCh chan struct{} // when set, Process waits for a close or ctx
}

func (p *fakeProcessor) Process(ctx context.Context, tenantID uuid.UUID, change models.FileChange) (pipeline.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, change)
	p.mu.Unlock()

	if p.blockCh != nil {
		select {
		case <-p.blockCh:
		case <-ctx.Done():
			return pipeline.Result{}, ctx.Err()
		}
	}
	if err, ok := p.failOn[change.Path]; ok {
		return pipeline.Result{}, err
	}
	return pipeline.Result{ChunksCreated: 2, EmbeddingsCreated: 2}, nil
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{
		BaseTimeoutSeconds:       300,
		PerFileTimeoutSeconds:    10,
		MinTimeoutSeconds:        300,
		MaxTimeoutSeconds:        7200,
		HeartbeatIntervalSeconds: 60, // quiet during short tests
		StuckMultiplier:          2.0,
		CleanupIntervalSeconds:   600,
	}
}

func newTestManager(t *testing.T, proc FileProcessor) (*Manager, string, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	mock.MatchExpectationsInOrder(false)
	db := sqlx.NewDb(raw, "sqlmock")

	root := t.TempDir()
	logger := observability.NewNoopLogger()
	files := repository.NewFileRepository(db)
	detector := NewDetector(scanner.New(root, logger), files, logger)

	m := NewManager(db, repository.NewSyncOperationRepository(db), files,
		detector, proc, testSyncConfig(), logger, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m, root, mock
}

func testTenant() *models.Tenant {
	return &models.Tenant{ID: uuid.New(), Slug: "acme", Name: "Acme", IsActive: true}
}

// expectAdmission covers the advisory-lock transaction with no live op. The
// plan is built inside it, so the catalog state query belongs here too.
func expectAdmission(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT \\* FROM sync_operations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT id, path, content_hash, sync_status").
		WillReturnRows(sqlmock.NewRows([]string{"id", "path", "content_hash", "sync_status"}))
	mock.ExpectExec("INSERT INTO sync_operations").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func opColumns() []string {
	return []string{
		"id", "tenant_id", "status", "stage", "progress", "files_total",
		"files_processed", "files_failed", "files_added", "files_updated", "files_deleted",
		"chunks_created", "chunks_deleted", "embeddings_created",
		"error_message", "force_full_sync", "expected_duration_seconds",
		"started_at", "heartbeat_at", "completed_at", "created_at",
	}
}

func opRow(id, tenantID uuid.UUID, status models.OperationStatus, heartbeat, started time.Time, expectedSeconds int) *sqlmock.Rows {
	return sqlmock.NewRows(opColumns()).AddRow(
		id, tenantID, string(status), string(models.StageProcessingFiles), 42, 10,
		4, 0, 4, 0, 0,
		8, 0, 8,
		nil, false, expectedSeconds,
		started, heartbeat, nil, started)
}

func TestRequestSyncRunsEmptyPlanToCompletion(t *testing.T) {
	proc := &fakeProcessor{}
	m, _, mock := newTestManager(t, proc)
	tenant := testTenant()

	expectAdmission(mock)
	// Executor on an empty plan: claim, complete.
	mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1)) // Start
	mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1)) // Complete

	op, err := m.RequestSync(context.Background(), tenant, false)
	require.NoError(t, err)
	assert.Equal(t, models.OperationPending, op.Status)
	assert.Equal(t, tenant.ID, op.TenantID)
	assert.Zero(t, op.FilesTotal)

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, proc.callCount())
}

func TestRequestSyncProcessesPlannedFiles(t *testing.T) {
	proc := &fakeProcessor{}
	m, root, mock := newTestManager(t, proc)
	tenant := testTenant()

	seedFile(t, root, tenant.Slug, "doc1.txt", "Alpha bravo.")
	seedFile(t, root, tenant.Slug, "doc2.txt", "Charlie delta.")

	expectAdmission(mock)
	mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1)) // Start
	mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1)) // SetStage processing
	mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1)) // progress 1
	mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1)) // progress 2
	mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1)) // SetStage finalizing
	mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1)) // Complete

	op, err := m.RequestSync(context.Background(), tenant, false)
	require.NoError(t, err)

	// The plan was built at admission, so the returned handle already carries
	// the plan size and the timeout derived from it.
	assert.Equal(t, 2, op.FilesTotal)
	assert.Equal(t, 320, op.ExpectedDurationSeconds) // 300 base + 2×10 per file

	require.Eventually(t, func() bool {
		return proc.callCount() == 2 && mock.ExpectationsWereMet() == nil
	}, 3*time.Second, 10*time.Millisecond)

	// Plan order is path-sorted.
	assert.Equal(t, "doc1.txt", proc.calls[0].Path)
	assert.Equal(t, "doc2.txt", proc.calls[1].Path)
	assert.Equal(t, models.ActionCreate, proc.calls[0].Action)
}

func TestRequestSyncConflictOnHealthyActiveOp(t *testing.T) {
	m, _, mock := newTestManager(t, &fakeProcessor{})
	tenant := testTenant()
	now := time.Now().UTC()
	activeID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT \\* FROM sync_operations").
		WillReturnRows(opRow(activeID, tenant.ID, models.OperationRunning, now, now.Add(-time.Minute), 600))
	mock.ExpectRollback()

	_, err := m.RequestSync(context.Background(), tenant, false)
	require.Error(t, err)

	var ce *models.ConflictError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, activeID, ce.OperationID)
	assert.Equal(t, 42, ce.Progress)
}

func TestRequestSyncReclaimsStuckOpAtAdmission(t *testing.T) {
	m, _, mock := newTestManager(t, &fakeProcessor{})
	tenant := testTenant()
	staleHeartbeat := time.Now().UTC().Add(-10 * time.Minute) // > 3×60s
	activeID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT \\* FROM sync_operations").
		WillReturnRows(opRow(activeID, tenant.ID, models.OperationRunning, staleHeartbeat, staleHeartbeat, 600))
	mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1)) // Fail stuck
	mock.ExpectExec("UPDATE files").WillReturnResult(sqlmock.NewResult(0, 2))           // ResetProcessing
	mock.ExpectQuery("SELECT id, path, content_hash, sync_status").
		WillReturnRows(sqlmock.NewRows([]string{"id", "path", "content_hash", "sync_status"}))
	mock.ExpectExec("INSERT INTO sync_operations").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	// New executor starts; let it finish with an empty plan.
	mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1)) // Start
	mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1)) // Complete

	op, err := m.RequestSync(context.Background(), tenant, false)
	require.NoError(t, err)
	assert.NotEqual(t, activeID, op.ID)

	require.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, 3*time.Second, 10*time.Millisecond)
}

func TestRequestSyncContinuesPastFailedFile(t *testing.T) {
	proc := &fakeProcessor{failOn: map[string]error{
		"bad.txt": errors.New("extraction exploded"),
	}}
	m, root, mock := newTestManager(t, proc)
	tenant := testTenant()

	seedFile(t, root, tenant.Slug, "bad.txt", "will fail")
	seedFile(t, root, tenant.Slug, "good.txt", "will pass")

	expectAdmission(mock)
	for i := 0; i < 6; i++ { // start, processing stage, 2 progress, finalize, complete
		mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1))
	}

	_, err := m.RequestSync(context.Background(), tenant, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return proc.callCount() == 2
	}, 3*time.Second, 10*time.Millisecond, "failure must not abort the plan")
}

func TestRequestSyncFailsWhenRootUnavailable(t *testing.T) {
	proc := &fakeProcessor{}
	m, root, mock := newTestManager(t, proc)
	tenant := testTenant()

	// The tenant root is a dangling symlink (an unmounted share, say). No
	// operation may be admitted: a sync here would read the broken root as an
	// empty corpus and plan a full wipe.
	require.NoError(t, os.Symlink(filepath.Join(root, "detached"), filepath.Join(root, tenant.Slug)))

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT \\* FROM sync_operations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	_, err := m.RequestSync(context.Background(), tenant, false)
	require.Error(t, err)

	var se *models.ScannerError
	assert.ErrorAs(t, err, &se)
	assert.Zero(t, proc.callCount())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupStuckResetsSilentOperations(t *testing.T) {
	m, _, mock := newTestManager(t, &fakeProcessor{})
	tenantID := uuid.New()
	stuckID := uuid.New()
	stale := time.Now().UTC().Add(-15 * time.Minute)

	mock.ExpectQuery("SELECT \\* FROM sync_operations").
		WillReturnRows(opRow(stuckID, tenantID, models.OperationRunning, stale, stale, 300))
	mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1)) // Fail
	mock.ExpectExec("UPDATE files").WillReturnResult(sqlmock.NewResult(0, 3))           // ResetProcessing

	n, err := m.CleanupStuck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupStuckNothingToDo(t *testing.T) {
	m, _, mock := newTestManager(t, &fakeProcessor{})

	mock.ExpectQuery("SELECT \\* FROM sync_operations").
		WillReturnRows(sqlmock.NewRows(opColumns()))

	n, err := m.CleanupStuck(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancelSyncStopsRunningExecutorAtFileBoundary(t *testing.T) {
	block := make(chan struct{})
	proc := &fakeProcessor{blockCh: block}
	m, root, mock := newTestManager(t, proc)
	tenant := testTenant()

	seedFile(t, root, tenant.Slug, "a.txt", "one")
	seedFile(t, root, tenant.Slug, "b.txt", "two")

	expectAdmission(mock)
	// Executor SQL up to the first (blocked) file, then the cancel path.
	for i := 0; i < 4; i++ {
		mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1))
	}

	op, err := m.RequestSync(context.Background(), tenant, false)
	require.NoError(t, err)

	// Wait until the executor is inside the first file.
	require.Eventually(t, func() bool { return proc.callCount() == 1 },
		3*time.Second, 10*time.Millisecond)

	// CancelSync consults the op row first.
	mock.ExpectQuery("SELECT \\* FROM sync_operations").
		WillReturnRows(opRow(op.ID, tenant.ID, models.OperationRunning, time.Now().UTC(), time.Now().UTC(), 600))

	require.NoError(t, m.CancelSync(context.Background(), tenant.ID, op.ID))

	// The blocked file observes cancellation; no second file is processed.
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.cancels) == 0
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, proc.callCount())
	close(block)
}

func TestCancelSyncRejectsWrongTenant(t *testing.T) {
	m, _, mock := newTestManager(t, &fakeProcessor{})
	opID := uuid.New()

	mock.ExpectQuery("SELECT \\* FROM sync_operations").
		WillReturnRows(opRow(opID, uuid.New(), models.OperationRunning, time.Now().UTC(), time.Now().UTC(), 600))

	err := m.CancelSync(context.Background(), uuid.New(), opID)
	require.Error(t, err)
	assert.True(t, models.IsNotFound(err))
}

func TestStuckReasonHealthyOperation(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeProcessor{})
	now := time.Now().UTC()
	hb := now.Add(-time.Second)
	started := now.Add(-time.Minute)

	op := &models.SyncOperation{
		Status:                  models.OperationRunning,
		HeartbeatAt:             &hb,
		StartedAt:               &started,
		ExpectedDurationSeconds: 600,
	}
	assert.Empty(t, m.stuckReason(op, now))
}

func TestStuckReasonOverrunOperation(t *testing.T) {
	m, _, _ := newTestManager(t, &fakeProcessor{})
	now := time.Now().UTC()
	hb := now.Add(-time.Second) // heartbeat alive but runtime overran
	started := now.Add(-30 * time.Minute)

	op := &models.SyncOperation{
		Status:                  models.OperationRunning,
		HeartbeatAt:             &hb,
		StartedAt:               &started,
		ExpectedDurationSeconds: 300,
	}
	assert.Contains(t, m.stuckReason(op, now), "expected duration")
}
