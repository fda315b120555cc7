package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AITrekker/RAG-sub000/internal/config"
	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
)

type fakeController struct {
	mu           sync.Mutex
	cleanupCalls int
	cleanupErr   error
	synced       []string
	syncErr      map[string]error
}

func (f *fakeController) RequestSync(ctx context.Context, tenant *models.Tenant, forceFull bool) (*models.SyncOperation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.syncErr[tenant.Slug]; err != nil {
		return nil, err
	}
	f.synced = append(f.synced, tenant.Slug)
	return &models.SyncOperation{ID: uuid.New(), TenantID: tenant.ID}, nil
}

func (f *fakeController) CleanupStuck(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupCalls++
	return 0, f.cleanupErr
}

type fakeLister struct {
	tenants []models.Tenant
	err     error
}

func (f *fakeLister) ListActive(ctx context.Context) ([]models.Tenant, error) {
	return f.tenants, f.err
}

type fakePinger struct {
	mu  sync.Mutex
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func testConfig() config.SyncConfig {
	return config.SyncConfig{CleanupIntervalSeconds: 1}
}

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestStartStopLeavesNoGoroutines(t *testing.T) {
	s := New(&fakeController{}, &fakeLister{}, nil, testConfig(), observability.NewNoopLogger())
	require.NoError(t, s.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestCleanupSweepRuns(t *testing.T) {
	controller := &fakeController{}
	s := New(controller, &fakeLister{}, nil, testConfig(), observability.NewNoopLogger())
	require.NoError(t, s.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}()

	require.Eventually(t, func() bool {
		controller.mu.Lock()
		defer controller.mu.Unlock()
		return controller.cleanupCalls >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

func TestCleanupSkippedWhenProbeFails(t *testing.T) {
	controller := &fakeController{}
	pinger := &fakePinger{err: errors.New("catalog down")}
	s := New(controller, &fakeLister{}, pinger, testConfig(), observability.NewNoopLogger())
	require.NoError(t, s.Start())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	}()

	time.Sleep(1500 * time.Millisecond)
	controller.mu.Lock()
	calls := controller.cleanupCalls
	controller.mu.Unlock()
	assert.Zero(t, calls, "sweep must not run while the catalog is unreachable")
}

func TestScheduledSyncsTriggerActiveTenants(t *testing.T) {
	controller := &fakeController{}
	lister := &fakeLister{tenants: []models.Tenant{
		{ID: uuid.New(), Slug: "acme", IsActive: true},
		{ID: uuid.New(), Slug: "globex", IsActive: true},
	}}
	s := New(controller, lister, nil, testConfig(), observability.NewNoopLogger())

	s.runScheduledSyncs()

	controller.mu.Lock()
	defer controller.mu.Unlock()
	assert.Equal(t, []string{"acme", "globex"}, controller.synced)
}

func TestScheduledSyncSkipsConflicts(t *testing.T) {
	controller := &fakeController{syncErr: map[string]error{
		"acme": &models.ConflictError{OperationID: uuid.New(), Status: models.OperationRunning},
	}}
	lister := &fakeLister{tenants: []models.Tenant{
		{ID: uuid.New(), Slug: "acme", IsActive: true},
		{ID: uuid.New(), Slug: "globex", IsActive: true},
	}}
	s := New(controller, lister, nil, testConfig(), observability.NewNoopLogger())

	s.runScheduledSyncs()

	controller.mu.Lock()
	defer controller.mu.Unlock()
	assert.Equal(t, []string{"globex"}, controller.synced, "conflicted tenant is skipped, the rest proceed")
}

func TestScheduledSyncContinuesPastErrors(t *testing.T) {
	controller := &fakeController{syncErr: map[string]error{
		"acme": errors.New("boom"),
	}}
	lister := &fakeLister{tenants: []models.Tenant{
		{ID: uuid.New(), Slug: "acme", IsActive: true},
		{ID: uuid.New(), Slug: "globex", IsActive: true},
	}}
	s := New(controller, lister, nil, testConfig(), observability.NewNoopLogger())

	s.runScheduledSyncs()

	controller.mu.Lock()
	defer controller.mu.Unlock()
	assert.Equal(t, []string{"globex"}, controller.synced)
}

func TestInvalidScheduleFailsStart(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule = "not a schedule"
	s := New(&fakeController{}, &fakeLister{}, nil, cfg, observability.NewNoopLogger())

	err := s.Start()
	require.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
