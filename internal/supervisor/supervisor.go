// Package supervisor runs the background maintenance loops: the periodic
// stuck-operation sweep, a catalog health probe, and cron-scheduled delta
// syncs for every active tenant.
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/AITrekker/RAG-sub000/internal/config"
	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
)

// SyncController is the manager surface the supervisor drives.
type SyncController interface {
	RequestSync(ctx context.Context, tenant *models.Tenant, forceFull bool) (*models.SyncOperation, error)
	CleanupStuck(ctx context.Context) (int, error)
}

// TenantLister enumerates tenants eligible for scheduled syncs.
type TenantLister interface {
	ListActive(ctx context.Context) ([]models.Tenant, error)
}

// Pinger probes backing-store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Supervisor owns the cleanup ticker and the sync schedule. Its failures are
// isolated: a sweep or scheduled sync that errors is logged and the loops
// continue.
type Supervisor struct {
	controller SyncController
	tenants    TenantLister
	pinger     Pinger
	cfg        config.SyncConfig
	logger     observability.Logger

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(controller SyncController, tenants TenantLister, pinger Pinger, cfg config.SyncConfig, logger observability.Logger) *Supervisor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		controller: controller,
		tenants:    tenants,
		pinger:     pinger,
		cfg:        cfg,
		logger:     logger.WithPrefix("supervisor"),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start launches the cleanup loop and, when a schedule is configured, the
// cron-driven tenant syncs. Returns an error only for an invalid schedule.
func (s *Supervisor) Start() error {
	s.wg.Add(1)
	go s.cleanupLoop()

	if s.cfg.Schedule != "" {
		s.cron = cron.New()
		if _, err := s.cron.AddFunc(s.cfg.Schedule, s.runScheduledSyncs); err != nil {
			return err
		}
		s.cron.Start()
		s.logger.Info("scheduled syncs enabled", map[string]interface{}{"schedule": s.cfg.Schedule})
	}
	return nil
}

// Stop halts the loops and waits for in-flight iterations to finish or ctx
// to expire.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	if s.cron != nil {
		cronCtx := s.cron.Stop()
		select {
		case <-cronCtx.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.CleanupInterval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runCleanup()
		}
	}
}

func (s *Supervisor) runCleanup() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	if s.pinger != nil {
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.Error("catalog health probe failed", map[string]interface{}{"error": err.Error()})
			return
		}
	}

	reset, err := s.controller.CleanupStuck(ctx)
	if err != nil {
		s.logger.Error("stuck-operation sweep failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if reset > 0 {
		s.logger.Warn("stuck-operation sweep reset operations", map[string]interface{}{"count": reset})
	}
}

// runScheduledSyncs triggers a delta sync for every active tenant. Conflicts
// mean a sync is already live for that tenant and are skipped quietly.
func (s *Supervisor) runScheduledSyncs() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()

	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		s.logger.Error("failed to list tenants for scheduled sync", map[string]interface{}{"error": err.Error()})
		return
	}

	started := 0
	for i := range tenants {
		tenant := &tenants[i]
		if _, err := s.controller.RequestSync(ctx, tenant, false); err != nil {
			if models.IsConflict(err) {
				s.logger.Debug("scheduled sync skipped, already running", map[string]interface{}{"tenant": tenant.Slug})
				continue
			}
			s.logger.Error("scheduled sync failed to start", map[string]interface{}{
				"tenant": tenant.Slug,
				"error":  err.Error(),
			})
			continue
		}
		started++
	}
	if started > 0 {
		s.logger.Info("scheduled syncs started", map[string]interface{}{"count": started})
	}
}
