// Package syncer owns sync execution: change detection, the per-operation
// state machine, heartbeats, and stuck-operation cleanup.
package syncer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
	"github.com/AITrekker/RAG-sub000/internal/repository"
	"github.com/AITrekker/RAG-sub000/internal/scanner"
)

// Detector joins a filesystem scan with the catalog's view of a tenant and
// produces the plan of changes a sync run must apply.
type Detector struct {
	scanner *scanner.Scanner
	files   *repository.FileRepository
	logger  observability.Logger
}

func NewDetector(sc *scanner.Scanner, files *repository.FileRepository, logger observability.Logger) *Detector {
	return &Detector{scanner: sc, files: files, logger: logger.WithPrefix("detector")}
}

// BuildPlan computes the tenant's sync plan. scanErrs collects per-file scan
// failures (unreadable files); they count as failures but never abort the
// plan. Root-level scan failures do abort: a broken walk must never be read
// as "the files are gone". forceFull re-emits unchanged files as updates so
// the whole corpus is reprocessed.
func (d *Detector) BuildPlan(ctx context.Context, tenantID uuid.UUID, slug string, forceFull bool) (*models.SyncPlan, []error, error) {
	results, err := d.scanner.ScanTenant(ctx, slug)
	if err != nil {
		return nil, nil, err
	}

	dbState, err := d.files.ListActiveState(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}

	plan := &models.SyncPlan{TenantID: tenantID, BuiltAt: time.Now().UTC()}
	var scanErrs []error
	seen := make(map[string]bool, len(dbState))

	for r := range results {
		if r.Err != nil {
			if r.Fatal {
				return nil, scanErrs, r.Err
			}
			scanErrs = append(scanErrs, r.Err)
			continue
		}
		f := r.File
		plan.ScannedFiles++
		seen[f.Path] = true

		row, known := dbState[f.Path]
		switch {
		case !known:
			plan.Creates = append(plan.Creates, models.FileChange{
				Action:    models.ActionCreate,
				Path:      f.Path,
				AbsPath:   f.AbsPath,
				SizeBytes: f.SizeBytes,
				MimeType:  f.MimeType,
				NewHash:   f.ContentHash,
			})
		case row.ContentHash != f.ContentHash,
			forceFull,
			// Failed files re-enter the plan even with an unchanged hash so
			// a transient embedding outage heals on the next sync.
			row.SyncStatus == models.FileStatusFailed:
			plan.Updates = append(plan.Updates, models.FileChange{
				Action:    models.ActionUpdate,
				Path:      f.Path,
				AbsPath:   f.AbsPath,
				SizeBytes: f.SizeBytes,
				MimeType:  f.MimeType,
				NewHash:   f.ContentHash,
				FileID:    row.ID,
			})
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, scanErrs, err
	}

	for path, row := range dbState {
		if !seen[path] {
			plan.Deletes = append(plan.Deletes, models.FileChange{
				Action: models.ActionDelete,
				Path:   path,
				FileID: row.ID,
			})
		}
	}

	// A scan that found nothing while the catalog still has rows would wipe
	// the whole corpus. That is legitimate for an existing-but-emptied
	// directory; when the directory itself is gone the far likelier cause is
	// an unmounted or misconfigured documents root, so the sync fails
	// instead.
	if plan.ScannedFiles == 0 && len(plan.Deletes) > 0 {
		missing, merr := d.scanner.RootMissing(slug)
		if merr != nil {
			return nil, scanErrs, merr
		}
		if missing {
			return nil, scanErrs, &models.ScannerError{
				Path: slug,
				Err:  fmt.Errorf("tenant directory missing while catalog holds %d files", len(plan.Deletes)),
			}
		}
	}

	sortChanges(plan.Creates)
	sortChanges(plan.Updates)
	sortChanges(plan.Deletes)

	d.logger.Debug("plan built", map[string]interface{}{
		"tenant_id": tenantID,
		"scanned":   plan.ScannedFiles,
		"creates":   len(plan.Creates),
		"updates":   len(plan.Updates),
		"deletes":   len(plan.Deletes),
		"scan_errs": len(scanErrs),
	})
	return plan, scanErrs, nil
}

func sortChanges(changes []models.FileChange) {
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
}
