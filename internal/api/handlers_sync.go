package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AITrekker/RAG-sub000/internal/models"
)

type syncTriggerRequest struct {
	ForceFullSync bool `json:"force_full_sync"`
}

// handleSyncTrigger admits a sync and returns the operation handle without
// waiting for the work. A live healthy operation answers 409 with its
// progress.
func (s *Server) handleSyncTrigger(c *gin.Context) {
	tenant := tenantFrom(c)

	var req syncTriggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, s.logger, &models.ValidationError{Field: "body", Message: err.Error()})
			return
		}
	}

	op, err := s.manager.RequestSync(c.Request.Context(), tenant, req.ForceFullSync)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"operation_id":              op.ID,
		"status":                    op.Status,
		"force_full_sync":           op.ForceFullSync,
		"total_files":               op.FilesTotal,
		"expected_duration_seconds": op.ExpectedDurationSeconds,
		"message":                   "sync started",
	})
}

// handleSyncStatus reports the tenant's most recent operation plus a live
// breakdown of file sync states.
func (s *Server) handleSyncStatus(c *gin.Context) {
	tenant := tenantFrom(c)
	ctx := c.Request.Context()

	latest, err := s.ops.Latest(ctx, tenant.ID)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}

	counts, err := s.files.CountsByStatus(ctx, tenant.ID)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"latest": latest,
		"file_status": gin.H{
			"pending":    counts.Pending,
			"processing": counts.Processing,
			"synced":     counts.Synced,
			"failed":     counts.Failed,
			"total":      counts.Total(),
		},
	})
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

func (s *Server) handleSyncHistory(c *gin.Context) {
	tenant := tenantFrom(c)

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, ok := parsePositiveInt(raw)
		if !ok {
			respondError(c, s.logger, &models.ValidationError{Field: "limit", Message: "must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	history, err := s.ops.History(c.Request.Context(), tenant.ID, limit)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// handleDetectChanges builds a dry-run plan without executing it. Scan errors
// on individual paths are reported alongside the plan, not as a failure.
func (s *Server) handleDetectChanges(c *gin.Context) {
	tenant := tenantFrom(c)

	plan, scanErrs, err := s.detector.BuildPlan(c.Request.Context(), tenant.ID, tenant.Slug, false)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}

	errMessages := make([]string, 0, len(scanErrs))
	for _, e := range scanErrs {
		errMessages = append(errMessages, e.Error())
	}

	c.JSON(http.StatusOK, gin.H{
		"total":         plan.Total(),
		"new":           len(plan.Creates),
		"updated":       len(plan.Updates),
		"deleted":       len(plan.Deletes),
		"scanned_files": plan.ScannedFiles,
		"changes": gin.H{
			"creates": changePaths(plan.Creates),
			"updates": changePaths(plan.Updates),
			"deletes": changePaths(plan.Deletes),
		},
		"scan_errors": errMessages,
	})
}

type syncCancelRequest struct {
	OperationID uuid.UUID `json:"operation_id" binding:"required"`
}

func (s *Server) handleSyncCancel(c *gin.Context) {
	tenant := tenantFrom(c)

	var req syncCancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.logger, &models.ValidationError{Field: "operation_id", Message: "required"})
		return
	}

	if err := s.manager.CancelSync(c.Request.Context(), tenant.ID, req.OperationID); err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"operation_id": req.OperationID,
		"message":      "cancellation requested",
	})
}

// handleSyncCleanup runs the stuck-operation sweep on demand; the supervisor
// runs the same sweep on its own schedule.
func (s *Server) handleSyncCleanup(c *gin.Context) {
	reset, err := s.manager.CleanupStuck(c.Request.Context())
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"operations_cleaned": reset})
}

func changePaths(changes []models.FileChange) []string {
	out := make([]string, 0, len(changes))
	for _, ch := range changes {
		out = append(out, ch.Path)
	}
	return out
}

func parsePositiveInt(raw string) (int, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
