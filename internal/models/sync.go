package models

import (
	"time"

	"github.com/google/uuid"
)

// OperationStatus is the lifecycle state of a sync operation. Terminal
// statuses never transition again.
type OperationStatus string

const (
	OperationPending   OperationStatus = "pending"
	OperationRunning   OperationStatus = "running"
	OperationCompleted OperationStatus = "completed"
	OperationFailed    OperationStatus = "failed"
	OperationCancelled OperationStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s OperationStatus) IsTerminal() bool {
	switch s {
	case OperationCompleted, OperationFailed, OperationCancelled:
		return true
	}
	return false
}

// Valid reports whether s is one of the known operation statuses.
func (s OperationStatus) Valid() bool {
	switch s {
	case OperationPending, OperationRunning:
		return true
	}
	return s.IsTerminal()
}

// SyncStage is the executor's position inside a running operation.
type SyncStage string

const (
	StageInitializing     SyncStage = "initializing"
	StageDetectingChanges SyncStage = "detecting_changes"
	StageProcessingFiles  SyncStage = "processing_files"
	StageFinalizing       SyncStage = "finalizing"
)

// EntryProgress is the progress percentage recorded when a stage begins.
func (s SyncStage) EntryProgress() int {
	switch s {
	case StageDetectingChanges:
		return 5
	case StageProcessingFiles:
		return 10
	case StageFinalizing:
		return 90
	default:
		return 0
	}
}

// ProcessingProgress maps "processed i+1 of n files" onto the 10..90 band.
func ProcessingProgress(processed, total int) int {
	if total <= 0 {
		return StageFinalizing.EntryProgress()
	}
	if processed > total {
		processed = total
	}
	return 10 + (80*processed)/total
}

// SyncOperation is one tracked sync run for a tenant. At most one operation
// per tenant may be pending or running at a time.
type SyncOperation struct {
	ID                      uuid.UUID       `db:"id" json:"id"`
	TenantID                uuid.UUID       `db:"tenant_id" json:"tenant_id"`
	Status                  OperationStatus `db:"status" json:"status"`
	Stage                   SyncStage       `db:"stage" json:"stage"`
	Progress                int             `db:"progress" json:"progress"`
	FilesTotal              int             `db:"files_total" json:"files_total"`
	FilesProcessed          int             `db:"files_processed" json:"files_processed"`
	FilesFailed             int             `db:"files_failed" json:"files_failed"`
	FilesAdded              int             `db:"files_added" json:"files_added"`
	FilesUpdated            int             `db:"files_updated" json:"files_updated"`
	FilesDeleted            int             `db:"files_deleted" json:"files_deleted"`
	ChunksCreated           int             `db:"chunks_created" json:"chunks_created"`
	ChunksDeleted           int             `db:"chunks_deleted" json:"chunks_deleted"`
	EmbeddingsCreated       int             `db:"embeddings_created" json:"embeddings_created"`
	ErrorMessage            *string         `db:"error_message" json:"error_message,omitempty"`
	ForceFullSync           bool            `db:"force_full_sync" json:"force_full_sync"`
	ExpectedDurationSeconds int             `db:"expected_duration_seconds" json:"expected_duration_seconds"`
	StartedAt               *time.Time      `db:"started_at" json:"started_at,omitempty"`
	HeartbeatAt             *time.Time      `db:"heartbeat_at" json:"heartbeat_at,omitempty"`
	CompletedAt             *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt               time.Time       `db:"created_at" json:"created_at"`
}

// SyncCounters aggregates per-file outcomes while an operation runs. Added,
// Updated, and Deleted count successfully applied changes by action; Failed
// covers files of any action plus unreadable paths from the scan.
type SyncCounters struct {
	Processed         int
	Failed            int
	Added             int
	Updated           int
	Deleted           int
	ChunksCreated     int
	ChunksDeleted     int
	EmbeddingsCreated int
}

// Runtime returns how long the operation has been running as of now, or zero
// if it never started.
func (op *SyncOperation) Runtime(now time.Time) time.Duration {
	if op.StartedAt == nil {
		return 0
	}
	end := now
	if op.CompletedAt != nil {
		end = *op.CompletedAt
	}
	return end.Sub(*op.StartedAt)
}

// ExpectedDuration computes the adaptive timeout for a sync over fileCount
// files: base plus a per-file allowance, clamped to [min, max].
func ExpectedDuration(base, perFile, min, max time.Duration, fileCount int) time.Duration {
	d := base + time.Duration(fileCount)*perFile
	if d < min {
		d = min
	}
	if d > max {
		d = max
	}
	return d
}
