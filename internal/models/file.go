package models

import (
	"time"

	"github.com/google/uuid"
)

// FileStatus tracks where a file sits in the sync pipeline.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusProcessing FileStatus = "processing"
	FileStatusSynced     FileStatus = "synced"
	FileStatusFailed     FileStatus = "failed"
)

// Valid reports whether s is one of the known file statuses.
func (s FileStatus) Valid() bool {
	switch s {
	case FileStatusPending, FileStatusProcessing, FileStatusSynced, FileStatusFailed:
		return true
	}
	return false
}

// File is one document inside a tenant's corpus. Path is relative to the
// tenant directory, forward-slash separated, and unique per tenant. Deleted
// files keep their row as a tombstone (DeletedAt set) with chunks removed.
type File struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	TenantID    uuid.UUID  `db:"tenant_id" json:"tenant_id"`
	Path        string     `db:"path" json:"path"`
	Name        string     `db:"name" json:"name"`
	SizeBytes   int64      `db:"size_bytes" json:"size_bytes"`
	MimeType    string     `db:"mime_type" json:"mime_type"`
	ContentHash string     `db:"content_hash" json:"content_hash"`
	SyncStatus  FileStatus `db:"sync_status" json:"sync_status"`
	SyncError   *string    `db:"sync_error" json:"sync_error,omitempty"`
	ChunkCount  int        `db:"chunk_count" json:"chunk_count"`
	DeletedAt   *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// IsDeleted reports whether the file is tombstoned.
func (f *File) IsDeleted() bool {
	return f.DeletedAt != nil
}

// FileStatusCounts aggregates a tenant's files by sync status.
type FileStatusCounts struct {
	Pending    int `db:"pending" json:"pending"`
	Processing int `db:"processing" json:"processing"`
	Synced     int `db:"synced" json:"synced"`
	Failed     int `db:"failed" json:"failed"`
	Deleted    int `db:"deleted" json:"deleted"`
}

// Total returns the number of live (non-tombstoned) files.
func (c FileStatusCounts) Total() int {
	return c.Pending + c.Processing + c.Synced + c.Failed
}
