package models

import (
	"time"

	"github.com/google/uuid"
)

// ChangeAction classifies what the sync must do with one file.
type ChangeAction string

const (
	ActionCreate ChangeAction = "create"
	ActionUpdate ChangeAction = "update"
	ActionDelete ChangeAction = "delete"
)

// FileChange is one planned unit of sync work. For deletes NewHash is empty
// and AbsPath may be empty; for creates FileID is uuid.Nil.
type FileChange struct {
	Action    ChangeAction `json:"action"`
	Path      string       `json:"path"`
	AbsPath   string       `json:"-"`
	SizeBytes int64        `json:"size_bytes,omitempty"`
	MimeType  string       `json:"mime_type,omitempty"`
	NewHash   string       `json:"new_hash,omitempty"`
	FileID    uuid.UUID    `json:"file_id,omitempty"`
}

// SyncPlan is the full set of changes a sync run will apply, in a
// deterministic path-sorted order per action.
type SyncPlan struct {
	TenantID     uuid.UUID    `json:"tenant_id"`
	Creates      []FileChange `json:"creates"`
	Updates      []FileChange `json:"updates"`
	Deletes      []FileChange `json:"deletes"`
	ScannedFiles int          `json:"scanned_files"`
	BuiltAt      time.Time    `json:"built_at"`
}

// Total is the number of changes in the plan; zero means a no-op sync.
func (p *SyncPlan) Total() int {
	return len(p.Creates) + len(p.Updates) + len(p.Deletes)
}

// Changes returns all planned changes in execution order: creates, then
// updates, then deletes.
func (p *SyncPlan) Changes() []FileChange {
	out := make([]FileChange, 0, p.Total())
	out = append(out, p.Creates...)
	out = append(out, p.Updates...)
	out = append(out, p.Deletes...)
	return out
}
