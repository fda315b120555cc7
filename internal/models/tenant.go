// Package models defines the catalog entities and domain errors shared by
// the sync pipeline, retrieval path, and HTTP surface.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Tenant is an isolated corpus owner. Its slug doubles as the directory name
// under the documents root and must stay filesystem-safe.
type Tenant struct {
	ID               uuid.UUID  `db:"id" json:"id"`
	Name             string     `db:"name" json:"name"`
	Slug             string     `db:"slug" json:"slug"`
	APIKeyHash       string     `db:"api_key_hash" json:"-"`
	APIKeyLastUsedAt *time.Time `db:"api_key_last_used_at" json:"-"`
	IsActive         bool       `db:"is_active" json:"is_active"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// TenantSummary is the admin listing view of a tenant with corpus counters.
type TenantSummary struct {
	Tenant
	FileCount  int `db:"file_count" json:"file_count"`
	ChunkCount int `db:"chunk_count" json:"chunk_count"`
}
