package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/AITrekker/RAG-sub000/internal/models"
)

// TenantRepository manages tenant rows and API key lookups.
type TenantRepository struct {
	db *sqlx.DB
}

func NewTenantRepository(db *sqlx.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Create inserts a tenant. A duplicate slug surfaces as a ValidationError so
// the admin API can answer 400 instead of leaking a raw constraint name.
func (r *TenantRepository) Create(ctx context.Context, t *models.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, slug, api_key_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.Name, t.Slug, t.APIKeyHash, t.IsActive, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if pgErr, ok := err.(*pq.Error); ok && pgErr.Code == "23505" {
			return &models.ValidationError{Field: "slug", Message: fmt.Sprintf("tenant slug already exists: %s", t.Slug)}
		}
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// GetByID returns the tenant or a NotFoundError.
func (r *TenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.GetContext(ctx, &t, `SELECT * FROM tenants WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &models.NotFoundError{Resource: "tenant", ID: id.String()}
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

// GetBySlug returns the tenant or a NotFoundError.
func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.GetContext(ctx, &t, `SELECT * FROM tenants WHERE slug = $1`, slug)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &models.NotFoundError{Resource: "tenant", ID: slug}
		}
		return nil, fmt.Errorf("failed to get tenant by slug: %w", err)
	}
	return &t, nil
}

// GetByAPIKeyHash resolves a request credential to its tenant. Returns
// (nil, nil) when no tenant owns the key so the caller can answer 401
// without treating it as an internal failure.
func (r *TenantRepository) GetByAPIKeyHash(ctx context.Context, hash string) (*models.Tenant, error) {
	var t models.Tenant
	err := r.db.GetContext(ctx, &t, `SELECT * FROM tenants WHERE api_key_hash = $1`, hash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to look up api key: %w", err)
	}
	return &t, nil
}

// List returns all tenants with live file and chunk counts, oldest first.
func (r *TenantRepository) List(ctx context.Context) ([]models.TenantSummary, error) {
	query := `
		SELECT t.id, t.name, t.slug, t.api_key_hash, t.is_active, t.created_at, t.updated_at,
		       (SELECT COUNT(*) FROM files f WHERE f.tenant_id = t.id AND f.deleted_at IS NULL) AS file_count,
		       (SELECT COUNT(*) FROM chunks c WHERE c.tenant_id = t.id) AS chunk_count
		FROM tenants t
		ORDER BY t.created_at ASC`

	var out []models.TenantSummary
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	return out, nil
}

// ListActive returns tenants eligible for scheduled syncs.
func (r *TenantRepository) ListActive(ctx context.Context) ([]models.Tenant, error) {
	var out []models.Tenant
	err := r.db.SelectContext(ctx, &out,
		`SELECT * FROM tenants WHERE is_active ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active tenants: %w", err)
	}
	return out, nil
}

// SetActive toggles a tenant without deleting anything.
func (r *TenantRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET is_active = $2, updated_at = $3 WHERE id = $1`,
		id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &models.NotFoundError{Resource: "tenant", ID: id.String()}
	}
	return nil
}

// TouchKeyUsage records when a tenant's API key last authenticated. Callers
// fire it best-effort; a failure here must never fail the request.
func (r *TenantRepository) TouchKeyUsage(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET api_key_last_used_at = $2 WHERE id = $1`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to touch api key usage: %w", err)
	}
	return nil
}
