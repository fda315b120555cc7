package api

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AITrekker/RAG-sub000/internal/auth"
	"github.com/AITrekker/RAG-sub000/internal/models"
)

// Slugs double as directory names under the documents root, so the charset
// stays filesystem-safe and the reserved admin name is off limits.
var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

func (s *Server) handleListTenants(c *gin.Context) {
	tenants, err := s.tenants.List(c.Request.Context())
	if err != nil {
		respondError(c, s.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenants": tenants,
		"count":   len(tenants),
	})
}

type createTenantRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// handleCreateTenant provisions a tenant and mints its API key. The
// plaintext key appears in this response and nowhere else; only its hash is
// stored.
func (s *Server) handleCreateTenant(c *gin.Context) {
	var req createTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.logger, &models.ValidationError{Field: "body", Message: err.Error()})
		return
	}
	if req.Name == "" {
		respondError(c, s.logger, &models.ValidationError{Field: "name", Message: "required"})
		return
	}
	if !slugPattern.MatchString(req.Slug) {
		respondError(c, s.logger, &models.ValidationError{Field: "slug", Message: "must be lowercase alphanumeric with - or _"})
		return
	}
	if req.Slug == "admin" {
		respondError(c, s.logger, &models.ValidationError{Field: "slug", Message: "slug is reserved"})
		return
	}

	apiKey, keyHash, err := auth.GenerateAPIKey("tnt")
	if err != nil {
		respondError(c, s.logger, err)
		return
	}

	tenant := &models.Tenant{
		ID:         uuid.New(),
		Name:       req.Name,
		Slug:       req.Slug,
		APIKeyHash: keyHash,
		IsActive:   true,
	}
	if err := s.tenants.Create(c.Request.Context(), tenant); err != nil {
		respondError(c, s.logger, err)
		return
	}

	s.logger.Info("tenant created", map[string]interface{}{
		"tenant_id": tenant.ID,
		"slug":      tenant.Slug,
	})
	c.JSON(http.StatusCreated, gin.H{
		"tenant":  tenant,
		"api_key": apiKey,
		"message": "store the api_key now; it cannot be retrieved again",
	})
}

// handleDeleteTenant is intentionally unimplemented. Removing a tenant means
// destroying its corpus, chunks, and history; deactivation via is_active
// covers the operational need without an irreversible path.
func (s *Server) handleDeleteTenant(c *gin.Context) {
	c.JSON(http.StatusNotImplemented, errorBody{
		Error:   "not_implemented",
		Message: "tenant deletion is not supported; deactivate the tenant instead",
	})
}
