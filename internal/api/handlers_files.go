package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AITrekker/RAG-sub000/internal/models"
)

const (
	defaultFileLimit = 50
	maxFileLimit     = 500
)

// handleListFiles pages through the tenant's catalog rows. Tombstoned files
// are hidden unless include_deleted is set.
func (s *Server) handleListFiles(c *gin.Context) {
	tenant := tenantFrom(c)

	limit := defaultFileLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, ok := parsePositiveInt(raw)
		if !ok {
			respondError(c, s.logger, &models.ValidationError{Field: "limit", Message: "must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxFileLimit {
		limit = maxFileLimit
	}

	offset := 0
	if raw := c.Query("offset"); raw != "" {
		parsed, ok := parsePositiveInt(raw)
		if !ok {
			respondError(c, s.logger, &models.ValidationError{Field: "offset", Message: "must be a positive integer"})
			return
		}
		offset = parsed
	}

	includeDeleted := c.Query("include_deleted") == "true"

	files, err := s.files.ListByTenant(c.Request.Context(), tenant.ID, limit, offset, includeDeleted)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"files":  files,
		"limit":  limit,
		"offset": offset,
		"count":  len(files),
	})
}
