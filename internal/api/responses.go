package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
)

// errorBody is the uniform error envelope. Details carries structured extras
// such as the conflicting operation on a 409.
type errorBody struct {
	Error   string      `json:"error"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// respondError translates a domain error into its status code and envelope.
// Unclassified errors become 500 with a generic message; the real cause goes
// to the log, not the client.
func respondError(c *gin.Context, logger observability.Logger, err error) {
	var (
		authErr       *models.AuthError
		validationErr *models.ValidationError
		notFoundErr   *models.NotFoundError
		conflictErr   *models.ConflictError
	)

	switch {
	case errors.As(err, &authErr):
		status := http.StatusUnauthorized
		kind := "unauthorized"
		if authErr.Forbidden {
			status = http.StatusForbidden
			kind = "forbidden"
		}
		c.AbortWithStatusJSON(status, errorBody{Error: kind, Message: authErr.Message})

	case errors.As(err, &validationErr):
		c.AbortWithStatusJSON(http.StatusBadRequest, errorBody{
			Error:   "validation_failed",
			Message: validationErr.Error(),
			Details: gin.H{"field": validationErr.Field},
		})

	case errors.As(err, &notFoundErr):
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody{
			Error:   "not_found",
			Message: notFoundErr.Error(),
		})

	case errors.As(err, &conflictErr):
		c.AbortWithStatusJSON(http.StatusConflict, errorBody{
			Error:   "sync_conflict",
			Message: "a sync operation is already in progress",
			Details: gin.H{
				"operation_id": conflictErr.OperationID,
				"status":       conflictErr.Status,
				"progress":     conflictErr.Progress,
			},
		})

	default:
		logger.Error("request failed", map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"error":  err.Error(),
		})
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
			Error:   "internal_error",
			Message: "internal server error",
		})
	}
}
