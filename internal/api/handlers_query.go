package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AITrekker/RAG-sub000/internal/models"
)

type queryRequest struct {
	Query         string  `json:"query"`
	TopK          int     `json:"top_k"`
	MinSimilarity float64 `json:"min_similarity"`
}

// handleQuery runs the full RAG path: search plus optional answer synthesis.
func (s *Server) handleQuery(c *gin.Context) {
	tenant := tenantFrom(c)

	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.logger, &models.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	s.countQuery("query")
	result, err := s.retriever.Answer(c.Request.Context(), tenant.ID, req.Query, req.TopK, req.MinSimilarity)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleSearch returns raw similarity hits without answer synthesis.
func (s *Server) handleSearch(c *gin.Context) {
	tenant := tenantFrom(c)

	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, s.logger, &models.ValidationError{Field: "body", Message: err.Error()})
		return
	}

	s.countQuery("search")
	started := time.Now()
	results, err := s.retriever.Search(c.Request.Context(), tenant.ID, req.Query, req.TopK, req.MinSimilarity)
	if err != nil {
		respondError(c, s.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"query":              req.Query,
		"results":            results,
		"total_results":      len(results),
		"processing_time_ms": time.Since(started).Milliseconds(),
	})
}

func (s *Server) countQuery(endpoint string) {
	if s.metrics != nil {
		s.metrics.QueryRequestsTotal.WithLabelValues(endpoint).Inc()
	}
}
