// Package api is the HTTP boundary: gin handlers that validate input, call
// the core components with the authenticated tenant, and translate domain
// errors into status codes. Tenant identity only ever comes from request
// state, never from request bodies.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AITrekker/RAG-sub000/internal/auth"
	"github.com/AITrekker/RAG-sub000/internal/config"
	"github.com/AITrekker/RAG-sub000/internal/observability"
	"github.com/AITrekker/RAG-sub000/internal/repository"
	"github.com/AITrekker/RAG-sub000/internal/retrieval"
	"github.com/AITrekker/RAG-sub000/internal/syncer"
)

// Server is the API server over the sync and retrieval cores.
type Server struct {
	router    *gin.Engine
	server    *http.Server
	manager   *syncer.Manager
	detector  *syncer.Detector
	retriever *retrieval.Retriever
	tenants   *repository.TenantRepository
	files     *repository.FileRepository
	ops       *repository.SyncOperationRepository
	authSvc   *auth.Service
	logger    observability.Logger
	metrics   *observability.Metrics
}

func NewServer(
	cfg config.ServerConfig,
	manager *syncer.Manager,
	detector *syncer.Detector,
	retriever *retrieval.Retriever,
	tenants *repository.TenantRepository,
	files *repository.FileRepository,
	ops *repository.SyncOperationRepository,
	authSvc *auth.Service,
	logger observability.Logger,
	metrics *observability.Metrics,
) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(logger))
	if cfg.RateLimitRPS > 0 {
		router.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))
	}

	s := &Server{
		router:    router,
		manager:   manager,
		detector:  detector,
		retriever: retriever,
		tenants:   tenants,
		files:     files,
		ops:       ops,
		authSvc:   authSvc,
		logger:    logger.WithPrefix("api"),
		metrics:   metrics,
		server: &http.Server{
			Addr:         cfg.ListenAddress,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	tenant := s.router.Group("/")
	tenant.Use(TenantAuth(s.authSvc, s.logger))
	{
		tenant.POST("/sync/trigger", s.handleSyncTrigger)
		tenant.GET("/sync/status", s.handleSyncStatus)
		tenant.GET("/sync/history", s.handleSyncHistory)
		tenant.POST("/sync/detect-changes", s.handleDetectChanges)
		tenant.POST("/sync/cancel", s.handleSyncCancel)
		tenant.POST("/sync/cleanup", s.handleSyncCleanup)

		tenant.POST("/query", s.handleQuery)
		tenant.POST("/query/search", s.handleSearch)

		tenant.GET("/files", s.handleListFiles)
	}

	admin := s.router.Group("/")
	admin.Use(AdminAuth(s.authSvc, s.logger))
	{
		admin.GET("/admin/tenants", s.handleListTenants)
		admin.POST("/admin/tenants", s.handleCreateTenant)
		admin.DELETE("/admin/tenants/:slug", s.handleDeleteTenant)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, errorBody{Error: "not_found", Message: "unknown route"})
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown or a listener error.
func (s *Server) Start() error {
	s.logger.Info("http server listening", map[string]interface{}{"address": s.server.Addr})
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
