// ragserver is the multi-tenant RAG backend: it syncs tenant document
// directories into a pgvector catalog and serves similarity queries over the
// indexed chunks.
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AITrekker/RAG-sub000/internal/api"
	"github.com/AITrekker/RAG-sub000/internal/auth"
	"github.com/AITrekker/RAG-sub000/internal/chunker"
	"github.com/AITrekker/RAG-sub000/internal/config"
	"github.com/AITrekker/RAG-sub000/internal/database"
	"github.com/AITrekker/RAG-sub000/internal/embedding"
	"github.com/AITrekker/RAG-sub000/internal/extractor"
	"github.com/AITrekker/RAG-sub000/internal/observability"
	"github.com/AITrekker/RAG-sub000/internal/pipeline"
	"github.com/AITrekker/RAG-sub000/internal/repository"
	"github.com/AITrekker/RAG-sub000/internal/retrieval"
	"github.com/AITrekker/RAG-sub000/internal/scanner"
	"github.com/AITrekker/RAG-sub000/internal/supervisor"
	"github.com/AITrekker/RAG-sub000/internal/syncer"

	_ "github.com/lib/pq"
)

func main() {
	// Local development convenience; a missing .env is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := observability.NewStandardLogger("ragserver").
		WithLevel(observability.ParseLevel(cfg.Logging.Level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to connect to catalog", map[string]interface{}{"error": err.Error()})
	}
	defer func() { _ = db.Close() }()

	metrics := observability.NewMetrics()

	tenants := repository.NewTenantRepository(db)
	files := repository.NewFileRepository(db)
	chunks := repository.NewChunkRepository(db, cfg.Embedding.Dimensions)
	ops := repository.NewSyncOperationRepository(db)

	var redisClient *redis.Client
	if cfg.Cache.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddress,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		defer func() { _ = redisClient.Close() }()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			// Caching is an optimization; run without it rather than refuse to start.
			logger.Warn("redis unreachable, query cache disabled", map[string]interface{}{"error": err.Error()})
			redisClient = nil
		}
	}

	provider, err := embedding.NewProvider(ctx, cfg.Embedding)
	if err != nil {
		logger.Fatal("failed to build embedding provider", map[string]interface{}{"error": err.Error()})
	}
	guarded := embedding.NewBreaker(provider, logger)
	batcher := embedding.NewBatcher(guarded, embedding.BatcherConfig{
		MinBatchSize: cfg.Embedding.BatchMin,
		MaxBatchSize: cfg.Embedding.BatchMax,
		Concurrency:  cfg.Embedding.BatchConcurrency,
	}, logger, metrics)

	ex := extractor.New(logger)
	ch := chunker.New(cfg.Chunking.Size, cfg.Chunking.Overlap)
	processor := pipeline.NewFileProcessor(db, files, chunks, ex, ch, batcher, cfg.Embedding.Model, logger)

	sc := scanner.New(cfg.Documents.Root, logger)
	detector := syncer.NewDetector(sc, files, logger)
	manager := syncer.NewManager(db, ops, files, detector, processor, cfg.Sync, logger, metrics)

	if err := manager.RecoverOrphans(ctx); err != nil {
		logger.Fatal("failed to recover orphaned sync state", map[string]interface{}{"error": err.Error()})
	}

	queries := embedding.NewQueryCache(redisClient, guarded, cfg.Embedding.Model,
		cfg.Cache.KeyPrefix, cfg.Cache.TTL(), logger, metrics)

	var generator retrieval.Generator
	if cfg.LLM.Provider == "openai" && cfg.LLM.APIKey != "" {
		generator = retrieval.NewOpenAIGenerator(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model)
	}
	retriever := retrieval.NewRetriever(queries, chunks, generator, cfg.Retrieval, logger, metrics)

	authSvc := auth.NewService(tenants, cfg.Auth.AdminAPIKey, cfg.Auth.JWTSecret,
		cfg.Auth.TenantCacheSize, cfg.Auth.TenantCacheTTL(), logger)

	sup := supervisor.New(manager, tenants, dbPinger{db}, cfg.Sync, logger)
	if err := sup.Start(); err != nil {
		logger.Fatal("failed to start supervisor", map[string]interface{}{"error": err.Error()})
	}

	server := api.NewServer(cfg.Server, manager, detector, retriever,
		tenants, files, ops, authSvc, logger, metrics)

	errCh := make(chan error, 2)
	go func() { errCh <- server.Start() }()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		metricsServer = newMetricsServer(cfg.Server.MetricsAddress, db)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received", nil)
	case err := <-errCh:
		logger.Error("server error", map[string]interface{}{"error": err.Error()})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if err := sup.Stop(shutdownCtx); err != nil {
		logger.Error("supervisor shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("sync manager shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("shutdown complete", nil)
}

// dbPinger adapts the catalog handle to the supervisor's health probe.
type dbPinger struct {
	db *sqlx.DB
}

func (p dbPinger) Ping(ctx context.Context) error {
	return database.Ping(ctx, p.db)
}

// newMetricsServer exposes Prometheus metrics and liveness/readiness probes
// on a separate listener so they stay reachable under API load.
func newMetricsServer(addr string, db *sqlx.DB) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := database.Ping(ctx, db); err != nil {
			http.Error(w, "catalog unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return &http.Server{Addr: addr, Handler: mux}
}
