package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AITrekker/RAG-sub000/internal/auth"
	"github.com/AITrekker/RAG-sub000/internal/config"
	"github.com/AITrekker/RAG-sub000/internal/embedding"
	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
	"github.com/AITrekker/RAG-sub000/internal/pipeline"
	"github.com/AITrekker/RAG-sub000/internal/repository"
	"github.com/AITrekker/RAG-sub000/internal/retrieval"
	"github.com/AITrekker/RAG-sub000/internal/scanner"
	"github.com/AITrekker/RAG-sub000/internal/syncer"
)

const (
	testDims     = 8
	testAdminKey = "admin-key-for-tests"
	testAPIKey   = "tnt_test_key"
)

type testEnv struct {
	server *Server
	mock   sqlmock.Sqlmock
	tenant *models.Tenant
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { _ = raw.Close() })
	db := sqlx.NewDb(raw, "sqlmock")

	logger := observability.NewNoopLogger()
	tenants := repository.NewTenantRepository(db)
	files := repository.NewFileRepository(db)
	chunks := repository.NewChunkRepository(db, testDims)
	ops := repository.NewSyncOperationRepository(db)

	sc := scanner.New(t.TempDir(), logger)
	detector := syncer.NewDetector(sc, files, logger)

	provider := embedding.NewStaticProvider(testDims)
	batcher := embedding.NewBatcher(provider, embedding.BatcherConfig{
		MinBatchSize: 1, MaxBatchSize: 8, Concurrency: 1,
	}, logger, nil)
	processor := pipeline.NewFileProcessor(db, files, chunks, nil, nil, batcher, "test-model", logger)

	syncCfg := config.SyncConfig{
		BaseTimeoutSeconds:       60,
		PerFileTimeoutSeconds:    1,
		MinTimeoutSeconds:        30,
		MaxTimeoutSeconds:        600,
		HeartbeatIntervalSeconds: 60,
		StuckMultiplier:          3,
	}
	manager := syncer.NewManager(db, ops, files, detector, processor, syncCfg, logger, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = manager.Shutdown(ctx)
	})

	queries := embedding.NewQueryCache(nil, provider, "test-model", "rag:", 0, logger, nil)
	retriever := retrieval.NewRetriever(queries, chunks,
		nil, config.RetrievalConfig{DefaultTopK: 5, MaxTopK: 50, QueryTimeoutSeconds: 30}, logger, nil)

	authSvc := auth.NewService(tenants, testAdminKey, "", 64, 15*time.Second, logger)

	srv := NewServer(config.ServerConfig{ListenAddress: ":0"},
		manager, detector, retriever, tenants, files, ops, authSvc, logger, nil)

	tenant := &models.Tenant{
		ID:         uuid.New(),
		Name:       "Acme",
		Slug:       "acme",
		APIKeyHash: auth.HashKey(testAPIKey),
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	return &testEnv{server: srv, mock: mock, tenant: tenant}
}

func tenantColumns() []string {
	return []string{"id", "name", "slug", "api_key_hash", "api_key_last_used_at", "is_active", "created_at", "updated_at"}
}

func (e *testEnv) tenantRow() *sqlmock.Rows {
	return sqlmock.NewRows(tenantColumns()).AddRow(
		e.tenant.ID, e.tenant.Name, e.tenant.Slug, e.tenant.APIKeyHash,
		nil, e.tenant.IsActive, e.tenant.CreatedAt, e.tenant.UpdatedAt)
}

// expectAuth arms the key-hash lookup that TenantAuth performs.
func (e *testEnv) expectAuth() {
	e.mock.ExpectQuery("FROM tenants WHERE api_key_hash").WillReturnRows(e.tenantRow())
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func tenantHeaders() map[string]string {
	return map[string]string{"X-API-Key": testAPIKey}
}

func adminHeaders() map[string]string {
	return map[string]string{"X-Admin-Key": testAdminKey}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMissingAPIKeyIsUnauthorized(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/sync/status", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestUnknownAPIKeyIsUnauthorized(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery("FROM tenants WHERE api_key_hash").
		WillReturnRows(sqlmock.NewRows(tenantColumns()))

	rec := env.do(t, http.MethodGet, "/sync/status", nil, tenantHeaders())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestInactiveTenantIsForbidden(t *testing.T) {
	env := newTestEnv(t)
	env.tenant.IsActive = false
	env.expectAuth()

	rec := env.do(t, http.MethodGet, "/sync/status", nil, tenantHeaders())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBearerTokenAccepted(t *testing.T) {
	env := newTestEnv(t)
	env.expectAuth()
	env.mock.ExpectQuery("FROM sync_operations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	env.mock.ExpectQuery("FROM files").
		WillReturnRows(sqlmock.NewRows([]string{"pending", "processing", "synced", "failed", "deleted"}).
			AddRow(0, 0, 0, 0, 0))

	rec := env.do(t, http.MethodGet, "/sync/status", nil,
		map[string]string{"Authorization": "Bearer " + testAPIKey})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSyncStatusReportsLatestAndCounts(t *testing.T) {
	env := newTestEnv(t)
	env.expectAuth()

	opID := uuid.New()
	env.mock.ExpectQuery("FROM sync_operations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "status", "stage", "progress",
			"files_total", "files_processed", "files_failed", "files_added", "files_updated", "files_deleted",
			"chunks_created", "chunks_deleted", "embeddings_created",
			"error_message", "force_full_sync", "expected_duration_seconds",
			"started_at", "heartbeat_at", "completed_at", "created_at"}).
			AddRow(opID, env.tenant.ID, "completed", "finalizing", 100,
				3, 3, 0, 2, 1, 0, 12, 4, 12, nil, false, 60, time.Now(), time.Now(), time.Now(), time.Now()))
	env.mock.ExpectQuery("FROM files").
		WillReturnRows(sqlmock.NewRows([]string{"pending", "processing", "synced", "failed", "deleted"}).
			AddRow(1, 0, 3, 1, 2))

	rec := env.do(t, http.MethodGet, "/sync/status", nil, tenantHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	latest := body["latest"].(map[string]interface{})
	assert.Equal(t, opID.String(), latest["id"])

	fileStatus := body["file_status"].(map[string]interface{})
	assert.EqualValues(t, 3, fileStatus["synced"])
	assert.EqualValues(t, 5, fileStatus["total"])
}

func TestSyncHistoryClampsLimit(t *testing.T) {
	env := newTestEnv(t)
	env.expectAuth()
	env.mock.ExpectQuery("FROM sync_operations").
		WithArgs(env.tenant.ID, maxHistoryLimit).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := env.do(t, http.MethodGet, "/sync/history?limit=9999", nil, tenantHeaders())
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, env.mock.ExpectationsWereMet())
}

func TestSyncHistoryRejectsBadLimit(t *testing.T) {
	env := newTestEnv(t)
	env.expectAuth()

	rec := env.do(t, http.MethodGet, "/sync/history?limit=banana", nil, tenantHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncTriggerConflict(t *testing.T) {
	env := newTestEnv(t)
	env.expectAuth()

	liveID := uuid.New()
	env.mock.ExpectBegin()
	env.mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectQuery("FROM sync_operations").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "status", "stage", "progress",
			"files_total", "files_processed", "files_failed", "files_added", "files_updated", "files_deleted",
			"chunks_created", "chunks_deleted", "embeddings_created",
			"error_message", "force_full_sync", "expected_duration_seconds",
			"started_at", "heartbeat_at", "completed_at", "created_at"}).
			AddRow(liveID, env.tenant.ID, "running", "processing_files", 42,
				10, 4, 0, 4, 0, 0, 16, 0, 16, nil, false, 120, time.Now(), time.Now(), nil, time.Now()))
	env.mock.ExpectRollback()

	rec := env.do(t, http.MethodPost, "/sync/trigger",
		map[string]bool{"force_full_sync": false}, tenantHeaders())
	require.Equal(t, http.StatusConflict, rec.Code)

	body := decodeBody(t, rec)
	details := body["details"].(map[string]interface{})
	assert.Equal(t, liveID.String(), details["operation_id"])
	assert.EqualValues(t, 42, details["progress"])
}

func TestSyncTriggerReportsPlanSize(t *testing.T) {
	env := newTestEnv(t)
	env.expectAuth()

	// Admission builds the plan, so the 202 body already carries the file
	// total and the timeout derived from it.
	env.mock.ExpectBegin()
	env.mock.ExpectExec("pg_advisory_xact_lock").WillReturnResult(sqlmock.NewResult(0, 0))
	env.mock.ExpectQuery("FROM sync_operations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	env.mock.ExpectQuery("SELECT id, path, content_hash, sync_status").
		WillReturnRows(sqlmock.NewRows([]string{"id", "path", "content_hash", "sync_status"}))
	env.mock.ExpectExec("INSERT INTO sync_operations").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectCommit()
	// Background executor finishes the empty plan.
	env.mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1))
	env.mock.ExpectExec("UPDATE sync_operations").WillReturnResult(sqlmock.NewResult(0, 1))

	rec := env.do(t, http.MethodPost, "/sync/trigger",
		map[string]bool{"force_full_sync": false}, tenantHeaders())
	require.Equal(t, http.StatusAccepted, rec.Code)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 0, body["total_files"])
	assert.EqualValues(t, 60, body["expected_duration_seconds"]) // base timeout, nothing planned
	assert.NotEmpty(t, body["operation_id"])
}

func TestDetectChangesEmptyCorpus(t *testing.T) {
	env := newTestEnv(t)
	env.expectAuth()
	env.mock.ExpectQuery("FROM files").
		WillReturnRows(sqlmock.NewRows([]string{"id", "path", "content_hash", "sync_status"}))

	rec := env.do(t, http.MethodPost, "/sync/detect-changes", nil, tenantHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 0, body["total"])
	assert.EqualValues(t, 0, body["new"])
}

func TestSyncCancelRequiresOperationID(t *testing.T) {
	env := newTestEnv(t)
	env.expectAuth()

	rec := env.do(t, http.MethodPost, "/sync/cancel", map[string]string{}, tenantHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncCleanupReportsCount(t *testing.T) {
	env := newTestEnv(t)
	env.expectAuth()
	env.mock.ExpectQuery("FROM sync_operations").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec := env.do(t, http.MethodPost, "/sync/cleanup", nil, tenantHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 0, body["operations_cleaned"])
}

func TestSearchReturnsResults(t *testing.T) {
	env := newTestEnv(t)
	env.expectAuth()
	env.mock.ExpectQuery("1 - \\(c.embedding <=>").
		WillReturnRows(sqlmock.NewRows([]string{"id", "file_id", "chunk_index", "content", "token_count", "file_path", "file_name", "similarity"}).
			AddRow(uuid.New(), uuid.New(), 0, "alpha bravo", 2, "docs/doc1.txt", "doc1.txt", 0.9))

	rec := env.do(t, http.MethodPost, "/query/search",
		map[string]interface{}{"query": "alpha", "top_k": 5}, tenantHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["total_results"])
	results := body["results"].([]interface{})
	first := results[0].(map[string]interface{})
	assert.Equal(t, "docs/doc1.txt", first["file_path"])
	assert.Equal(t, "doc1.txt", first["filename"])
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	env := newTestEnv(t)
	env.expectAuth()

	rec := env.do(t, http.MethodPost, "/query/search",
		map[string]string{"query": ""}, tenantHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQueryOmitsAnswerWithoutGenerator(t *testing.T) {
	env := newTestEnv(t)
	env.expectAuth()
	env.mock.ExpectQuery("1 - \\(c.embedding <=>").
		WillReturnRows(sqlmock.NewRows([]string{"id", "file_id", "chunk_index", "content", "token_count", "file_path", "file_name", "similarity"}).
			AddRow(uuid.New(), uuid.New(), 0, "context text", 2, "a.txt", "a.txt", 0.8))

	rec := env.do(t, http.MethodPost, "/query",
		map[string]string{"query": "what?"}, tenantHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	_, hasAnswer := body["answer"]
	assert.False(t, hasAnswer)
	assert.InDelta(t, 0.8, body["confidence"].(float64), 1e-9)
}

func TestListFiles(t *testing.T) {
	env := newTestEnv(t)
	env.expectAuth()
	env.mock.ExpectQuery("FROM files").
		WithArgs(env.tenant.ID, defaultFileLimit, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "path", "name", "size_bytes",
			"mime_type", "content_hash", "sync_status", "sync_error", "chunk_count",
			"deleted_at", "created_at", "updated_at"}).
			AddRow(uuid.New(), env.tenant.ID, "doc1.txt", "doc1.txt", 20,
				"text/plain", "abc", "synced", nil, 2, nil, time.Now(), time.Now()))

	rec := env.do(t, http.MethodGet, "/files", nil, tenantHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["count"])
}

func TestListFilesRejectsBadOffset(t *testing.T) {
	env := newTestEnv(t)
	env.expectAuth()

	rec := env.do(t, http.MethodGet, "/files?offset=-2", nil, tenantHeaders())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminEndpointsRejectTenantKey(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/admin/tenants", nil, tenantHeaders())
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminEndpointsRejectMissingKey(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/admin/tenants", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminListTenants(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectQuery("FROM tenants t").
		WillReturnRows(sqlmock.NewRows(append(tenantColumns()[:4], "is_active", "created_at", "updated_at", "file_count", "chunk_count")).
			AddRow(env.tenant.ID, "Acme", "acme", "hash", true, time.Now(), time.Now(), 3, 12))

	rec := env.do(t, http.MethodGet, "/admin/tenants", nil, adminHeaders())
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.EqualValues(t, 1, body["count"])
}

func TestAdminCreateTenant(t *testing.T) {
	env := newTestEnv(t)
	env.mock.ExpectExec("INSERT INTO tenants").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rec := env.do(t, http.MethodPost, "/admin/tenants",
		map[string]string{"name": "Globex", "slug": "globex"}, adminHeaders())
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	apiKey := body["api_key"].(string)
	assert.Contains(t, apiKey, "tnt_")

	tenant := body["tenant"].(map[string]interface{})
	assert.Equal(t, "globex", tenant["slug"])
	_, leaked := tenant["api_key_hash"]
	assert.False(t, leaked, "key hash must not appear in responses")
}

func TestAdminCreateTenantRejectsBadSlug(t *testing.T) {
	env := newTestEnv(t)

	for _, slug := range []string{"", "Upper", "has space", "../escape", "admin"} {
		rec := env.do(t, http.MethodPost, "/admin/tenants",
			map[string]string{"name": "X", "slug": slug}, adminHeaders())
		assert.Equal(t, http.StatusBadRequest, rec.Code, "slug %q", slug)
	}
}

func TestAdminDeleteTenantUnimplemented(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodDelete, "/admin/tenants/acme", nil, adminHeaders())
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestUnknownRouteIs404(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimiterReturns429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimiter(1, 1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	var last int
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-API-Key", "same-key")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		last = rec.Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
}

func TestRateLimiterIsolatesKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimiter(1, 1))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-API-Key", fmt.Sprintf("key-%d", i))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
