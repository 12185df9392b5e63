package app

import (
	"bytes"
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scopekeeper/api/internal/export"
	"scopekeeper/api/internal/extraction"
	"scopekeeper/api/internal/ingest"
	"scopekeeper/api/internal/search"
	"scopekeeper/api/internal/store"
	"scopekeeper/api/internal/textextract"
	"scopekeeper/api/internal/views"
)

type testEnv struct {
	handler http.Handler
	service *Service
	sql     *store.SQLStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	db, err := store.Open(ctx, store.SQLite, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, store.ApplyMigrations(ctx, db, store.SQLite))

	sqlStore := store.NewSQLStore(db, store.SQLite)
	extractions := extraction.NewService(sqlStore, extraction.WithViews(views.NewRegistry(views.Options{})))
	searcher := search.NewService(nil, sqlStore, nil)
	t.Cleanup(searcher.Close)
	service := NewService(Deps{
		Extractions: extractions,
		Store:       sqlStore,
		Search:      searcher,
		Export:      export.NewService(extractions, nil),
	})
	return &testEnv{
		handler: NewHTTPServer(service, "*", nil).Handler(),
		service: service,
		sql:     sqlStore,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
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
	req.Header.Set("X-User-ID", "analyst")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func storeBody(owner string, payload map[string]any) map[string]any {
	return map[string]any{
		"owner_id":     owner,
		"workspace_id": "W1",
		"org_id":       "O1",
		"payload":      payload,
	}
}

func samplePayload() map[string]any {
	return map[string]any{
		"risks_issues": []any{
			map[string]any{"description": "Vendor contract expires", "type": "risk"},
		},
		"decisions": []any{
			map[string]any{"decision": "Renew vendor for one year"},
		},
		"scope_summary": map[string]any{"summary": "Billing migration"},
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decode(t, rec)["ok"]; got != true {
		t.Errorf("expected ok=true, got %v", got)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Errorf("expected X-Request-ID header")
	}
}

func TestReadyEndpointReportsDatabase(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/ready", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["status"] != "ready" {
		t.Errorf("expected status ready, got %v", body["status"])
	}
	checks := body["checks"].(map[string]any)
	if checks["database"].(map[string]any)["status"] != "ok" {
		t.Errorf("expected database ok, got %v", checks["database"])
	}

	require.NoError(t, env.sql.DB().Close())
	rec = env.do(t, http.MethodGet, "/api/ready", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after close, got %d", rec.Code)
	}
	if decode(t, rec)["status"] != "not_ready" {
		t.Errorf("expected not_ready")
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestReadyDegradedWhenCacheDown(t *testing.T) {
	env := newTestEnv(t)
	service := NewService(Deps{Extractions: env.service.Extractions, Store: env.sql, Cache: failingPinger{}})
	handler := NewHTTPServer(service, "*", nil).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	cache := body["checks"].(map[string]any)["cache"].(map[string]any)
	assert.Equal(t, "error", cache["status"])
	assert.Equal(t, "connection refused", cache["error"])
}

func TestOptionsPreflight(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodOptions, "/api/extractions", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}

func TestStoreAndGetExtraction(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/extractions", storeBody("M1", samplePayload()))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	stored := decode(t, rec)
	assert.Equal(t, "M1", stored["owner_id"])
	assert.EqualValues(t, 3, stored["rows"])
	assert.Equal(t, false, stored["duplicate"])

	rec = env.do(t, http.MethodPost, "/api/extractions", storeBody("M1", samplePayload()))
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode(t, rec)
	assert.Equal(t, true, again["duplicate"])
	assert.Equal(t, stored["batch_id"], again["batch_id"])

	rec = env.do(t, http.MethodGet, "/api/extractions/M1?org_id=O1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, "W1", got["workspace_id"])
	assert.Equal(t, "analyst", got["created_by"])
	data := got["data"].(map[string]any)
	assert.Len(t, data["risks_issues"], 1)
	assert.Equal(t, "Billing migration", data["scope_summary"].(map[string]any)["summary"])
}

func TestGetExtractionErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/extractions/M1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ORG_REQUIRED", decode(t, rec)["code"])

	rec = env.do(t, http.MethodGet, "/api/extractions/missing?org_id=O1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec)["code"])

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/extractions", storeBody("M1", samplePayload())).Code)
	rec = env.do(t, http.MethodGet, "/api/extractions/M1?org_id=O2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "other tenants must not see the owner")
}

func TestStoreExtractionValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/extractions", map[string]any{"owner_id": "M1", "org_id": "O1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decode(t, rec)["code"])

	req := httptest.NewRequest(http.MethodPost, "/api/extractions", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "INVALID_JSON", decode(t, rr)["code"])
}

func TestOrgFromHeader(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/extractions", storeBody("M1", samplePayload())).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/extractions/M1", nil)
	req.Header.Set("X-Org-ID", "O1")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrgHeaderMustAgreeWithRequest(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/extractions", storeBody("M1", samplePayload())).Code)

	send := func(method, path string, body any) *httptest.ResponseRecorder {
		var reader *bytes.Reader
		if body != nil {
			raw, err := json.Marshal(body)
			require.NoError(t, err)
			reader = bytes.NewReader(raw)
		} else {
			reader = bytes.NewReader(nil)
		}
		req := httptest.NewRequest(method, path, reader)
		req.Header.Set("X-User-ID", "analyst")
		req.Header.Set("X-Org-ID", "O1")
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send(http.MethodGet, "/api/extractions/M1?org_id=O2", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ORG_MISMATCH", decode(t, rec)["code"])

	rec = send(http.MethodGet, "/api/extractions/M1?org_id=O1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := storeBody("M2", samplePayload())
	body["org_id"] = "O2"
	rec = send(http.MethodPost, "/api/extractions", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ORG_MISMATCH", decode(t, rec)["code"])
	rec = env.do(t, http.MethodGet, "/api/extractions/M2?org_id=O2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "mismatched store must not write under the body org")

	delete(body, "org_id")
	rec = send(http.MethodPost, "/api/extractions", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodGet, "/api/extractions/M2?org_id=O1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/extractions", storeBody("M1", samplePayload()))
	require.Equal(t, http.StatusCreated, rec.Code)
	batchID := decode(t, rec)["batch_id"].(string)

	rec = env.do(t, http.MethodPut, "/api/extractions/M1/status?org_id=O1", map[string]any{"status": "archived"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INVALID_STATUS", decode(t, rec)["code"])

	rec = env.do(t, http.MethodPut, "/api/extractions/M1/status?org_id=O1", map[string]any{"status": "active"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["affected"])

	rec = env.do(t, http.MethodPut, "/api/batches/"+batchID+"/status?org_id=O1", map[string]any{"status": "deleted"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 4, decode(t, rec)["affected"], "items plus the batch marker")

	rec = env.do(t, http.MethodPut, "/api/extractions/M1/status?org_id=O1", map[string]any{"status": "active"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", decode(t, rec)["code"])

	rec = env.do(t, http.MethodGet, "/api/extractions/M1?org_id=O1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteExtraction(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/extractions", storeBody("M1", samplePayload())).Code)

	rec := env.do(t, http.MethodDelete, "/api/extractions/M1?org_id=O1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "deleted", body["status"])
	assert.EqualValues(t, 4, body["affected"])

	rec = env.do(t, http.MethodDelete, "/api/extractions/M1?org_id=O1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 0, decode(t, rec)["affected"])

	rec = env.do(t, http.MethodDelete, "/api/extractions/nobody?org_id=O1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWorkspaceEndpoints(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/extractions", storeBody("M1", samplePayload())).Code)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/extractions", storeBody("M2", map[string]any{
		"risks_issues": []any{map[string]any{"description": "Key engineer leaving", "type": "issue"}},
	})).Code)

	rec := env.do(t, http.MethodGet, "/api/workspaces/W1/extractions?org_id=O1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/api/workspaces/W1/views/risk_log?org_id=O1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	riskLog := decode(t, rec)
	assert.EqualValues(t, 2, riskLog["source_count"])
	assert.Len(t, riskLog["risks_issues"].(map[string]any)["data"], 2)

	rec = env.do(t, http.MethodGet, "/api/workspaces/W1/views/risk_log/sections/decisions?org_id=O1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = env.do(t, http.MethodGet, "/api/workspaces/W1/views/risk_log/sections/unknown?org_id=O1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "UNKNOWN_SECTION", decode(t, rec)["code"])

	rec = env.do(t, http.MethodGet, "/api/workspaces/W1/views/timeline?org_id=O1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "UNKNOWN_VIEW", decode(t, rec)["code"])

	rec = env.do(t, http.MethodGet, "/api/workspaces/W1/views/dashboard?org_id=O1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, decode(t, rec)["summary"])

	rec = env.do(t, http.MethodGet, "/api/workspaces/W1/stats?org_id=O1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)["stats"].(map[string]any)
	assert.EqualValues(t, 2, stats["owners"])
	assert.EqualValues(t, 4, stats["item_rows"])
}

func TestSearchEndpoint(t *testing.T) {
	env := newTestEnv(t)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/extractions", storeBody("M1", samplePayload())).Code)

	rec := env.do(t, http.MethodGet, "/api/workspaces/W1/search?org_id=O1&q=vendor", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "store", body["source"])
	assert.EqualValues(t, 2, body["total"])

	rec = env.do(t, http.MethodGet, "/api/workspaces/W1/search?org_id=O1&q=vendor&category=decisions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["total"])

	rec = env.do(t, http.MethodGet, "/api/workspaces/W1/search?org_id=O1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "QUERY_REQUIRED", decode(t, rec)["code"])
}

func TestExportErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/workspaces/W1/views/risk_log/export?org_id=O1&format=xls", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "UNSUPPORTED_FORMAT", decode(t, rec)["code"])

	rec = env.do(t, http.MethodGet, "/api/workspaces/W1/views/dashboard/export?org_id=O1&format=pdf", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "VIEW_NOT_EXPORTABLE", decode(t, rec)["code"])
}

func TestOptionalComponentsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	service := NewService(Deps{Extractions: env.service.Extractions, Store: env.sql})
	handler := NewHTTPServer(service, "*", nil).Handler()

	for _, tc := range []struct {
		method, path, code string
	}{
		{http.MethodGet, "/api/workspaces/W1/search?org_id=O1&q=x", "SEARCH_UNAVAILABLE"},
		{http.MethodGet, "/api/workspaces/W1/views/risk_log/export?org_id=O1", "EXPORT_UNAVAILABLE"},
		{http.MethodPost, "/api/ingest", "INGEST_UNAVAILABLE"},
	} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, tc.path)
		assert.Equal(t, tc.code, decode(t, rec)["code"], tc.path)
	}
}

type transientRows struct {
	extraction.RowStore
}

func (transientRows) ListOwnerRows(context.Context, string, string) ([]store.ExtractionRow, error) {
	return nil, driver.ErrBadConn
}

func TestTransientStoreErrorIsRetryable(t *testing.T) {
	service := NewService(Deps{Extractions: extraction.NewService(transientRows{})})
	handler := NewHTTPServer(service, "*", nil).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/extractions/M1?org_id=O1", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "STORE_UNAVAILABLE", body["code"])
	assert.Equal(t, true, body["details"].(map[string]any)["retryable"])
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, rec)["code"])
}

type stubAnalyzer struct {
	payload map[string]any
	err     error
}

func (s stubAnalyzer) Analyze(context.Context, string) (map[string]any, error) {
	return s.payload, s.err
}

func multipartUpload(t *testing.T, fields map[string]string, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	if filename != "" {
		part, err := writer.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func newIngestHandler(t *testing.T, analyzer stubAnalyzer) (http.Handler, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	pipeline := ingest.New(textextract.New(), analyzer, env.service.Extractions, nil, nil)
	service := NewService(Deps{Extractions: env.service.Extractions, Store: env.sql, Ingest: pipeline})
	return NewHTTPServer(service, "*", nil).Handler(), env
}

func TestIngestUpload(t *testing.T) {
	handler, env := newIngestHandler(t, stubAnalyzer{payload: map[string]any{
		"action_items": []any{map[string]any{"action": "Send revised SOW", "item_status": "open"}},
	}})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartUpload(t, map[string]string{
		"owner_id":     "M9",
		"workspace_id": "W1",
		"org_id":       "O1",
		"created_by":   "pm",
	}, "notes.txt", "Kickoff notes: send revised SOW."))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "M9", body["owner_id"])
	assert.Equal(t, "notes.txt", body["filename"])

	got, err := env.service.Extractions.GetExtraction(context.Background(), "M9", "O1")
	require.NoError(t, err)
	assert.Equal(t, "pm", got.CreatedBy)
	assert.Len(t, got.Data["action_items"], 1)
}

func TestIngestErrors(t *testing.T) {
	handler, _ := newIngestHandler(t, stubAnalyzer{err: errors.New("upstream 500")})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartUpload(t, map[string]string{"workspace_id": "W1", "org_id": "O1"}, "", ""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "FILE_REQUIRED", decode(t, rec)["code"])

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartUpload(t, map[string]string{"workspace_id": "W1"}, "notes.txt", "text"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ORG_REQUIRED", decode(t, rec)["code"])

	rec = httptest.NewRecorder()
	upload := multipartUpload(t, map[string]string{"workspace_id": "W1", "org_id": "O2"}, "notes.txt", "text")
	upload.Header.Set("X-Org-ID", "O1")
	handler.ServeHTTP(rec, upload)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ORG_MISMATCH", decode(t, rec)["code"])

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartUpload(t, map[string]string{"workspace_id": "W1", "org_id": "O1"}, "deck.pptx", "text"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_REQUEST", decode(t, rec)["code"])

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartUpload(t, map[string]string{"workspace_id": "W1", "org_id": "O1"}, "notes.txt", "text"))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "ANALYSIS_FAILED", decode(t, rec)["code"])
}

func TestMapErrorFallsBackToServerError(t *testing.T) {
	status, code, _, _ := mapError(errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "SERVER_ERROR", code)

	status, code, _, _ = mapError(context.Canceled)
	assert.Equal(t, 499, status)
	assert.Equal(t, "CLIENT_CLOSED_REQUEST", code)
}

func TestRoleEnforcement(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.service, "*", nil).RequireRoles(true).Handler()

	send := func(method, path, role string, body any) *httptest.ResponseRecorder {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req := httptest.NewRequest(method, path, bytes.NewReader(raw))
		if role != "" {
			req.Header.Set("X-User-Role", role)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := send(http.MethodPost, "/api/extractions", "viewer", storeBody("M1", samplePayload()))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", decode(t, rec)["code"])

	rec = send(http.MethodPost, "/api/extractions", "analyst", storeBody("M1", samplePayload()))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = send(http.MethodGet, "/api/extractions/M1?org_id=O1", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "missing role reads as viewer")

	rec = send(http.MethodDelete, "/api/extractions/M1?org_id=O1", "analyst", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = send(http.MethodDelete, "/api/extractions/M1?org_id=O1", "admin", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStoreRoundTripKeepsLargeIntegers(t *testing.T) {
	env := newTestEnv(t)
	body := json.RawMessage(`{"owner_id":"M1","workspace_id":"W1","org_id":"O1",
		"payload":{"requirements":[{"ticket":9007199254740993},{"ticket":2}]}}`)
	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/extractions", body).Code)

	rec := env.do(t, http.MethodGet, "/api/extractions/M1?org_id=O1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `{"ticket":9007199254740993}`)
	assert.Contains(t, rec.Body.String(), `{"ticket":2}`)
}
