package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"scopekeeper/api/internal/export"
	"scopekeeper/api/internal/extraction"
	"scopekeeper/api/internal/ingest"
	"scopekeeper/api/internal/metrics"
	"scopekeeper/api/internal/rbac"
	"scopekeeper/api/internal/search"
	"scopekeeper/api/internal/textextract"
	"scopekeeper/api/internal/views"
)

type HTTPServer struct {
	service      *Service
	corsOrigin   string
	enforceRoles bool
	logger       *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

// RequireRoles turns on role checks against the X-User-Role header. Without
// it every caller may perform every operation.
func (s *HTTPServer) RequireRoles(enabled bool) *HTTPServer {
	s.enforceRoles = enabled
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/extractions", s.permit(rbac.ActionWrite, s.handleStoreExtraction))
		r.Get("/extractions/{ownerID}", s.permit(rbac.ActionRead, s.handleGetExtraction))
		r.Put("/extractions/{ownerID}/status", s.permit(rbac.ActionCurate, s.handleOwnerStatus))
		r.Delete("/extractions/{ownerID}", s.permit(rbac.ActionCurate, s.handleDeleteExtraction))
		r.Put("/batches/{batchID}/status", s.permit(rbac.ActionCurate, s.handleBatchStatus))
		r.Post("/ingest", s.permit(rbac.ActionWrite, s.handleIngest))

		r.Route("/workspaces/{workspaceID}", func(r chi.Router) {
			r.Get("/extractions", s.permit(rbac.ActionRead, s.handleWorkspaceExtractions))
			r.Get("/views/{view}", s.permit(rbac.ActionRead, s.handleView))
			r.Get("/views/risk_log/sections/{section}", s.permit(rbac.ActionRead, s.handleRiskLogSection))
			r.Get("/views/{view}/export", s.permit(rbac.ActionRead, s.handleExport))
			r.Get("/search", s.permit(rbac.ActionRead, s.handleSearch))
			r.Get("/stats", s.permit(rbac.ActionRead, s.handleStats))
		})
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Checks(ctx) {
		if err == nil {
			checks[name] = map[string]any{"status": "ok"}
			continue
		}
		checks[name] = map[string]any{"status": "error", "error": err.Error()}
		switch {
		case name == "database":
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
		case status == "ready":
			status = "degraded"
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     statusCode == http.StatusOK,
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleStoreExtraction(w http.ResponseWriter, r *http.Request) {
	var req extraction.StoreRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error(), nil)
		return
	}
	org, err := orgID(r, req.OrgID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ORG_MISMATCH", err.Error(), nil)
		return
	}
	req.OrgID = org
	if req.CreatedBy == "" {
		req.CreatedBy = actor(r)
	}

	result, err := s.service.Extractions.StoreExtraction(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, result)
}

func (s *HTTPServer) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	ext, err := s.service.Extractions.GetExtraction(r.Context(), chi.URLParam(r, "ownerID"), org)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ext)
}

type statusInput struct {
	Status    string `json:"status"`
	UpdatedBy string `json:"updated_by"`
}

func (s *HTTPServer) handleOwnerStatus(w http.ResponseWriter, r *http.Request) {
	s.updateStatus(w, r, extraction.StatusUpdate{OwnerID: chi.URLParam(r, "ownerID")})
}

func (s *HTTPServer) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	s.updateStatus(w, r, extraction.StatusUpdate{BatchID: chi.URLParam(r, "batchID")})
}

func (s *HTTPServer) updateStatus(w http.ResponseWriter, r *http.Request, update extraction.StatusUpdate) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	var input statusInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", err.Error(), nil)
		return
	}
	update.OrgID = org
	update.Status = strings.TrimSpace(input.Status)
	update.UpdatedBy = firstNonEmpty(input.UpdatedBy, actor(r))

	result, err := s.service.Extractions.UpdateExtractionStatus(r.Context(), update)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleDeleteExtraction(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	deletedBy := firstNonEmpty(r.URL.Query().Get("deleted_by"), actor(r))
	result, err := s.service.Extractions.DeleteExtraction(r.Context(), chi.URLParam(r, "ownerID"), org, deletedBy)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleWorkspaceExtractions(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	workspaceID := chi.URLParam(r, "workspaceID")
	items, err := s.service.Extractions.GetWorkspaceExtractions(r.Context(), workspaceID, org)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workspace_id": workspaceID,
		"count":        len(items),
		"extractions":  items,
	})
}

func (s *HTTPServer) handleView(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	view, err := s.service.Extractions.GetConsolidatedView(r.Context(), chi.URLParam(r, "workspaceID"), org, chi.URLParam(r, "view"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleRiskLogSection(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	data, err := s.service.Extractions.GetConsolidatedView(r.Context(), chi.URLParam(r, "workspaceID"), org, views.RiskLog)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	riskLog, ok := data.(*views.RiskLogView)
	if !ok {
		s.fail(w, r, fmt.Errorf("unexpected risk log type %T", data))
		return
	}
	key := chi.URLParam(r, "section")
	section, found := riskLog.Section(key)
	if !found {
		s.fail(w, r, domainError(http.StatusNotFound, "UNKNOWN_SECTION", fmt.Sprintf("Unknown risk log section %q", key), nil))
		return
	}
	writeJSON(w, http.StatusOK, section)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.service.Export == nil {
		writeError(w, http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export is not configured", nil)
		return
	}
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.service.Export.Export(r.Context(), export.Request{
		WorkspaceID: chi.URLParam(r, "workspaceID"),
		OrgID:       org,
		View:        chi.URLParam(r, "view"),
		Format:      format,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.service.Search == nil {
		writeError(w, http.StatusServiceUnavailable, "SEARCH_UNAVAILABLE", "Search is not configured", nil)
		return
	}
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	if strings.TrimSpace(query.Get("q")) == "" {
		writeError(w, http.StatusBadRequest, "QUERY_REQUIRED", "Query parameter q is required", nil)
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	if offset < 0 {
		offset = 0
	}

	resp := s.service.Search.Search(r.Context(), search.Query{
		OrgID:       org,
		WorkspaceID: chi.URLParam(r, "workspaceID"),
		Text:        query.Get("q"),
		Category:    query.Get("category"),
		Limit:       limit,
		Offset:      offset,
	})
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	org, ok := requireOrg(w, r)
	if !ok {
		return
	}
	workspaceID := chi.URLParam(r, "workspaceID")
	stats, err := s.service.Extractions.WorkspaceStats(r.Context(), workspaceID, org)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspace_id": workspaceID, "stats": stats})
}

func (s *HTTPServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.service.Ingest == nil {
		writeError(w, http.StatusServiceUnavailable, "INGEST_UNAVAILABLE", "Document analysis is not configured", nil)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, textextract.MaxBytes+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "Upload exceeds the size limit", nil)
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_UPLOAD", "Expected a multipart form with a file field", nil)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "FILE_REQUIRED", "Form field file is required", nil)
		return
	}
	defer file.Close()

	org, ok := requireOrg(w, r, r.FormValue("org_id"))
	if !ok {
		return
	}

	result, err := s.service.Ingest.Run(r.Context(), ingest.Request{
		OwnerID:     r.FormValue("owner_id"),
		WorkspaceID: r.FormValue("workspace_id"),
		OrgID:       org,
		CreatedBy:   firstNonEmpty(r.FormValue("created_by"), actor(r)),
		Filename:    header.Filename,
		Body:        file,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (s *HTTPServer) permit(action rbac.Action, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.enforceRoles {
			role := rbac.Normalize(strings.TrimSpace(r.Header.Get("X-User-Role")))
			if !rbac.Can(role, action) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Insufficient role permissions", map[string]any{
					"role":   role,
					"action": action,
				})
				return
			}
		}
		next(w, r)
	}
}

// fail maps err to a response and logs anything that is not a client error.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.String("code", code),
			zap.Error(err))
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
		} else {
			next.ServeHTTP(writer, r)
		}

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(writer.status)).Inc()

		s.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Org-ID, X-User-ID, X-User-Role")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

var errOrgMismatch = errors.New("org_id does not match the X-Org-ID header")

// orgID resolves the tenant. The X-Org-ID header set by the gateway is
// authoritative; an org_id from the query string, form or body must agree
// with it and with each other.
func orgID(r *http.Request, claimed ...string) (string, error) {
	org := strings.TrimSpace(r.Header.Get("X-Org-ID"))
	for _, c := range append([]string{r.URL.Query().Get("org_id")}, claimed...) {
		c = strings.TrimSpace(c)
		switch {
		case c == "":
		case org == "":
			org = c
		case c != org:
			return "", errOrgMismatch
		}
	}
	return org, nil
}

func requireOrg(w http.ResponseWriter, r *http.Request, claimed ...string) (string, bool) {
	org, err := orgID(r, claimed...)
	if err != nil {
		writeError(w, http.StatusBadRequest, "ORG_MISMATCH", err.Error(), nil)
		return "", false
	}
	if org == "" {
		writeError(w, http.StatusBadRequest, "ORG_REQUIRED", "org_id is required", nil)
		return "", false
	}
	return org, true
}

// actor is the caller identity set by the upstream gateway.
func actor(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
