package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"scopekeeper/api/internal/export"
	"scopekeeper/api/internal/extraction"
	"scopekeeper/api/internal/ingest"
	"scopekeeper/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	switch {
	case errors.As(err, &domainErr):
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	case errors.Is(err, extraction.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Extraction not found", nil
	case errors.Is(err, extraction.ErrUnknownView):
		return http.StatusNotFound, "UNKNOWN_VIEW", err.Error(), nil
	case errors.Is(err, extraction.ErrInvalidRequest):
		return http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil
	case errors.Is(err, extraction.ErrInvalidStatus):
		return http.StatusUnprocessableEntity, "INVALID_STATUS", err.Error(), nil
	case errors.Is(err, extraction.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "UNSUPPORTED_FORMAT", "Format must be pdf or docx", nil
	case errors.Is(err, export.ErrUnsupportedView):
		return http.StatusUnprocessableEntity, "VIEW_NOT_EXPORTABLE", err.Error(), nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	case errors.Is(err, ingest.ErrAnalysisFailed):
		return http.StatusBadGateway, "ANALYSIS_FAILED", "Document analysis failed", nil
	case errors.Is(err, context.Canceled):
		return 499, "CLIENT_CLOSED_REQUEST", "Request cancelled", nil
	case store.IsTransient(err):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Extraction store temporarily unavailable",
			map[string]any{"retryable": true}
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
