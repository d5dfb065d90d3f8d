package httpx

import (
	"net/http"

	"github.com/autoapply/autoapply/internal/domain/model"
	"github.com/autoapply/autoapply/internal/service"
)

// Pagination defaults for list endpoints.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ApplicationHandlers provides HTTP handlers for application and audit reads.
type ApplicationHandlers struct {
	Svc *service.ControlService
}

// ListApplications handles HTTP requests to list application records.
func (h *ApplicationHandlers) ListApplications(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	opts := model.ApplicationsListOptions{
		UserID: r.URL.Query().Get("user_id"),
		RunID:  r.URL.Query().Get("run_id"),
		Limit:  limit,
		Offset: offset,
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := model.ApplicationStatus(raw)
		opts.Status = &status
	}

	apps, err := h.Svc.ListApplications(r.Context(), opts)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "list_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"applications": apps})
}

// ListSkipped handles HTTP requests to list skipped queue records.
func (h *ApplicationHandlers) ListSkipped(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	opts := model.SkippedListOptions{
		UserID: r.URL.Query().Get("user_id"),
		RunID:  r.URL.Query().Get("run_id"),
		Limit:  limit,
		Offset: offset,
	}
	if raw := r.URL.Query().Get("reason"); raw != "" {
		reason := model.SkipReason(raw)
		opts.Reason = &reason
	}

	skipped, err := h.Svc.ListSkipped(r.Context(), opts)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "list_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"skipped": skipped})
}

// GetLogs handles HTTP requests to query the audit trail.
func (h *ApplicationHandlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := ParseLimitOffset(r, defaultListLimit, maxListLimit)
	query := model.LogQuery{
		RunID:      r.URL.Query().Get("run_id"),
		UserID:     r.URL.Query().Get("user_id"),
		Stage:      r.URL.Query().Get("stage"),
		Level:      model.LogLevel(r.URL.Query().Get("level")),
		Expression: r.URL.Query().Get("expression"),
		Limit:      limit,
		Offset:     offset,
	}

	events, err := h.Svc.GetLogs(r.Context(), query)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "query_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{"events": events})
}
