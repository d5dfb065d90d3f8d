package httpx

import (
	"errors"
	"net/http"

	"github.com/autoapply/autoapply/internal/data"
	"github.com/autoapply/autoapply/internal/domain/model"
	"github.com/autoapply/autoapply/internal/service"
)

// RunHandlers provides HTTP handlers for run control operations.
type RunHandlers struct {
	Svc *service.ControlService
}

// StartRun handles HTTP requests to start a discovery run.
func (h *RunHandlers) StartRun(w http.ResponseWriter, r *http.Request) {
	var req model.StartRunRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	run, err := h.Svc.StartRun(r.Context(), &req)
	if err != nil {
		if errors.Is(err, model.ErrRunAlreadyActive) {
			WriteError(w, ErrorParams{Code: http.StatusConflict, ErrCode: "run_already_active", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "start_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusCreated, run)
}

// StopRun handles HTTP requests to stop a run and engage its kill switch.
func (h *RunHandlers) StopRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("run id is required")},
		)
		return
	}

	run, err := h.Svc.StopRun(r.Context(), runID)
	if err != nil {
		if errors.Is(err, data.ErrRunNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "stop_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, run)
}

// GetRun handles HTTP requests for the status of one run.
func (h *RunHandlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("run id is required")},
		)
		return
	}

	status, err := h.Svc.GetRunStatus(r.Context(), runID)
	if err != nil {
		if errors.Is(err, data.ErrRunNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "status_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// GetLatestRun handles HTTP requests for a user's most recent run.
func (h *RunHandlers) GetLatestRun(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_query", Err: errors.New("user_id is required")},
		)
		return
	}

	status, err := h.Svc.GetLatestRunStatus(r.Context(), userID)
	if err != nil {
		if errors.Is(err, data.ErrRunNotFound) {
			WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: err})
			return
		}
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "status_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// SetKillSwitch handles HTTP requests to toggle a user's kill switch.
func (h *RunHandlers) SetKillSwitch(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user_id")
	if userID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("user id is required")},
		)
		return
	}

	var body struct {
		Engaged bool `json:"engaged"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	if err := h.Svc.SetKillSwitch(r.Context(), userID, body.Engaged); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "kill_switch_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, map[string]bool{"engaged": body.Engaged})
}
