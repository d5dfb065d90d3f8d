package httpx

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/autoapply/autoapply/internal/data"
	"github.com/autoapply/autoapply/internal/domain/model"
	"github.com/autoapply/autoapply/internal/service"
)

// TaskHandlers provides HTTP handlers for queue task operations.
type TaskHandlers struct {
	Svc *service.TaskService
}

const (
	defaultLeaseSeconds = 30
)

// CreateTask handles HTTP requests to enqueue a new task.
func (h *TaskHandlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req model.CreateTaskRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	task, err := h.Svc.Create(r.Context(), &req)
	if err != nil {
		status := http.StatusInternalServerError
		if isValidationError(err) {
			status = http.StatusBadRequest
		}
		WriteError(w, ErrorParams{Code: status, ErrCode: "create_failed", Err: err})
		return
	}

	WriteJSON(w, http.StatusOK, task)
}

// ReserveNext handles HTTP requests to reserve the next available task.
func (h *TaskHandlers) ReserveNext(w http.ResponseWriter, r *http.Request) {
	taskType := model.TaskType(r.PathValue("type"))
	if taskType == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("task type is required")},
		)
		return
	}
	lease := parseIntQuery(r, "lease", defaultLeaseSeconds)
	wait := parseIntQuery(r, "wait", 0)

	// First attempt
	if task, err := h.tryReserveTask(r.Context(), taskType, lease); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "reserve_failed", Err: err})
		return
	} else if task != nil {
		WriteJSON(w, http.StatusOK, task)
		return
	}

	if wait <= 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.handleLongPoll(w, r, longPollParams{
		taskType: taskType,
		lease:    lease,
		wait:     wait,
	})
}

func (h *TaskHandlers) tryReserveTask(
	ctx context.Context,
	taskType model.TaskType,
	lease int,
) (*model.Task, error) {
	task, err := h.Svc.ReserveNext(ctx, taskType, time.Duration(lease)*time.Second)
	if err != nil && !errors.Is(err, model.ErrNoTasksAvailable) {
		return nil, err
	}
	return task, nil
}

type longPollParams struct {
	taskType model.TaskType
	lease    int
	wait     int
}

func (h *TaskHandlers) handleLongPoll(w http.ResponseWriter, r *http.Request, params longPollParams) {
	dur := time.Duration(params.wait) * time.Second
	if dur <= 0 {
		dur = time.Second
	}

	ctx, cancel := context.WithTimeout(r.Context(), dur)
	defer cancel()

	unsub, ch := h.Svc.Subscribe(params.taskType)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			w.WriteHeader(http.StatusNoContent)
			return
		case <-ch:
			if task, err := h.tryReserveTask(ctx, params.taskType, params.lease); err != nil {
				WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "reserve_failed", Err: err})
				return
			} else if task != nil {
				WriteJSON(w, http.StatusOK, task)
				return
			}
			// No task yet; keep waiting until ctx timeout to handle missed/duplicate signals.
		}
	}
}

// Heartbeat handles HTTP requests to extend a task lease.
func (h *TaskHandlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if taskID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("task id is required")},
		)
		return
	}
	extend := parseIntQuery(r, "extend", defaultLeaseSeconds)

	success, err := h.Svc.Heartbeat(r.Context(), taskID, time.Duration(extend)*time.Second)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "heartbeat_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": success})
}

// Complete handles HTTP requests to mark a task as completed.
func (h *TaskHandlers) Complete(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if taskID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("task id is required")},
		)
		return
	}

	success, err := h.Svc.Complete(r.Context(), taskID)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "complete_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": success})
}

// Fail handles HTTP requests to mark a task as failed with an error message.
func (h *TaskHandlers) Fail(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if taskID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("task id is required")},
		)
		return
	}

	var body struct {
		Error string `json:"error"`
	}
	if !DecodeJSON(w, r, &body) {
		return
	}

	success, err := h.Svc.Fail(r.Context(), taskID, body.Error)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "fail_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": success})
}

// Stats handles HTTP requests to retrieve queue stats for a task type.
func (h *TaskHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	taskType := model.TaskType(r.PathValue("type"))
	if taskType == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("task type is required")},
		)
		return
	}

	stats, err := h.Svc.Stats(r.Context(), taskType)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "stats_failed", Err: err})
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// GetStatus handles HTTP requests to retrieve the status of a specific task.
func (h *TaskHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	if taskID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("task id is required")},
		)
		return
	}

	status, err := h.Svc.GetStatus(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, data.ErrTaskNotFound) {
			WriteError(
				w,
				ErrorParams{Code: http.StatusNotFound, ErrCode: "task_not_found", Err: errors.New("task not found")},
			)
		} else {
			WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "get_status_failed", Err: errors.New("failed to get task status")})
		}
		return
	}
	WriteJSON(w, http.StatusOK, status)
}
