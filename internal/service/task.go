package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/domain/model"
	domaintask "github.com/autoapply/autoapply/internal/domain/task"
	"github.com/autoapply/autoapply/internal/observability/notify"
	"github.com/autoapply/autoapply/internal/service/failurenotifier"
)

// TaskServiceOptions groups dependencies for TaskService.
type TaskServiceOptions struct {
	Repo            core.TaskRepository        // Required: task repository
	DefaultLease    time.Duration              // Required: default lease duration for tasks
	Logger          *slog.Logger               // Optional: structured logger
	FailureNotifier *failurenotifier.Service   // Optional: failure notification fan-out
	LeasePolicy     *domaintask.LeasePolicy    // Optional: override default lease policy
	Notifier        domaintask.Notifier        // Optional: custom task availability notifier
	NotifierOptions domaintask.NotifierOptions // Optional: configure default notifier behaviour
}

// TaskService provides business logic for task operations including pub/sub notifications.
//
// This service manages:
// - Enqueueing and inspection of tasks
// - Task reservation and lease management
// - Pub/sub notification system for task availability
// - Goroutine management for background listeners
// - Graceful shutdown of all listeners.
type TaskService struct {
	repo            core.TaskRepository
	leasePolicy     *domaintask.LeasePolicy
	notifier        domaintask.Notifier
	logger          *slog.Logger
	failureNotifier *failurenotifier.Service
}

// NewTaskService constructs a new TaskService.
func NewTaskService(opts TaskServiceOptions) (*TaskService, error) {
	if opts.Repo == nil {
		return nil, errors.New("TaskRepository is required")
	}

	var leasePolicy *domaintask.LeasePolicy
	switch {
	case opts.LeasePolicy != nil:
		leasePolicy = opts.LeasePolicy
	case opts.DefaultLease > 0:
		var err error
		leasePolicy, err = domaintask.NewLeasePolicy(opts.DefaultLease)
		if err != nil {
			return nil, fmt.Errorf("create lease policy: %w", err)
		}
	default:
		return nil, errors.New("DefaultLease must be positive")
	}

	notifier := opts.Notifier
	if notifier == nil {
		options := opts.NotifierOptions
		if options.Waiter == nil {
			options.Waiter = opts.Repo
		}
		var err error
		notifier, err = domaintask.NewNotifier(options)
		if err != nil {
			return nil, fmt.Errorf("create task notifier: %w", err)
		}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "task_service")
		logger.Debug("TaskService initialized",
			"default_lease", leasePolicy.Default(),
		)
	}

	return &TaskService{
		repo:            opts.Repo,
		leasePolicy:     leasePolicy,
		notifier:        notifier,
		logger:          logger,
		failureNotifier: opts.FailureNotifier,
	}, nil
}

// MustNewTaskService constructs a new TaskService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewTaskService(opts TaskServiceOptions) *TaskService {
	svc, err := NewTaskService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create TaskService: %v", err))
	}
	return svc
}

// Create enqueues a new task with the given request parameters. Requests
// carrying an idempotency key that already exists return the stored task.
func (s *TaskService) Create(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error) {
	task, err := s.repo.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	if s.logger != nil {
		s.logger.DebugContext(
			ctx,
			"task created",
			"id",
			task.ID,
			"type",
			task.Type,
			"status",
			task.Status,
		)
	}

	return task, nil
}

// ReserveNext reserves the next available task of the given type for processing.
func (s *TaskService) ReserveNext(
	ctx context.Context,
	taskType model.TaskType,
	lease time.Duration,
) (*model.Task, error) {
	decision := s.leasePolicy.Resolve(lease)
	if decision.Clamped() && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped sub-second lease duration to 1 second",
			"requested_duration", decision.Requested,
			"task_type", taskType)
	}

	task, err := s.repo.ReserveNext(ctx, taskType, decision.Seconds)
	if err != nil {
		return nil, fmt.Errorf("reserve next task: %w", err)
	}

	if s.logger != nil && task != nil {
		s.logger.DebugContext(
			ctx,
			"task reserved",
			"id",
			task.ID,
			"type",
			taskType,
			"lease_seconds",
			decision.Seconds,
		)
	}

	return task, nil
}

// Subscribe creates a subscription for task notifications of the given type.
// Returns an unsubscribe function and a channel that receives notifications.
func (s *TaskService) Subscribe(taskType model.TaskType) (func(), <-chan struct{}) {
	if s.notifier == nil {
		ch := make(chan struct{})
		close(ch)
		return func() {}, ch
	}
	return s.notifier.Subscribe(taskType)
}

// WaitForNotification waits for a notification indicating new tasks are available.
func (s *TaskService) WaitForNotification(ctx context.Context, taskType model.TaskType) error {
	return s.repo.WaitForNotification(ctx, taskType)
}

// Heartbeat extends the lease on a task to indicate it's still being processed.
func (s *TaskService) Heartbeat(ctx context.Context, id string, extend time.Duration) (bool, error) {
	decision := s.leasePolicy.Resolve(extend)
	if decision.Clamped() && s.logger != nil {
		s.logger.DebugContext(ctx, "clamped sub-second heartbeat duration to 1 second",
			"requested_duration", decision.Requested,
			"task_id", id)
	}

	updated, err := s.repo.Heartbeat(ctx, id, decision.Seconds)
	if err != nil {
		return false, fmt.Errorf("heartbeat task %s: %w", id, err)
	}

	if s.logger != nil && updated {
		s.logger.DebugContext(ctx, "task heartbeat updated", "id", id, "extend_seconds", decision.Seconds)
	}

	return updated, nil
}

// Complete marks a task as completed successfully.
func (s *TaskService) Complete(ctx context.Context, id string) (bool, error) {
	completed, err := s.repo.Complete(ctx, id)
	if err != nil {
		return false, fmt.Errorf("complete task %s: %w", id, err)
	}

	if s.logger != nil && completed {
		s.logger.DebugContext(ctx, "task completed", "id", id)
	}

	return completed, nil
}

// Fail marks a task as failed with the given error message.
func (s *TaskService) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	return s.FailWithDetails(ctx, id, errMsg, TaskFailureDetails{})
}

// TaskFailureDetails captures optional context for failure notifications.
type TaskFailureDetails struct {
	ErrorClass string
	Metadata   map[string]string
	Severity   string
	OccurredAt time.Time
}

// FailWithDetails marks a task as failed and propagates optional metadata to the notifier.
// A failure that exhausts the retry budget dead-letters the task; only those
// terminal failures fan out to the notification sinks.
func (s *TaskService) FailWithDetails(
	ctx context.Context,
	id, errMsg string,
	details TaskFailureDetails,
) (bool, error) {
	if errMsg == "" {
		return false, errors.New("error message required")
	}

	var task *model.Task
	if s.failureNotifier != nil {
		var err error
		task, err = s.repo.GetByID(ctx, id)
		if err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "failed to load task for failure notification", "task_id", id, "error", err)
		}
	}

	failed, err := s.repo.Fail(ctx, id, errMsg)
	if err != nil {
		return false, fmt.Errorf("fail task %s: %w", id, err)
	}

	if s.logger != nil && failed {
		s.logger.DebugContext(ctx, "task failed", "id", id, "error", errMsg)
	}

	if failed && s.failureNotifier != nil {
		payload := buildTaskFailurePayload(taskFailurePayloadInput{
			ID:      id,
			Task:    task,
			ErrMsg:  errMsg,
			Details: details,
		})
		if payload.DeadLetter {
			s.failureNotifier.NotifyTaskFailure(ctx, payload)
		}
	}

	return failed, nil
}

type taskFailurePayloadInput struct {
	ID      string
	Task    *model.Task
	ErrMsg  string
	Details TaskFailureDetails
}

func buildTaskFailurePayload(input taskFailurePayloadInput) notify.TaskFailurePayload {
	payload := baseFailurePayload(input.ID, input.ErrMsg, input.Details)
	if input.Task != nil {
		applyTaskContext(&payload, input.Task)
	}
	if payload.ErrorClass != "" {
		payload.Metadata = mergeMetadata(payload.Metadata, map[string]string{
			"error_class": payload.ErrorClass,
		})
	}

	if len(payload.Metadata) == 0 {
		payload.Metadata = nil
	}

	return payload
}

func baseFailurePayload(id, errMsg string, details TaskFailureDetails) notify.TaskFailurePayload {
	payload := notify.TaskFailurePayload{
		TaskID:     id,
		Error:      errMsg,
		ErrorClass: details.ErrorClass,
		Severity:   details.Severity,
		OccurredAt: details.OccurredAt,
		Metadata:   copyMetadata(details.Metadata),
	}

	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}
	if payload.OccurredAt.IsZero() {
		payload.OccurredAt = time.Now()
	}

	return payload
}

func applyTaskContext(payload *notify.TaskFailurePayload, task *model.Task) {
	payload.TaskType = string(task.Type)
	payload.IsTest = task.IsTest
	if task.RunID != nil {
		payload.RunID = *task.RunID
	}
	if task.UserID != nil {
		payload.UserID = *task.UserID
	}

	newRetryCount := task.RetryCount + 1
	if newRetryCount < 0 {
		newRetryCount = 0
	}

	payload.DeadLetter = task.MaxRetries == 0 || newRetryCount >= task.MaxRetries

	finalStatus := model.TaskStatusPending
	if payload.DeadLetter {
		finalStatus = model.TaskStatusFailed
	}

	metadata := map[string]string{
		"retry_count": strconv.Itoa(newRetryCount),
		"max_retries": strconv.Itoa(task.MaxRetries),
		"priority":    strconv.Itoa(task.Priority),
		"status":      string(finalStatus),
	}
	payload.Metadata = mergeMetadata(payload.Metadata, metadata)
}

func copyMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		if strings.TrimSpace(k) == "" {
			continue
		}
		if strings.TrimSpace(v) == "" {
			continue
		}
		dst[k] = v
	}
	return dst
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	out := copyMetadata(base)
	if out == nil && len(extra) == 0 {
		return nil
	}
	if out == nil {
		out = make(map[string]string, len(extra))
	}
	for k, v := range extra {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	return out
}

// Stats returns statistics about tasks of the given type in different states.
func (s *TaskService) Stats(ctx context.Context, taskType model.TaskType) (*model.TaskStats, error) {
	stats, err := s.repo.Stats(ctx, taskType)
	if err != nil {
		return nil, fmt.Errorf("get task stats for type %s: %w", taskType, err)
	}
	return stats, nil
}

// GetStatus returns the status information for a specific task.
func (s *TaskService) GetStatus(ctx context.Context, id string) (*model.TaskStatusResponse, error) {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}

	return &model.TaskStatusResponse{
		Status:      task.Status,
		CompletedAt: task.CompletedAt,
		LastError:   task.LastError,
	}, nil
}

// GetByID returns a task by its ID.
func (s *TaskService) GetByID(ctx context.Context, id string) (*model.Task, error) {
	task, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task by id %s: %w", id, err)
	}
	return task, nil
}

// paginationParams holds normalized pagination parameters.
type paginationParams struct {
	Limit  int
	Offset int
}

// normalizePagination clamps pagination parameters to safe defaults.
// Default limit: 50, max limit: 1000, min offset: 0.
func normalizePagination(limit, offset int) paginationParams {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return paginationParams{Limit: limit, Offset: offset}
}

// Delete safely deletes a task by ID with state machine safety checks.
// Only tasks in pending status without an active lease can be deleted.
// Returns an error if the task cannot be deleted due to state constraints.
func (s *TaskService) Delete(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("task id is required")
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "attempting to delete task", "id", id)
	}

	err := s.repo.Delete(ctx, id)
	if err != nil {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "failed to delete task", "id", id, "error", err)
		}
		return fmt.Errorf("delete task %s: %w", id, err)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "task deleted successfully", "id", id)
	}

	return nil
}

// StopAllListeners stops all active task notification listeners.
// This should be called during graceful shutdown to clean up goroutines.
func (s *TaskService) StopAllListeners() {
	if s.logger != nil {
		s.logger.Info("stopping all task listeners")
	}

	if s.notifier != nil {
		s.notifier.StopAll()
	}
}
