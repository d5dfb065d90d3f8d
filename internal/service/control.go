package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/domain/model"
)

// ControlServiceOptions contains options for creating a new ControlService.
type ControlServiceOptions struct {
	// Required: run lifecycle persistence.
	Runs core.RunRepository

	// Required: enqueues discovery tasks.
	Tasks *TaskService

	// Required: application listings.
	Applications core.ApplicationRepository

	// Required: skip listings and queue depth.
	QueueRecords core.QueueRecordRepository

	// Required: user-level kill switch persistence.
	Policies core.PolicyRepository

	// Required: cached policy invalidation.
	PolicyCache *core.PolicyCacheService

	// Required: audit trail reads and writes.
	Audit *AuditService

	// Optional: defaults to slog.Default.
	Logger *slog.Logger
}

// ControlService is the operator surface: starting and stopping runs,
// inspecting their progress, and reading the audit trail.
type ControlService struct {
	runs         core.RunRepository
	tasks        *TaskService
	applications core.ApplicationRepository
	queueRecords core.QueueRecordRepository
	policies     core.PolicyRepository
	policyCache  *core.PolicyCacheService
	audit        *AuditService
	logger       *slog.Logger
}

// NewControlService creates a new ControlService with the given options.
func NewControlService(opts ControlServiceOptions) (*ControlService, error) {
	if opts.Runs == nil {
		return nil, errors.New("run repository is required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("task service is required")
	}
	if opts.Applications == nil {
		return nil, errors.New("application repository is required")
	}
	if opts.QueueRecords == nil {
		return nil, errors.New("queue record repository is required")
	}
	if opts.Policies == nil {
		return nil, errors.New("policy repository is required")
	}
	if opts.PolicyCache == nil {
		return nil, errors.New("policy cache service is required")
	}
	if opts.Audit == nil {
		return nil, errors.New("audit service is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ControlService{
		runs:         opts.Runs,
		tasks:        opts.Tasks,
		applications: opts.Applications,
		queueRecords: opts.QueueRecords,
		policies:     opts.Policies,
		policyCache:  opts.PolicyCache,
		audit:        opts.Audit,
		logger:       logger.With("component", "control_service"),
	}, nil
}

// MustNewControlService creates a new ControlService and panics on error.
func MustNewControlService(opts ControlServiceOptions) *ControlService {
	svc, err := NewControlService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create control service: %v", err)) //nolint:forbidigo
	}
	return svc
}

// StartRun creates a run for the user and enqueues its discovery task. A
// second start while a run is active returns model.ErrRunAlreadyActive.
func (s *ControlService) StartRun(ctx context.Context, req *model.StartRunRequest) (*model.Run, error) {
	if req == nil {
		return nil, errors.New("start run request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	run, err := s.runs.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(model.DiscoveryTaskPayload{
		RunID:  run.ID,
		UserID: run.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal discovery payload: %w", err)
	}

	key := "discovery:" + run.ID
	runID := run.ID
	userID := run.UserID
	if _, err := s.tasks.Create(ctx, &model.CreateTaskRequest{
		Type:           model.TaskTypeDiscovery,
		Payload:        payload,
		IdempotencyKey: &key,
		RunID:          &runID,
		UserID:         &userID,
		MaxRetries:     model.DefaultMaxRetries,
	}); err != nil {
		// The run would otherwise sit in running forever with no task driving it.
		msg := fmt.Sprintf("failed to enqueue discovery task: %v", err)
		if _, finishErr := s.runs.Finish(ctx, run.ID, model.RunStatusFailed, &msg); finishErr != nil {
			s.logger.ErrorContext(ctx, "failed to settle undriven run",
				"run_id", run.ID, "err", finishErr)
		}
		return nil, fmt.Errorf("enqueue discovery task: %w", err)
	}

	s.audit.Info(ctx, EventParams{
		RunID:   run.ID,
		UserID:  run.UserID,
		Stage:   "control",
		Message: "run started",
	})
	return run, nil
}

// StopRun engages the run's kill switch and settles it as stopped. In-flight
// apply work observes the switch at its next stage boundary; stopping an
// already-terminal run is a no-op.
func (s *ControlService) StopRun(ctx context.Context, runID string) (*model.Run, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}

	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !run.Active() {
		return run, nil
	}

	if err := s.runs.EngageKillSwitch(ctx, runID); err != nil {
		return nil, fmt.Errorf("engage kill switch: %w", err)
	}
	stopped, err := s.runs.Finish(ctx, runID, model.RunStatusStopped, nil)
	if err != nil {
		return nil, fmt.Errorf("finish run: %w", err)
	}

	s.audit.Warn(ctx, EventParams{
		RunID:   runID,
		UserID:  run.UserID,
		Stage:   "control",
		Message: "run stopped by operator",
	})
	return stopped, nil
}

// SetKillSwitch flips the user-level kill switch and invalidates the cached
// policy so workers observe the change immediately.
func (s *ControlService) SetKillSwitch(ctx context.Context, userID string, on bool) error {
	if userID == "" {
		return errors.New("user id is required")
	}

	if err := s.policies.SetKillSwitch(ctx, userID, on); err != nil {
		return fmt.Errorf("set kill switch: %w", err)
	}
	if err := s.policyCache.InvalidatePolicy(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "failed to invalidate cached policy",
			"user_id", userID, "err", err)
	}

	message := "kill switch disengaged"
	if on {
		message = "kill switch engaged"
	}
	s.audit.Warn(ctx, EventParams{
		UserID:  userID,
		Stage:   "control",
		Message: message,
	})
	return nil
}

// RunStatus pairs a run with its remaining queue depth.
type RunStatus struct {
	Run             *model.Run `json:"run"`
	QueuedRemaining int        `json:"queued_remaining"`
}

// GetRunStatus returns the run and how many admitted jobs are still queued.
func (s *ControlService) GetRunStatus(ctx context.Context, runID string) (*RunStatus, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}

	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	queued, err := s.queueRecords.CountQueuedByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("count queued records: %w", err)
	}
	return &RunStatus{Run: run, QueuedRemaining: queued}, nil
}

// GetLatestRunStatus returns the status of the user's most recent run.
func (s *ControlService) GetLatestRunStatus(ctx context.Context, userID string) (*RunStatus, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	run, err := s.runs.GetLatestByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.GetRunStatus(ctx, run.ID)
}

// ListApplications returns application records matching the options.
func (s *ControlService) ListApplications(
	ctx context.Context,
	opts model.ApplicationsListOptions,
) ([]model.Application, error) {
	if opts.UserID == "" && opts.RunID == "" {
		return nil, errors.New("user id or run id is required")
	}
	return s.applications.List(ctx, opts)
}

// ListSkipped returns skipped queue records matching the options.
func (s *ControlService) ListSkipped(
	ctx context.Context,
	opts model.SkippedListOptions,
) ([]model.QueueRecord, error) {
	if opts.UserID == "" && opts.RunID == "" {
		return nil, errors.New("user id or run id is required")
	}
	return s.queueRecords.ListSkipped(ctx, opts)
}

// GetLogs returns audit events matching the query.
func (s *ControlService) GetLogs(ctx context.Context, query model.LogQuery) ([]model.LogEvent, error) {
	return s.audit.Query(ctx, query)
}
