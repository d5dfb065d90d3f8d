package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/domain/model"
	"github.com/autoapply/autoapply/internal/domain/pipeline"
	"github.com/autoapply/autoapply/internal/observability/metrics"
	"github.com/autoapply/autoapply/internal/observability/statsd"
)

// ApplyServiceOptions contains options for creating a new ApplyService.
type ApplyServiceOptions struct {
	// Required: run lifecycle lookups.
	Runs core.RunRepository

	// Required: posting lookups.
	Postings core.JobPostingRepository

	// Required: admission decision settlement on halts.
	QueueRecords core.QueueRecordRepository

	// Required: fallback artifact pack loading for thin payloads.
	Artifacts *ArtifactService

	// Required: content generation.
	Personalizer *PersonalizerService

	// Required: grounding validation.
	Grounding *GroundingService

	// Required: delivery with bounded retries.
	Submitter *SubmitterService

	// Required: durable outcome settlement.
	Tracker *TrackerService

	// Required: per-user policy resolution.
	Policies *core.PolicyCacheService

	// Required: audit trail.
	Audit *AuditService

	// Optional: per-stage metrics.
	Metrics statsd.Sink

	// Optional: defaults to slog.Default.
	Logger *slog.Logger
}

// ApplyService executes the apply pipeline for one admitted job: personalize,
// validate grounding, submit, and track. Nothing is submitted unless the
// grounding report passes.
type ApplyService struct {
	runs         core.RunRepository
	postings     core.JobPostingRepository
	queueRecords core.QueueRecordRepository
	artifacts    *ArtifactService
	personalizer *PersonalizerService
	grounding    *GroundingService
	submitter    *SubmitterService
	tracker      *TrackerService
	policies     *core.PolicyCacheService
	audit        *AuditService
	metrics      statsd.Sink
	logger       *slog.Logger
}

// NewApplyService creates a new ApplyService with the given options.
func NewApplyService(opts ApplyServiceOptions) (*ApplyService, error) {
	if opts.Runs == nil {
		return nil, errors.New("run repository is required")
	}
	if opts.Postings == nil {
		return nil, errors.New("job posting repository is required")
	}
	if opts.QueueRecords == nil {
		return nil, errors.New("queue record repository is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("artifact service is required")
	}
	if opts.Personalizer == nil {
		return nil, errors.New("personalizer service is required")
	}
	if opts.Grounding == nil {
		return nil, errors.New("grounding service is required")
	}
	if opts.Submitter == nil {
		return nil, errors.New("submitter service is required")
	}
	if opts.Tracker == nil {
		return nil, errors.New("tracker service is required")
	}
	if opts.Policies == nil {
		return nil, errors.New("policy cache service is required")
	}
	if opts.Audit == nil {
		return nil, errors.New("audit service is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ApplyService{
		runs:         opts.Runs,
		postings:     opts.Postings,
		queueRecords: opts.QueueRecords,
		artifacts:    opts.Artifacts,
		personalizer: opts.Personalizer,
		grounding:    opts.Grounding,
		submitter:    opts.Submitter,
		tracker:      opts.Tracker,
		policies:     opts.Policies,
		audit:        opts.Audit,
		metrics:      opts.Metrics,
		logger:       logger.With("component", "apply_service"),
	}, nil
}

// MustNewApplyService creates a new ApplyService and panics on error.
func MustNewApplyService(opts ApplyServiceOptions) *ApplyService {
	svc, err := NewApplyService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create apply service: %v", err)) //nolint:forbidigo
	}
	return svc
}

type applyState struct {
	payload model.ApplyTaskPayload

	// lastDelivery is true when a failure on this delivery dead-letters the
	// task; the tracker must then settle the queue record.
	lastDelivery bool

	job             *model.JobPosting
	pack            model.ArtifactPack
	personalization *model.Personalization
	report          model.GroundingReport
	outcome         SubmissionOutcome
}

// Execute runs the apply pipeline for one task. A returned error leaves the
// task eligible for queue-level retry; grounding rejections and settled runs
// end the pipeline without one.
func (s *ApplyService) Execute(ctx context.Context, task *model.Task) error {
	var payload model.ApplyTaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal apply payload: %w", err)
	}
	if payload.RunID == "" || payload.UserID == "" || payload.JobID == "" || payload.QueueRecordID == "" {
		return errors.New("apply payload requires run_id, user_id, job_id, and queue_record_id")
	}

	state := &applyState{
		payload:      payload,
		lastDelivery: task.RetryCount+1 >= task.MaxRetries,
	}

	runner, err := pipeline.NewRunner(pipeline.Options[applyState]{
		Stages: []pipeline.Stage[applyState]{
			{Name: "load_run", Run: s.loadRun},
			{Name: "load_artifacts", Run: s.loadArtifacts},
			{Name: "personalize", Run: s.personalize},
			{Name: "ground", Run: s.ground},
			{Name: "submit", Run: s.submit},
			{Name: "track", Run: s.track},
		},
		Observer: pipeline.ObserverFunc[applyState](s.observeStage),
		Logger:   s.logger,
	})
	if err != nil {
		return err
	}

	runErr := runner.Run(ctx, state)
	if runErr != nil && state.lastDelivery {
		// The queue dead-letters the task after this failure; settle the
		// record now so the run drains instead of stranding a queued job.
		if settleErr := s.tracker.SettleDeadLetter(ctx, state.payload); settleErr != nil {
			s.logger.ErrorContext(ctx, "failed to settle dead-lettered queue record",
				"job_id", state.payload.JobID, "err", settleErr)
		}
	}
	return runErr
}

func (s *ApplyService) observeStage(
	ctx context.Context,
	state *applyState,
	name string,
	duration time.Duration,
	err error,
) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitPipelineStage(s.metrics, metrics.StageMetric{
		Pipeline: "apply",
		Stage:    name,
		Result:   result,
		Duration: duration,
		Err:      err,
	})

	if err != nil {
		s.audit.Error(ctx, EventParams{
			RunID:   state.payload.RunID,
			UserID:  state.payload.UserID,
			JobID:   state.payload.JobID,
			Stage:   name,
			Message: err.Error(),
		})
	}
}

// loadRun halts when the run is no longer active: the queue record is demoted
// to skipped so the job remains visible in the skip listing.
func (s *ApplyService) loadRun(ctx context.Context, state *applyState) error {
	run, err := s.runs.GetByID(ctx, state.payload.RunID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}

	pol, err := s.policies.ResolvePolicy(ctx, state.payload.UserID)
	if err != nil {
		return fmt.Errorf("resolve policy: %w", err)
	}

	if run.Status != model.RunStatusRunning || run.KillSwitch || pol.KillSwitch {
		if err := s.queueRecords.MarkSkipped(ctx, state.payload.QueueRecordID,
			model.SkipReasonKillSwitch, "run no longer active"); err != nil {
			return fmt.Errorf("mark queue record skipped: %w", err)
		}
		s.audit.Warn(ctx, EventParams{
			RunID:   state.payload.RunID,
			UserID:  state.payload.UserID,
			JobID:   state.payload.JobID,
			Stage:   "load_run",
			Message: "run no longer active, application dropped",
		})
		return pipeline.ErrHalt
	}
	return nil
}

// loadArtifacts prefers the pack snapshotted into the task payload and falls
// back to a fresh load when the snapshot is unusable.
func (s *ApplyService) loadArtifacts(ctx context.Context, state *applyState) error {
	pack := state.payload.Artifacts
	if pack.Profile.Empty() || pack.BaseResumeURL == "" {
		loaded, err := s.artifacts.LoadPack(ctx, state.payload.UserID)
		if err != nil {
			return fmt.Errorf("load artifacts: %w", err)
		}
		pack = loaded
	}
	state.pack = pack

	job, err := s.postings.GetByID(ctx, state.payload.JobID)
	if err != nil {
		return fmt.Errorf("load posting: %w", err)
	}
	state.job = job
	return nil
}

func (s *ApplyService) personalize(ctx context.Context, state *applyState) error {
	p, err := s.personalizer.Personalize(ctx, state.job, state.pack, nil)
	if err != nil {
		return err
	}
	state.personalization = p

	s.audit.Info(ctx, EventParams{
		RunID:   state.payload.RunID,
		UserID:  state.payload.UserID,
		JobID:   state.payload.JobID,
		Stage:   "personalize",
		Message: "application content generated",
		Metadata: map[string]any{
			"resume_variant": p.ResumeVariantUsed,
			"evidence_count": len(p.EvidenceMap),
		},
	})
	return nil
}

// ground rejects ungrounded content terminally: the verdict is recorded and
// the pipeline halts without a submission attempt or a task retry.
func (s *ApplyService) ground(ctx context.Context, state *applyState) error {
	report, err := s.grounding.Validate(ctx, state.job, state.pack, state.personalization)
	if err != nil {
		return err
	}
	state.report = report

	if report.Passed {
		return nil
	}

	detail := groundingDetail(report)
	if _, err := s.tracker.RecordGroundingRejection(ctx, RecordRejectionParams{
		Payload:         state.payload,
		Personalization: state.personalization,
		Report:          report,
		Detail:          detail,
	}); err != nil {
		return err
	}

	s.audit.Warn(ctx, EventParams{
		RunID:   state.payload.RunID,
		UserID:  state.payload.UserID,
		JobID:   state.payload.JobID,
		Stage:   "ground",
		Message: "grounding validation rejected content",
		Metadata: map[string]any{
			"final_score": report.FinalScore,
			"risk_count":  len(report.Risks),
		},
	})
	return pipeline.ErrHalt
}

func (s *ApplyService) submit(ctx context.Context, state *applyState) error {
	outcome, err := s.submitter.Submit(ctx, core.SubmissionRequest{
		Job:               state.job,
		ResumeURL:         ResumeURLFor(state.pack, state.personalization.ResumeVariantUsed),
		AnsweredQuestions: state.personalization.AnsweredQuestions,
		IdempotencyKey:    applyIdempotencyKey(state.payload.RunID, state.payload.JobID),
	})
	state.outcome = outcome
	if err != nil {
		if _, recordErr := s.tracker.RecordSubmissionFailure(ctx, RecordFailureParams{
			Payload:         state.payload,
			Personalization: state.personalization,
			Report:          state.report,
			Attempts:        outcome.Attempts,
			Err:             err,
		}); recordErr != nil {
			s.logger.ErrorContext(ctx, "failed to record submission failure",
				"job_id", state.payload.JobID, "err", recordErr)
		}
		return err
	}
	return nil
}

func (s *ApplyService) track(ctx context.Context, state *applyState) error {
	app, err := s.tracker.RecordSuccess(ctx, RecordSuccessParams{
		Payload:         state.payload,
		Personalization: state.personalization,
		Report:          state.report,
		Outcome:         state.outcome,
	})
	if err != nil {
		return err
	}

	s.audit.Info(ctx, EventParams{
		RunID:   state.payload.RunID,
		UserID:  state.payload.UserID,
		JobID:   state.payload.JobID,
		Stage:   "track",
		Message: fmt.Sprintf("application %s", app.Status),
		Metadata: map[string]any{
			"attempts": state.outcome.Attempts,
			"status":   string(app.Status),
		},
	})
	return nil
}

func groundingDetail(report model.GroundingReport) string {
	if len(report.Risks) == 0 {
		return fmt.Sprintf("grounding score %d below threshold", report.FinalScore)
	}
	const maxListed = 3
	listed := report.Risks
	if len(listed) > maxListed {
		listed = listed[:maxListed]
	}
	return strings.Join(listed, "; ")
}
