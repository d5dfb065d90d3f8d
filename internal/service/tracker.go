package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/data"
	"github.com/autoapply/autoapply/internal/domain/model"
)

// TrackerServiceOptions contains options for creating a new TrackerService.
type TrackerServiceOptions struct {
	// Required: durable application records.
	Applications core.ApplicationRepository

	// Required: admission decision settlement.
	QueueRecords core.QueueRecordRepository

	// Required: run counter updates.
	Runs core.RunRepository

	// Optional: defaults to the real clock.
	TimeProvider data.TimeProvider

	// Optional: defaults to slog.Default.
	Logger *slog.Logger
}

// TrackerService settles the durable outcome of one apply execution: the
// application record, its timeline, the queue record state, and the run
// counters. Every write is idempotent per (run, job) so re-delivered work
// converges rather than double-counts.
type TrackerService struct {
	applications core.ApplicationRepository
	queueRecords core.QueueRecordRepository
	runs         core.RunRepository
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewTrackerService creates a new TrackerService with the given options.
func NewTrackerService(opts TrackerServiceOptions) (*TrackerService, error) {
	if opts.Applications == nil {
		return nil, errors.New("application repository is required")
	}
	if opts.QueueRecords == nil {
		return nil, errors.New("queue record repository is required")
	}
	if opts.Runs == nil {
		return nil, errors.New("run repository is required")
	}

	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &TrackerService{
		applications: opts.Applications,
		queueRecords: opts.QueueRecords,
		runs:         opts.Runs,
		timeProvider: timeProvider,
		logger:       logger.With("component", "tracker_service"),
	}, nil
}

// MustNewTrackerService creates a new TrackerService and panics on error.
func MustNewTrackerService(opts TrackerServiceOptions) *TrackerService {
	svc, err := NewTrackerService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create tracker service: %v", err)) //nolint:forbidigo
	}
	return svc
}

// RecordSuccessParams describe a delivered application.
type RecordSuccessParams struct {
	Payload         model.ApplyTaskPayload
	Personalization *model.Personalization
	Report          model.GroundingReport
	Outcome         SubmissionOutcome
}

// RecordSuccess persists a delivered application, settles the queue record as
// sent, and bumps the run's applied counter. Re-delivered successes settle as
// no-ops: the queue record transition guards the counter increment.
func (s *TrackerService) RecordSuccess(
	ctx context.Context,
	params RecordSuccessParams,
) (*model.Application, error) {
	alreadySent, err := s.queueRecordSent(ctx, params.Payload.QueueRecordID)
	if err != nil {
		return nil, err
	}

	app := s.buildApplication(params.Payload, params.Personalization, params.Report)
	app.Status = params.Outcome.Status
	app.Attempts = params.Outcome.Attempts
	if params.Outcome.Receipt != "" {
		receipt := params.Outcome.Receipt
		app.Receipt = &receipt
	}

	stored, err := s.applications.Upsert(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("upsert application: %w", err)
	}

	if !alreadySent {
		if err := s.appendTimeline(ctx, stored.ID, "submit",
			fmt.Sprintf("submitted after %d attempt(s)", params.Outcome.Attempts)); err != nil {
			return nil, err
		}
		if err := s.queueRecords.MarkSent(ctx, params.Payload.QueueRecordID); err != nil {
			return nil, fmt.Errorf("mark queue record sent: %w", err)
		}
		if err := s.runs.IncrementCounters(ctx, params.Payload.RunID, 1, 0); err != nil {
			return nil, fmt.Errorf("increment applied counter: %w", err)
		}
	}
	return stored, nil
}

// RecordRejectionParams describe an application rejected by grounding
// validation before any submission attempt.
type RecordRejectionParams struct {
	Payload         model.ApplyTaskPayload
	Personalization *model.Personalization
	Report          model.GroundingReport
	Detail          string
}

// RecordGroundingRejection persists the failed application with its
// validation verdict, demotes the queue record to skipped, and bumps the
// run's skipped counter.
func (s *TrackerService) RecordGroundingRejection(
	ctx context.Context,
	params RecordRejectionParams,
) (*model.Application, error) {
	app := s.buildApplication(params.Payload, params.Personalization, params.Report)
	app.Status = model.ApplicationStatusFailed
	errMsg := params.Detail
	if errMsg == "" {
		errMsg = "grounding validation rejected generated content"
	}
	app.Error = &errMsg

	stored, err := s.applications.Upsert(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("upsert application: %w", err)
	}
	if err := s.appendTimeline(ctx, stored.ID, "grounding", errMsg); err != nil {
		return nil, err
	}

	if err := s.queueRecords.MarkSkipped(ctx, params.Payload.QueueRecordID,
		model.SkipReasonMissingEvidence, params.Detail); err != nil {
		return nil, fmt.Errorf("mark queue record skipped: %w", err)
	}
	if err := s.runs.IncrementCounters(ctx, params.Payload.RunID, 0, 1); err != nil {
		return nil, fmt.Errorf("increment skipped counter: %w", err)
	}
	return stored, nil
}

// RecordFailureParams describe an exhausted submission.
type RecordFailureParams struct {
	Payload         model.ApplyTaskPayload
	Personalization *model.Personalization
	Report          model.GroundingReport
	Attempts        int
	Err             error
}

// RecordSubmissionFailure persists the failed attempt without settling the
// queue record, leaving the task free to be re-delivered. When the queue
// dead-letters the task instead, SettleDeadLetter drains the record.
func (s *TrackerService) RecordSubmissionFailure(
	ctx context.Context,
	params RecordFailureParams,
) (*model.Application, error) {
	app := s.buildApplication(params.Payload, params.Personalization, params.Report)
	app.Status = model.ApplicationStatusFailed
	app.Attempts = params.Attempts
	if params.Err != nil {
		errMsg := params.Err.Error()
		app.Error = &errMsg
	}

	stored, err := s.applications.Upsert(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("upsert application: %w", err)
	}
	if err := s.appendTimeline(ctx, stored.ID, "submit",
		fmt.Sprintf("submission failed after %d attempt(s)", params.Attempts)); err != nil {
		return nil, err
	}
	return stored, nil
}

// SettleDeadLetter settles the queue record of a task the queue will not
// re-deliver: the record transitions to sent so the run can drain, and the
// job counts as skipped. A record that already settled is left alone.
func (s *TrackerService) SettleDeadLetter(ctx context.Context, payload model.ApplyTaskPayload) error {
	rec, err := s.queueRecords.GetByID(ctx, payload.QueueRecordID)
	if err != nil {
		return fmt.Errorf("load queue record: %w", err)
	}
	if rec.Status != model.QueueRecordStatusQueued {
		return nil
	}
	if err := s.queueRecords.MarkSent(ctx, payload.QueueRecordID); err != nil {
		return fmt.Errorf("mark queue record sent: %w", err)
	}
	if err := s.runs.IncrementCounters(ctx, payload.RunID, 0, 1); err != nil {
		return fmt.Errorf("increment skipped counter: %w", err)
	}
	return nil
}

func (s *TrackerService) buildApplication(
	payload model.ApplyTaskPayload,
	p *model.Personalization,
	report model.GroundingReport,
) *model.Application {
	app := &model.Application{
		RunID:  payload.RunID,
		JobID:  payload.JobID,
		UserID: payload.UserID,
		ValidationState: model.ValidationState{
			ConfidenceScore:    report.FinalScore,
			IsGrounded:         report.Passed,
			HallucinationRisks: report.Risks,
		},
	}
	if p != nil {
		app.ResumeVariantUsed = p.ResumeVariantUsed
		app.AnsweredQuestions = p.AnsweredQuestions
	}
	return app
}

func (s *TrackerService) appendTimeline(ctx context.Context, appID, stage, message string) error {
	entry := model.TimelineEntry{
		Stage:     stage,
		Timestamp: s.timeProvider.Now().UTC(),
		Message:   message,
	}
	if err := s.applications.AppendTimeline(ctx, appID, entry); err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}
	return nil
}

func (s *TrackerService) queueRecordSent(ctx context.Context, id string) (bool, error) {
	rec, err := s.queueRecords.GetByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load queue record: %w", err)
	}
	return rec.Status == model.QueueRecordStatusSent, nil
}
