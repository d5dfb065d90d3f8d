package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/data"
	"github.com/autoapply/autoapply/internal/domain/model"
)

// Submission attempt defaults. The backoff doubles after each failed attempt.
const (
	DefaultSubmitAttempts    = 3
	DefaultSubmitBackoffBase = time.Second
)

// SubmitterServiceOptions contains options for creating a new SubmitterService.
type SubmitterServiceOptions struct {
	// Required: delivers applications to job boards.
	Client core.SubmissionClient

	// Optional: defaults to DefaultSubmitAttempts.
	MaxAttempts int

	// Optional: defaults to DefaultSubmitBackoffBase.
	BackoffBase time.Duration

	// Optional: defaults to the real clock.
	TimeProvider data.TimeProvider

	// Optional: defaults to slog.Default.
	Logger *slog.Logger
}

// SubmitterService delivers one application with bounded retries. Sandbox
// postings never reach the network; they settle immediately with a synthetic
// receipt.
type SubmitterService struct {
	client       core.SubmissionClient
	maxAttempts  int
	backoffBase  time.Duration
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewSubmitterService creates a new SubmitterService with the given options.
func NewSubmitterService(opts SubmitterServiceOptions) (*SubmitterService, error) {
	if opts.Client == nil {
		return nil, errors.New("submission client is required")
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultSubmitAttempts
	}
	backoffBase := opts.BackoffBase
	if backoffBase <= 0 {
		backoffBase = DefaultSubmitBackoffBase
	}
	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SubmitterService{
		client:       opts.Client,
		maxAttempts:  maxAttempts,
		backoffBase:  backoffBase,
		timeProvider: timeProvider,
		logger:       logger.With("component", "submitter_service"),
	}, nil
}

// MustNewSubmitterService creates a new SubmitterService and panics on error.
func MustNewSubmitterService(opts SubmitterServiceOptions) *SubmitterService {
	svc, err := NewSubmitterService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create submitter service: %v", err)) //nolint:forbidigo
	}
	return svc
}

// SubmissionOutcome reports how a submission ended. Attempts counts every
// delivery try including the successful one; Status is submitted on a
// first-try success, retried when later attempts succeeded, failed otherwise.
type SubmissionOutcome struct {
	Receipt     string
	ConfirmedAt string
	Attempts    int
	Status      model.ApplicationStatus
}

// Submit attempts delivery up to the attempt budget with doubling backoff
// between tries. The outcome is returned alongside the final error so callers
// can record the attempt count even when every try failed.
func (s *SubmitterService) Submit(
	ctx context.Context,
	req core.SubmissionRequest,
) (SubmissionOutcome, error) {
	if req.Job == nil {
		return SubmissionOutcome{Status: model.ApplicationStatusFailed}, errors.New("job posting is required")
	}
	if req.IdempotencyKey == "" {
		return SubmissionOutcome{Status: model.ApplicationStatusFailed}, errors.New("idempotency key is required")
	}

	if req.Job.Sandbox() {
		now := s.timeProvider.Now().UTC()
		return SubmissionOutcome{
			Receipt:     "sandbox-" + uuid.NewString(),
			ConfirmedAt: now.Format(time.RFC3339),
			Attempts:    1,
			Status:      model.ApplicationStatusSubmitted,
		}, nil
	}

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.wait(ctx, attempt); err != nil {
				return SubmissionOutcome{Attempts: attempt - 1, Status: model.ApplicationStatusFailed}, err
			}
		}

		receipt, err := s.client.Submit(ctx, req)
		if err == nil && receipt != nil {
			status := model.ApplicationStatusSubmitted
			if attempt > 1 {
				status = model.ApplicationStatusRetried
			}
			return SubmissionOutcome{
				Receipt:     receipt.Receipt,
				ConfirmedAt: receipt.ConfirmedAt,
				Attempts:    attempt,
				Status:      status,
			}, nil
		}
		if err == nil {
			err = errors.New("submission returned no receipt")
		}
		lastErr = err
		s.logger.WarnContext(ctx, "submission attempt failed",
			"job_id", req.Job.ID, "attempt", attempt, "err", err)
	}

	return SubmissionOutcome{
		Attempts: s.maxAttempts,
		Status:   model.ApplicationStatusFailed,
	}, fmt.Errorf("submission failed after %d attempts: %w", s.maxAttempts, lastErr)
}

// wait sleeps for the backoff preceding the given attempt: base before the
// second try, doubling each try after.
func (s *SubmitterService) wait(ctx context.Context, attempt int) error {
	delay := s.backoffBase << (attempt - 2)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
