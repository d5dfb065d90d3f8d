package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/data"
	"github.com/autoapply/autoapply/internal/domain/matching"
	"github.com/autoapply/autoapply/internal/domain/model"
	"github.com/autoapply/autoapply/internal/domain/pipeline"
	"github.com/autoapply/autoapply/internal/domain/policy"
	"github.com/autoapply/autoapply/internal/observability/metrics"
	"github.com/autoapply/autoapply/internal/observability/statsd"
)

// DefaultCandidateWindow bounds how many recent postings one run considers.
const DefaultCandidateWindow = 200

// DiscoveryServiceOptions contains options for creating a new DiscoveryService.
type DiscoveryServiceOptions struct {
	// Required: run lifecycle persistence.
	Runs core.RunRepository

	// Required: ingested posting source.
	Postings core.JobPostingRepository

	// Required: per-run match score persistence.
	Matches core.JobMatchRepository

	// Required: admission decision persistence.
	QueueRecords core.QueueRecordRepository

	// Required: prior application lookups for dedup, cooldown, and the daily cap.
	Applications core.ApplicationRepository

	// Required: artifact pack loader.
	Artifacts *ArtifactService

	// Required: enqueues apply tasks for admitted jobs.
	Tasks *TaskService

	// Required: per-user policy resolution.
	Policies *core.PolicyCacheService

	// Required: audit trail.
	Audit *AuditService

	// Optional: produces human-readable skip explanations. Skips are recorded
	// without an explanation when absent.
	Generation core.GenerationClient

	// Optional: per-stage metrics.
	Metrics statsd.Sink

	// Optional: defaults to DefaultCandidateWindow.
	CandidateWindow int

	// Optional: defaults to the real clock.
	TimeProvider data.TimeProvider

	// Optional: defaults to slog.Default.
	Logger *slog.Logger
}

// DiscoveryService executes the discovery pipeline for one run: load the run
// and artifacts, rank and gate candidate postings, then write admission
// decisions and enqueue apply work.
type DiscoveryService struct {
	runs         core.RunRepository
	postings     core.JobPostingRepository
	matches      core.JobMatchRepository
	queueRecords core.QueueRecordRepository
	applications core.ApplicationRepository
	artifacts    *ArtifactService
	tasks        *TaskService
	policies     *core.PolicyCacheService
	audit        *AuditService
	generation   core.GenerationClient
	metrics      statsd.Sink
	window       int
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewDiscoveryService creates a new DiscoveryService with the given options.
func NewDiscoveryService(opts DiscoveryServiceOptions) (*DiscoveryService, error) {
	if opts.Runs == nil {
		return nil, errors.New("run repository is required")
	}
	if opts.Postings == nil {
		return nil, errors.New("job posting repository is required")
	}
	if opts.Matches == nil {
		return nil, errors.New("job match repository is required")
	}
	if opts.QueueRecords == nil {
		return nil, errors.New("queue record repository is required")
	}
	if opts.Applications == nil {
		return nil, errors.New("application repository is required")
	}
	if opts.Artifacts == nil {
		return nil, errors.New("artifact service is required")
	}
	if opts.Tasks == nil {
		return nil, errors.New("task service is required")
	}
	if opts.Policies == nil {
		return nil, errors.New("policy cache service is required")
	}
	if opts.Audit == nil {
		return nil, errors.New("audit service is required")
	}

	window := opts.CandidateWindow
	if window <= 0 {
		window = DefaultCandidateWindow
	}
	timeProvider := opts.TimeProvider
	if timeProvider == nil {
		timeProvider = &data.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DiscoveryService{
		runs:         opts.Runs,
		postings:     opts.Postings,
		matches:      opts.Matches,
		queueRecords: opts.QueueRecords,
		applications: opts.Applications,
		artifacts:    opts.Artifacts,
		tasks:        opts.Tasks,
		policies:     opts.Policies,
		audit:        opts.Audit,
		generation:   opts.Generation,
		metrics:      opts.Metrics,
		window:       window,
		timeProvider: timeProvider,
		logger:       logger.With("component", "discovery_service"),
	}, nil
}

// MustNewDiscoveryService creates a new DiscoveryService and panics on error.
func MustNewDiscoveryService(opts DiscoveryServiceOptions) *DiscoveryService {
	svc, err := NewDiscoveryService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create discovery service: %v", err)) //nolint:forbidigo
	}
	return svc
}

type discoveryState struct {
	payload model.DiscoveryTaskPayload
	isTest  bool

	run    *model.Run
	policy *model.ApplyPolicy
	pack   model.ArtifactPack
	gate   policy.GateResult

	queued  int
	skipped int

	// finalStatus overrides the completed verdict on orderly halts.
	finalStatus model.RunStatus
	finalized   bool
}

var discoveryCheckpoints = map[string]string{
	"load_run":       model.CheckpointRunLoaded,
	"load_artifacts": model.CheckpointArtifactsBuilt,
	"match_and_gate": model.CheckpointJobsMatched,
	"write_queue":    model.CheckpointQueueWritten,
}

// Execute runs the discovery pipeline for the task's run. The run always
// reaches a terminal status: completed, stopped on a kill switch, or failed
// with the stage error recorded.
func (s *DiscoveryService) Execute(ctx context.Context, task *model.Task) error {
	var payload model.DiscoveryTaskPayload
	if err := json.Unmarshal(task.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal discovery payload: %w", err)
	}
	if payload.RunID == "" || payload.UserID == "" {
		return errors.New("discovery payload requires run_id and user_id")
	}

	state := &discoveryState{payload: payload, isTest: task.IsTest}

	runner, err := pipeline.NewRunner(pipeline.Options[discoveryState]{
		Stages: []pipeline.Stage[discoveryState]{
			{Name: "load_run", Run: s.loadRun},
			{Name: "load_artifacts", Run: s.loadArtifacts},
			{Name: "match_and_gate", Run: s.matchAndGate},
			{Name: "write_queue", Run: s.writeQueue},
		},
		Observer: pipeline.ObserverFunc[discoveryState](s.observeStage),
		Logger:   s.logger,
	})
	if err != nil {
		return err
	}

	runErr := runner.Run(ctx, state)
	if finalizeErr := s.finalize(ctx, state, runErr); finalizeErr != nil {
		s.logger.ErrorContext(ctx, "failed to finalize run",
			"run_id", payload.RunID, "err", finalizeErr)
		if runErr == nil {
			runErr = finalizeErr
		}
	}
	return runErr
}

func (s *DiscoveryService) observeStage(
	ctx context.Context,
	state *discoveryState,
	name string,
	duration time.Duration,
	err error,
) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.EmitPipelineStage(s.metrics, metrics.StageMetric{
		Pipeline: "discovery",
		Stage:    name,
		Result:   result,
		Duration: duration,
		Err:      err,
	})

	if err != nil {
		s.audit.Error(ctx, EventParams{
			RunID:   state.payload.RunID,
			UserID:  state.payload.UserID,
			Stage:   name,
			Message: err.Error(),
		})
		return
	}

	if checkpoint, ok := discoveryCheckpoints[name]; ok {
		if cpErr := s.runs.SetCheckpoint(ctx, state.payload.RunID, checkpoint); cpErr != nil {
			s.logger.WarnContext(ctx, "failed to record checkpoint",
				"run_id", state.payload.RunID, "checkpoint", checkpoint, "err", cpErr)
		}
	}
}

func (s *DiscoveryService) loadRun(ctx context.Context, state *discoveryState) error {
	run, err := s.runs.GetByID(ctx, state.payload.RunID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if run.UserID != state.payload.UserID {
		return fmt.Errorf("run %s does not belong to user %s", run.ID, state.payload.UserID)
	}
	state.run = run

	// A re-delivered task for a settled run is a no-op.
	if run.Status != model.RunStatusRunning {
		state.finalized = true
		s.logger.InfoContext(ctx, "run already settled, skipping",
			"run_id", run.ID, "status", run.Status)
		return pipeline.ErrHalt
	}

	pol, err := s.policies.ResolvePolicy(ctx, state.payload.UserID)
	if err != nil {
		return fmt.Errorf("resolve policy: %w", err)
	}
	state.policy = pol

	if run.KillSwitch || pol.KillSwitch {
		state.finalStatus = model.RunStatusStopped
		s.audit.Warn(ctx, EventParams{
			RunID:   run.ID,
			UserID:  run.UserID,
			Stage:   "load_run",
			Message: "kill switch engaged, stopping run",
		})
		return pipeline.ErrHalt
	}

	s.audit.Info(ctx, EventParams{
		RunID:   run.ID,
		UserID:  run.UserID,
		Stage:   "load_run",
		Message: "run loaded",
	})
	return nil
}

func (s *DiscoveryService) loadArtifacts(ctx context.Context, state *discoveryState) error {
	pack, err := s.artifacts.LoadPack(ctx, state.payload.UserID)
	if err != nil {
		return fmt.Errorf("load artifacts: %w", err)
	}
	state.pack = pack

	s.audit.Info(ctx, EventParams{
		RunID:   state.payload.RunID,
		UserID:  state.payload.UserID,
		Stage:   "load_artifacts",
		Message: "artifact pack built",
		Metadata: map[string]any{
			"bullet_count":  len(pack.BulletBank),
			"variant_count": len(pack.ResumeVariants),
		},
	})
	return nil
}

func (s *DiscoveryService) matchAndGate(ctx context.Context, state *discoveryState) error {
	postings, err := s.postings.ListRecent(ctx, s.window)
	if err != nil {
		return fmt.Errorf("list postings: %w", err)
	}

	applied, err := s.applications.SubmittedJobIDs(ctx, state.payload.UserID)
	if err != nil {
		return fmt.Errorf("load submitted job ids: %w", err)
	}

	ranked := matching.Rank(state.payload.RunID, state.pack.Profile, postings, *state.policy, applied)

	if len(ranked) > 0 {
		batch := make([]model.JobMatch, 0, len(ranked))
		for _, job := range ranked {
			batch = append(batch, job.Match)
		}
		if err := s.matches.CreateBatch(ctx, batch); err != nil {
			return fmt.Errorf("persist matches: %w", err)
		}
	}

	now := s.timeProvider.Now().UTC()
	cooldowns, err := s.cooldownSet(ctx, state.payload.UserID, state.policy.CompanyCooldownDays, now)
	if err != nil {
		return fmt.Errorf("build cooldown set: %w", err)
	}

	appliedToday, err := s.applications.CountSubmittedSince(ctx, state.payload.UserID, startOfDay(now))
	if err != nil {
		return fmt.Errorf("count applications today: %w", err)
	}

	state.gate = policy.Gate(policy.GateInput{
		Ranked:            ranked,
		Policy:            *state.policy,
		AppliedCountToday: appliedToday,
		CooldownCompanies: cooldowns,
	})

	s.audit.Info(ctx, EventParams{
		RunID:   state.payload.RunID,
		UserID:  state.payload.UserID,
		Stage:   "match_and_gate",
		Message: "candidates ranked and gated",
		Metadata: map[string]any{
			"candidates": len(postings),
			"ranked":     len(ranked),
			"allowed":    len(state.gate.Allowed),
			"skipped":    len(state.gate.Skipped),
		},
	})
	return nil
}

func (s *DiscoveryService) cooldownSet(
	ctx context.Context,
	userID string,
	cooldownDays int,
	now time.Time,
) (map[string]time.Time, error) {
	if cooldownDays <= 0 {
		return map[string]time.Time{}, nil
	}

	since := now.Add(-time.Duration(cooldownDays) * 24 * time.Hour)
	apps, err := s.applications.ListSubmittedSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	if len(apps) == 0 {
		return map[string]time.Time{}, nil
	}

	ids := make([]string, 0, len(apps))
	for _, app := range apps {
		ids = append(ids, app.JobID)
	}
	companies, err := s.postings.CompaniesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return policy.CooldownSet(apps, companies, cooldownDays, now), nil
}

func (s *DiscoveryService) writeQueue(ctx context.Context, state *discoveryState) error {
	for _, job := range state.gate.Allowed {
		rec, err := s.queueRecords.Create(ctx, &model.QueueRecord{
			RunID:  state.payload.RunID,
			JobID:  job.Posting.ID,
			UserID: state.payload.UserID,
			Status: model.QueueRecordStatusQueued,
		})
		if err != nil {
			return fmt.Errorf("create queue record for job %s: %w", job.Posting.ID, err)
		}

		if err := s.enqueueApply(ctx, state, rec); err != nil {
			return fmt.Errorf("enqueue apply task for job %s: %w", job.Posting.ID, err)
		}
		state.queued++
	}

	for _, decision := range state.gate.Skipped {
		if err := s.recordSkip(ctx, state, decision); err != nil {
			return fmt.Errorf("record skip for job %s: %w", decision.JobID, err)
		}
		state.skipped++
	}

	if state.skipped > 0 {
		if err := s.runs.IncrementCounters(ctx, state.payload.RunID, 0, state.skipped); err != nil {
			return fmt.Errorf("increment skip counter: %w", err)
		}
	}

	s.audit.Info(ctx, EventParams{
		RunID:   state.payload.RunID,
		UserID:  state.payload.UserID,
		Stage:   "write_queue",
		Message: "queue written",
		Metadata: map[string]any{
			"queued":  state.queued,
			"skipped": state.skipped,
		},
	})
	return nil
}

func (s *DiscoveryService) enqueueApply(
	ctx context.Context,
	state *discoveryState,
	rec *model.QueueRecord,
) error {
	payload, err := json.Marshal(model.ApplyTaskPayload{
		RunID:         state.payload.RunID,
		UserID:        state.payload.UserID,
		JobID:         rec.JobID,
		QueueRecordID: rec.ID,
		Artifacts:     state.pack,
	})
	if err != nil {
		return err
	}

	key := applyIdempotencyKey(state.payload.RunID, rec.JobID)
	runID := state.payload.RunID
	userID := state.payload.UserID
	_, err = s.tasks.Create(ctx, &model.CreateTaskRequest{
		Type:           model.TaskTypeApply,
		Payload:        payload,
		IdempotencyKey: &key,
		RunID:          &runID,
		UserID:         &userID,
		IsTest:         state.isTest,
		MaxRetries:     model.DefaultMaxRetries,
	})
	return err
}

func (s *DiscoveryService) recordSkip(
	ctx context.Context,
	state *discoveryState,
	decision policy.Decision,
) error {
	reason := decision.SkipReason
	rec := &model.QueueRecord{
		RunID:         state.payload.RunID,
		JobID:         decision.JobID,
		UserID:        state.payload.UserID,
		Status:        model.QueueRecordStatusSkipped,
		SkipReason:    &reason,
		CooldownUntil: decision.CooldownUntil,
	}
	if decision.SkipDetail != "" {
		detail := decision.SkipDetail
		rec.SkipDetail = &detail
	}

	if explanation := s.explainSkip(ctx, decision); explanation != "" {
		rec.SkipExplanation = &explanation
	}

	_, err := s.queueRecords.Create(ctx, rec)
	return err
}

// explainSkip asks the generation client for a one-sentence explanation.
// Failures never block the pipeline.
func (s *DiscoveryService) explainSkip(ctx context.Context, decision policy.Decision) string {
	if s.generation == nil {
		return ""
	}

	job, err := s.postings.GetByID(ctx, decision.JobID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load posting for skip explanation",
			"job_id", decision.JobID, "err", err)
		return ""
	}

	explanation, err := s.generation.ExplainSkip(ctx, core.SkipExplanationParams{
		Job:    job,
		Reason: decision.SkipReason,
		Detail: decision.SkipDetail,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "skip explanation failed",
			"job_id", decision.JobID, "err", err)
		return ""
	}
	return explanation
}

// finalize settles the run exactly once per invocation.
func (s *DiscoveryService) finalize(ctx context.Context, state *discoveryState, runErr error) error {
	if state.finalized {
		return nil
	}
	state.finalized = true

	status := model.RunStatusCompleted
	var lastError *string
	switch {
	case runErr != nil:
		status = model.RunStatusFailed
		msg := runErr.Error()
		lastError = &msg
	case state.finalStatus != "":
		status = state.finalStatus
	}

	if _, err := s.runs.Finish(ctx, state.payload.RunID, status, lastError); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if err := s.runs.SetCheckpoint(ctx, state.payload.RunID, model.CheckpointFinalized); err != nil {
		s.logger.WarnContext(ctx, "failed to record final checkpoint",
			"run_id", state.payload.RunID, "err", err)
	}

	s.audit.Info(ctx, EventParams{
		RunID:   state.payload.RunID,
		UserID:  state.payload.UserID,
		Stage:   "finalize",
		Message: fmt.Sprintf("run finished with status %s", status),
		Metadata: map[string]any{
			"queued":  state.queued,
			"skipped": state.skipped,
		},
	})
	return nil
}

func applyIdempotencyKey(runID, jobID string) string {
	return fmt.Sprintf("apply:%s:%s", runID, jobID)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
