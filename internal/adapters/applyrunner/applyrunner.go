// Package applyrunner provides a task runner adapter for processing apply tasks.
package applyrunner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/autoapply/autoapply/internal/adapters/taskrunner"
	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/data"
	"github.com/autoapply/autoapply/internal/domain/model"
	"github.com/autoapply/autoapply/internal/observability/statsd"
	"github.com/autoapply/autoapply/internal/service"
	"github.com/autoapply/autoapply/internal/service/failurenotifier"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Default worker settings for the apply runner. Submissions are deliberately
// throttled so a burst of admitted jobs never floods a job board.
const (
	DefaultConcurrency = 5
	DefaultRateLimit   = 10
	DefaultRateWindow  = time.Minute
)

// RunnerOptions configures the apply task runner adapter.
type RunnerOptions struct {
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger

	// Required: model-backed content generation and grounding.
	Generation core.GenerationClient

	// Required: application delivery.
	Submission core.SubmissionClient

	// Task processing settings
	Lease       time.Duration // per-task lease duration; defaults to 30s
	Concurrency int           // number of worker goroutines; defaults to 5
	RateLimit   int           // task starts allowed per RateWindow; defaults to 10
	RateWindow  time.Duration // rate limit window; defaults to 1m

	// Submission retry settings
	SubmitAttempts    int           // defaults to service.DefaultSubmitAttempts
	SubmitBackoffBase time.Duration // defaults to service.DefaultSubmitBackoffBase

	// Optional dependency injections (useful for tests/decoupling)
	TasksRepo        core.TaskRepository
	RunsRepo         core.RunRepository
	ResumesRepo      core.ResumeRepository
	PostingsRepo     core.JobPostingRepository
	QueueRecordsRepo core.QueueRecordRepository
	ApplicationsRepo core.ApplicationRepository
	AuditRepo        core.AuditLogRepository
	PoliciesRepo     core.PolicyRepository
	CacheRepo        core.CacheRepository
	Metrics          statsd.Sink
	FailureNotifier  *failurenotifier.Service
}

// Runner processes apply tasks using the apply pipeline service.
type Runner struct {
	inner  *taskrunner.Runner
	logger *slog.Logger
}

// NewRunner creates a new apply task runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	logger := resolveLogger(opts.Logger)

	if opts.Generation == nil {
		return nil, errors.New("generation client is required")
	}
	if opts.Submission == nil {
		return nil, errors.New("submission client is required")
	}

	deps := resolveDependencies(opts)
	if err := validateDependencies(opts, deps); err != nil {
		return nil, err
	}

	tasks := service.MustNewTaskService(service.TaskServiceOptions{
		Repo:            deps.tasksRepo,
		DefaultLease:    resolveLease(opts.Lease),
		Logger:          logger,
		FailureNotifier: opts.FailureNotifier,
	})

	apply, err := buildApplyService(opts, deps, logger)
	if err != nil {
		return nil, fmt.Errorf("wire apply service: %w", err)
	}

	inner, err := taskrunner.NewRunner(taskrunner.Options{
		Tasks:       tasks,
		Handler:     apply,
		TaskType:    model.TaskTypeApply,
		Lease:       opts.Lease,
		Concurrency: resolveConcurrency(opts.Concurrency),
		Limiter:     buildLimiter(opts),
		Logger:      logger,
		Metrics:     opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("build task runner: %w", err)
	}

	return &Runner{inner: inner, logger: logger}, nil
}

// Run starts the apply runner and processes tasks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting apply runner")
	return r.inner.Run(ctx)
}

// buildLimiter constructs the shared submission throttle.
func buildLimiter(opts RunnerOptions) *rate.Limiter {
	limit := opts.RateLimit
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	window := opts.RateWindow
	if window <= 0 {
		window = DefaultRateWindow
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
}

type runnerDeps struct {
	tasksRepo        core.TaskRepository
	runsRepo         core.RunRepository
	resumesRepo      core.ResumeRepository
	postingsRepo     core.JobPostingRepository
	queueRecordsRepo core.QueueRecordRepository
	applicationsRepo core.ApplicationRepository
	auditRepo        core.AuditLogRepository
	policiesRepo     core.PolicyRepository
	cacheRepo        core.CacheRepository
}

func resolveDependencies(opts RunnerOptions) *runnerDeps {
	deps := &runnerDeps{
		tasksRepo:        opts.TasksRepo,
		runsRepo:         opts.RunsRepo,
		resumesRepo:      opts.ResumesRepo,
		postingsRepo:     opts.PostingsRepo,
		queueRecordsRepo: opts.QueueRecordsRepo,
		applicationsRepo: opts.ApplicationsRepo,
		auditRepo:        opts.AuditRepo,
		policiesRepo:     opts.PoliciesRepo,
		cacheRepo:        opts.CacheRepo,
	}

	if opts.DB != nil {
		if deps.tasksRepo == nil {
			deps.tasksRepo = data.NewTaskRepo(opts.DB, data.TaskRepoConfig{Logger: opts.Logger})
		}
		if deps.runsRepo == nil {
			deps.runsRepo = data.NewRunRepo(opts.DB)
		}
		if deps.resumesRepo == nil {
			deps.resumesRepo = data.NewResumeRepo(opts.DB)
		}
		if deps.postingsRepo == nil {
			deps.postingsRepo = data.NewJobPostingRepo(opts.DB)
		}
		if deps.queueRecordsRepo == nil {
			deps.queueRecordsRepo = data.NewQueueRecordRepo(opts.DB)
		}
		if deps.applicationsRepo == nil {
			deps.applicationsRepo = data.NewApplicationRepo(opts.DB)
		}
		if deps.auditRepo == nil {
			deps.auditRepo = data.NewAuditLogRepo(opts.DB)
		}
		if deps.policiesRepo == nil {
			deps.policiesRepo = data.NewPolicyRepo(opts.DB)
		}
	}

	if deps.cacheRepo == nil && opts.RedisClient != nil {
		deps.cacheRepo = data.NewRedisCacheRepo(opts.RedisClient)
	}

	return deps
}

func validateDependencies(opts RunnerOptions, deps *runnerDeps) error {
	required := []struct {
		name  string
		value interface{}
	}{
		{"TaskRepository", deps.tasksRepo},
		{"RunRepository", deps.runsRepo},
		{"ResumeRepository", deps.resumesRepo},
		{"JobPostingRepository", deps.postingsRepo},
		{"QueueRecordRepository", deps.queueRecordsRepo},
		{"ApplicationRepository", deps.applicationsRepo},
		{"AuditLogRepository", deps.auditRepo},
		{"PolicyRepository", deps.policiesRepo},
	}

	var missing []string
	for _, dep := range required {
		if dep.value == nil {
			missing = append(missing, dep.name)
		}
	}

	if len(missing) > 0 {
		noun := "dependency"
		if len(missing) > 1 {
			noun = "dependencies"
		}
		missingList := strings.Join(missing, ", ")

		if opts.DB == nil {
			return fmt.Errorf(
				"apply runner requires a DB handle or explicit implementations for the following %s: %s",
				noun,
				missingList,
			)
		}

		return fmt.Errorf("apply runner missing required %s: %s", noun, missingList)
	}

	return nil
}

func buildApplyService(opts RunnerOptions, deps *runnerDeps, logger *slog.Logger) (*service.ApplyService, error) {
	artifacts, err := service.NewArtifactService(service.ArtifactServiceOptions{
		Resumes: deps.resumesRepo,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("new artifact service: %w", err)
	}

	audit, err := service.NewAuditService(service.AuditServiceOptions{
		Repo:   deps.auditRepo,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("new audit service: %w", err)
	}

	personalizer, err := service.NewPersonalizerService(service.PersonalizerServiceOptions{
		Generation: opts.Generation,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("new personalizer service: %w", err)
	}

	grounding, err := service.NewGroundingService(service.GroundingServiceOptions{
		Generation: opts.Generation,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("new grounding service: %w", err)
	}

	submitter, err := service.NewSubmitterService(service.SubmitterServiceOptions{
		Client:      opts.Submission,
		MaxAttempts: opts.SubmitAttempts,
		BackoffBase: opts.SubmitBackoffBase,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("new submitter service: %w", err)
	}

	tracker, err := service.NewTrackerService(service.TrackerServiceOptions{
		Applications: deps.applicationsRepo,
		QueueRecords: deps.queueRecordsRepo,
		Runs:         deps.runsRepo,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("new tracker service: %w", err)
	}

	policies := core.NewPolicyCacheService(core.PolicyCacheServiceOptions{
		Cache:    deps.cacheRepo,
		Policies: deps.policiesRepo,
		Config:   core.DefaultPolicyCacheConfig(),
	})

	apply, err := service.NewApplyService(service.ApplyServiceOptions{
		Runs:         deps.runsRepo,
		Postings:     deps.postingsRepo,
		QueueRecords: deps.queueRecordsRepo,
		Artifacts:    artifacts,
		Personalizer: personalizer,
		Grounding:    grounding,
		Submitter:    submitter,
		Tracker:      tracker,
		Policies:     policies,
		Audit:        audit,
		Metrics:      opts.Metrics,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("new apply service: %w", err)
	}
	return apply, nil
}

func resolveLogger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}

func resolveLease(lease time.Duration) time.Duration {
	if lease > 0 {
		return lease
	}
	return 30 * time.Second
}

func resolveConcurrency(workers int) int {
	if workers > 0 {
		return workers
	}
	return DefaultConcurrency
}
