// Package discoveryrunner provides a task runner adapter for processing discovery runs.
package discoveryrunner

import (
	"context"
	"database/sql"
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
)

// RunnerOptions configures the discovery task runner adapter.
type RunnerOptions struct {
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger

	// Task processing settings
	Lease       time.Duration // per-task lease duration; defaults to 30s
	Concurrency int           // number of worker goroutines; defaults to 1

	// Optional: produces skip explanations; skips are recorded without one when absent.
	Generation core.GenerationClient

	// Optional: matching candidate window override.
	CandidateWindow int

	// Optional dependency injections (useful for tests/decoupling)
	TasksRepo        core.TaskRepository
	RunsRepo         core.RunRepository
	ResumesRepo      core.ResumeRepository
	PostingsRepo     core.JobPostingRepository
	MatchesRepo      core.JobMatchRepository
	QueueRecordsRepo core.QueueRecordRepository
	ApplicationsRepo core.ApplicationRepository
	AuditRepo        core.AuditLogRepository
	PoliciesRepo     core.PolicyRepository
	CacheRepo        core.CacheRepository
	Metrics          statsd.Sink
	FailureNotifier  *failurenotifier.Service
}

// Runner processes discovery tasks using the discovery pipeline service.
type Runner struct {
	inner  *taskrunner.Runner
	logger *slog.Logger
}

// NewRunner creates a new discovery task runner with the given options.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	logger := resolveLogger(opts.Logger)

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

	discovery, err := buildDiscoveryService(opts, deps, tasks, logger)
	if err != nil {
		return nil, fmt.Errorf("wire discovery service: %w", err)
	}

	inner, err := taskrunner.NewRunner(taskrunner.Options{
		Tasks:       tasks,
		Handler:     discovery,
		TaskType:    model.TaskTypeDiscovery,
		Lease:       opts.Lease,
		Concurrency: opts.Concurrency,
		Logger:      logger,
		Metrics:     opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("build task runner: %w", err)
	}

	return &Runner{inner: inner, logger: logger}, nil
}

// Run starts the discovery runner and processes tasks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting discovery runner")
	return r.inner.Run(ctx)
}

type runnerDeps struct {
	tasksRepo        core.TaskRepository
	runsRepo         core.RunRepository
	resumesRepo      core.ResumeRepository
	postingsRepo     core.JobPostingRepository
	matchesRepo      core.JobMatchRepository
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
		matchesRepo:      opts.MatchesRepo,
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
		if deps.matchesRepo == nil {
			deps.matchesRepo = data.NewJobMatchRepo(opts.DB)
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
		{"JobMatchRepository", deps.matchesRepo},
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
				"discovery runner requires a DB handle or explicit implementations for the following %s: %s",
				noun,
				missingList,
			)
		}

		return fmt.Errorf("discovery runner missing required %s: %s", noun, missingList)
	}

	return nil
}

func buildDiscoveryService(
	opts RunnerOptions,
	deps *runnerDeps,
	tasks *service.TaskService,
	logger *slog.Logger,
) (*service.DiscoveryService, error) {
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

	policies := core.NewPolicyCacheService(core.PolicyCacheServiceOptions{
		Cache:    deps.cacheRepo,
		Policies: deps.policiesRepo,
		Config:   core.DefaultPolicyCacheConfig(),
	})

	discovery, err := service.NewDiscoveryService(service.DiscoveryServiceOptions{
		Runs:            deps.runsRepo,
		Postings:        deps.postingsRepo,
		Matches:         deps.matchesRepo,
		QueueRecords:    deps.queueRecordsRepo,
		Applications:    deps.applicationsRepo,
		Artifacts:       artifacts,
		Tasks:           tasks,
		Policies:        policies,
		Audit:           audit,
		Generation:      opts.Generation,
		Metrics:         opts.Metrics,
		CandidateWindow: opts.CandidateWindow,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("new discovery service: %w", err)
	}
	return discovery, nil
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
