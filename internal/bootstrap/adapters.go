package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/autoapply/autoapply/config"
	"github.com/autoapply/autoapply/internal/adapters/applyrunner"
	"github.com/autoapply/autoapply/internal/adapters/discoveryrunner"
	"github.com/autoapply/autoapply/internal/adapters/generation"
	"github.com/autoapply/autoapply/internal/adapters/reaper"
	"github.com/autoapply/autoapply/internal/adapters/submission"
	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/observability/statsd"
	"github.com/autoapply/autoapply/internal/service/failurenotifier"
	"github.com/redis/go-redis/v9"
)

// DiscoveryRunnerConfig contains configuration for the discovery runner.
type DiscoveryRunnerConfig struct {
	DB              *sql.DB
	RedisClient     redis.UniversalClient
	Logger          *slog.Logger
	Lease           time.Duration
	Concurrency     int
	CandidateWindow int
	Generation      config.GenerationConfig
	Metrics         statsd.Sink
	FailureNotifier *failurenotifier.Service
}

// RunDiscoveryRunner starts the discovery pipeline worker.
func RunDiscoveryRunner(ctx context.Context, cfg DiscoveryRunnerConfig) error {
	// Skip explanations are optional; the runner records skips without
	// them when no generation client is configured.
	genClient, err := resolveGenerationClient(ctx, cfg.Generation, cfg.Logger, false)
	if err != nil {
		return fmt.Errorf("create generation client: %w", err)
	}

	runner, err := discoveryrunner.NewRunner(discoveryrunner.RunnerOptions{
		DB:              cfg.DB,
		RedisClient:     cfg.RedisClient,
		Logger:          cfg.Logger,
		Lease:           cfg.Lease,
		Concurrency:     cfg.Concurrency,
		CandidateWindow: cfg.CandidateWindow,
		Generation:      genClient,
		Metrics:         cfg.Metrics,
		FailureNotifier: cfg.FailureNotifier,
	})
	if err != nil {
		return fmt.Errorf("create discovery runner: %w", err)
	}

	return runner.Run(ctx)
}

// ApplyRunnerConfig contains configuration for the apply runner.
type ApplyRunnerConfig struct {
	DB                *sql.DB
	RedisClient       redis.UniversalClient
	Logger            *slog.Logger
	Lease             time.Duration
	Concurrency       int
	RateLimit         int
	RateWindow        time.Duration
	SubmitAttempts    int
	SubmitBackoffBase time.Duration
	Generation        config.GenerationConfig
	Submission        config.SubmissionConfig
	Metrics           statsd.Sink
	FailureNotifier   *failurenotifier.Service
}

// RunApplyRunner starts the apply pipeline worker.
func RunApplyRunner(ctx context.Context, cfg ApplyRunnerConfig) error {
	genClient, err := resolveGenerationClient(ctx, cfg.Generation, cfg.Logger, true)
	if err != nil {
		return fmt.Errorf("create generation client: %w", err)
	}

	subClient := submission.NewClient(submission.Config{
		Endpoint:  cfg.Submission.Endpoint,
		AuthToken: cfg.Submission.AuthToken,
		Timeout:   cfg.Submission.Timeout,
		Logger:    cfg.Logger,
	})

	runner, err := applyrunner.NewRunner(applyrunner.RunnerOptions{
		DB:                cfg.DB,
		RedisClient:       cfg.RedisClient,
		Logger:            cfg.Logger,
		Lease:             cfg.Lease,
		Concurrency:       cfg.Concurrency,
		RateLimit:         cfg.RateLimit,
		RateWindow:        cfg.RateWindow,
		SubmitAttempts:    cfg.SubmitAttempts,
		SubmitBackoffBase: cfg.SubmitBackoffBase,
		Generation:        genClient,
		Submission:        subClient,
		Metrics:           cfg.Metrics,
		FailureNotifier:   cfg.FailureNotifier,
	})
	if err != nil {
		return fmt.Errorf("create apply runner: %w", err)
	}

	return runner.Run(ctx)
}

// resolveGenerationClient builds the Gemini client when an API key is
// configured. Required callers get an error on a missing key instead of nil.
//
//nolint:ireturn // Returning GenerationClient interface is required for runner injection.
func resolveGenerationClient(
	ctx context.Context,
	cfg config.GenerationConfig,
	logger *slog.Logger,
	required bool,
) (core.GenerationClient, error) {
	if cfg.APIKey == "" {
		if required {
			return nil, errors.New("GEMINI_API_KEY is not set")
		}
		if logger != nil {
			logger.Warn("no generation API key configured; skip explanations disabled")
		}
		return nil, nil
	}

	client, err := generation.NewClient(ctx, generation.Options{
		APIKey: cfg.APIKey,
		Model:  cfg.Model,
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

// ReaperConfig contains configuration for reaper.
type ReaperConfig struct {
	DB      *sql.DB
	Logger  *slog.Logger
	Config  config.ReaperConfig
	Metrics statsd.Sink
}

// RunReaper starts the reaper service.
func RunReaper(ctx context.Context, cfg ReaperConfig) error {
	runner, err := reaper.NewRunner(reaper.RunnerOptions{
		DB:      cfg.DB,
		Config:  cfg.Config,
		Logger:  cfg.Logger,
		Metrics: cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("create reaper runner: %w", err)
	}

	return runner.Run(ctx)
}
