package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeDiscoveryRunner runs the discovery pipeline worker.
	ServiceModeDiscoveryRunner ServiceMode = "discovery-runner"
	// ServiceModeApplyRunner runs the apply pipeline worker.
	ServiceModeApplyRunner ServiceMode = "apply-runner"
	// ServiceModeReaper runs the task reaper for cleanup.
	ServiceModeReaper ServiceMode = "reaper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeDiscoveryRunner,
		ServiceModeApplyRunner,
		ServiceModeReaper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP,
			ServiceModeDiscoveryRunner,
			ServiceModeApplyRunner,
			ServiceModeReaper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, discovery-runner, apply-runner, reaper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// DiscoveryRunnerConfig contains discovery pipeline worker configuration.
type DiscoveryRunnerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"DISCOVERY_RUNNER_CONCURRENCY" envDefault:"1"`

	// TaskLease is the duration to lease a discovery task.
	TaskLease time.Duration `env:"DISCOVERY_RUNNER_TASK_LEASE" envDefault:"120s"`

	// CandidateWindow is the maximum number of recent postings scored per run.
	CandidateWindow int `env:"DISCOVERY_CANDIDATE_WINDOW" envDefault:"200"`
}

// Sanitize applies guardrails to discovery runner configuration values.
func (d *DiscoveryRunnerConfig) Sanitize() {
	if d.Concurrency < 1 {
		d.Concurrency = 1
	}
	if d.TaskLease < 5*time.Second {
		d.TaskLease = 5 * time.Second
	}
	if d.CandidateWindow < 1 {
		d.CandidateWindow = 1
	}
}

// ApplyRunnerConfig contains apply pipeline worker configuration.
type ApplyRunnerConfig struct {
	// Concurrency is the number of worker goroutines.
	Concurrency int `env:"APPLY_RUNNER_CONCURRENCY" envDefault:"5"`

	// TaskLease is the duration to lease an apply task.
	TaskLease time.Duration `env:"APPLY_RUNNER_TASK_LEASE" envDefault:"120s"`

	// RateLimit is the number of submissions allowed per RateWindow across all workers.
	RateLimit int `env:"APPLY_RUNNER_RATE_LIMIT" envDefault:"10"`

	// RateWindow is the submission rate limit window.
	RateWindow time.Duration `env:"APPLY_RUNNER_RATE_WINDOW" envDefault:"1m"`

	// SubmitAttempts is the maximum number of submission attempts per application.
	SubmitAttempts int `env:"APPLY_SUBMIT_ATTEMPTS" envDefault:"3"`

	// SubmitBackoffBase is the base delay for exponential backoff between attempts.
	SubmitBackoffBase time.Duration `env:"APPLY_SUBMIT_BACKOFF_BASE" envDefault:"1s"`
}

// Sanitize applies guardrails to apply runner configuration values.
func (a *ApplyRunnerConfig) Sanitize() {
	if a.Concurrency < 1 {
		a.Concurrency = 1
	}
	if a.TaskLease < 5*time.Second {
		a.TaskLease = 5 * time.Second
	}
	if a.RateLimit < 1 {
		a.RateLimit = 1
	}
	if a.RateWindow < time.Second {
		a.RateWindow = time.Second
	}
	if a.SubmitAttempts < 1 {
		a.SubmitAttempts = 1
	}
	if a.SubmitBackoffBase < 100*time.Millisecond {
		a.SubmitBackoffBase = 100 * time.Millisecond
	}
}

// GenerationConfig contains configuration for the content generation client.
type GenerationConfig struct {
	// APIKey authenticates against the Gemini API.
	APIKey string `env:"GEMINI_API_KEY"`

	// Model is the Gemini model used for personalization and grounding.
	Model string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
}

// SubmissionConfig contains configuration for the outbound submission client.
type SubmissionConfig struct {
	// Endpoint overrides per-posting apply URLs when set.
	Endpoint string `env:"SUBMISSION_ENDPOINT"`

	// AuthToken is sent as a bearer token on submission requests.
	AuthToken string `env:"SUBMISSION_AUTH_TOKEN"`

	// Timeout bounds a single submission request.
	Timeout time.Duration `env:"SUBMISSION_TIMEOUT" envDefault:"30s"`
}

// Sanitize applies guardrails to submission configuration values.
func (s *SubmissionConfig) Sanitize() {
	if s.Timeout <= 0 {
		s.Timeout = 30 * time.Second
	}
}

// ReaperConfig contains task reaper service configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// PendingMaxAge is the maximum age for pending tasks before they are marked as failed.
	// Tasks stuck in pending status longer than this will be failed.
	PendingMaxAge time.Duration `env:"REAPER_PENDING_MAX_AGE" envDefault:"1h"`

	// CompletedMaxAge is the maximum age for completed tasks before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"168h"` // 7 days

	// FailedMaxAge is the maximum age for dead-lettered tasks before deletion.
	FailedMaxAge time.Duration `env:"REAPER_FAILED_MAX_AGE" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if r.Interval < 1*time.Minute {
		r.Interval = 1 * time.Minute
	}
	if r.PendingMaxAge < 5*time.Minute {
		r.PendingMaxAge = 5 * time.Minute
	}
	if r.CompletedMaxAge < 1*time.Hour {
		r.CompletedMaxAge = 1 * time.Hour
	}
	if r.FailedMaxAge < 1*time.Hour {
		r.FailedMaxAge = 1 * time.Hour
	}

	// Enforce batch size bounds to prevent excessive locks or inefficiency
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}
