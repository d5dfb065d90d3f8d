package data

import (
	"database/sql"
	"errors"
	"log/slog"
)

var (
	// ErrTaskNotFound is returned when a task is not found.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskNotDeletable is returned when attempting to delete a task that is not in a deletable state.
	ErrTaskNotDeletable = errors.New("task cannot be deleted (must be in pending, completed, or failed status)")
	// ErrTaskReserved is returned when attempting to delete a task that has an active lease.
	ErrTaskReserved = errors.New("task is reserved and cannot be deleted")
)

// TaskRepoConfig holds configuration options for the task repository.
type TaskRepoConfig struct {
	// RetryBaseDelaySeconds is the backoff base: a failed attempt with
	// retry_count n is rescheduled base*2^n seconds out.
	RetryBaseDelaySeconds int
	Logger                *slog.Logger
	TimeProvider          TimeProvider
}

// TaskRepo provides database operations for the durable work queue.
type TaskRepo struct {
	DB           *sql.DB
	cfg          TaskRepoConfig
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewTaskRepo creates a new TaskRepo instance with the given database connection and configuration.
func NewTaskRepo(db *sql.DB, cfg TaskRepoConfig) *TaskRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &TaskRepo{
		DB:           db,
		cfg:          cfg,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const taskColumns = `
  id,
  type,
  status,
  priority,
  payload,
  metadata,
  idempotency_key,
  run_id,
  user_id,
  is_test,
  scheduled_at,
  started_at,
  completed_at,
  retry_count,
  max_retries,
  last_error,
  lease_expires_at,
  created_at,
  updated_at
`
