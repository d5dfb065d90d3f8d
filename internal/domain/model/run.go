package model

import (
	"errors"
	"time"
)

// RunStatus represents the lifecycle state of a discovery run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is in progress.
	RunStatusRunning RunStatus = "running"
	// RunStatusStopped indicates the run was halted by the kill switch or an explicit stop.
	RunStatusStopped RunStatus = "stopped"
	// RunStatusCompleted indicates the run finished without errors.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusFailed indicates the run hit an unrecoverable error.
	RunStatusFailed RunStatus = "failed"
)

// Valid returns true if the RunStatus is valid.
func (s RunStatus) Valid() bool {
	return s == RunStatusRunning || s == RunStatusStopped || s == RunStatusCompleted ||
		s == RunStatusFailed
}

// Terminal returns true if the status is a terminal state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusStopped || s == RunStatusCompleted || s == RunStatusFailed
}

// Run represents one discovery invocation and its accumulated counters.
// FinishedAt is set iff the status is terminal.
type Run struct {
	ID                string     `json:"id"                         db:"id"`
	UserID            string     `json:"user_id"                    db:"user_id"`
	Status            RunStatus  `json:"status"                     db:"status"`
	AppliedCountToday int        `json:"applied_count_today"        db:"applied_count_today"`
	SkippedCountToday int        `json:"skipped_count_today"        db:"skipped_count_today"`
	KillSwitch        bool       `json:"kill_switch"                db:"kill_switch"`
	LastCheckpoint    *string    `json:"last_checkpoint,omitempty"  db:"last_checkpoint"`
	LastError         *string    `json:"last_error,omitempty"       db:"last_error"`
	StartedAt         time.Time  `json:"started_at"                 db:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"      db:"finished_at"`
	CreatedAt         time.Time  `json:"created_at"                 db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"                 db:"updated_at"`
}

// Active returns true if the run has not reached a terminal state.
func (r *Run) Active() bool {
	return !r.Status.Terminal()
}

// StartRunRequest represents a request to start a new discovery run.
type StartRunRequest struct {
	UserID string `json:"user_id"`
}

// Validate validates the StartRunRequest fields.
func (r *StartRunRequest) Validate() error {
	if r.UserID == "" {
		return errors.New("user id is required")
	}
	return nil
}

// ErrRunAlreadyActive is returned when a user already has a non-terminal run.
var ErrRunAlreadyActive = errors.New("a run is already active for this user")

// Checkpoint names recorded on the Run as pipeline stages complete.
const (
	CheckpointRunLoaded      = "run_loaded"
	CheckpointArtifactsBuilt = "artifacts_built"
	CheckpointJobsMatched    = "jobs_matched"
	CheckpointQueueWritten   = "queue_written"
	CheckpointFinalized      = "finalized"
)
