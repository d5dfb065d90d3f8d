// Package model defines the core data types and structures used throughout the autoapply workflow system.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskType represents the type of task to be executed.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type TaskType string

// TaskStatus represents the current status of a task.
type TaskStatus string

const (
	// TaskTypeDiscovery represents a discovery pipeline task type.
	TaskTypeDiscovery TaskType = "discovery"
	// TaskTypeApply represents an apply pipeline task type.
	TaskTypeApply TaskType = "apply"

	// TaskStatusPending indicates a task is waiting to be processed.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates a task is currently being processed.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates a task has finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates a task has exhausted its attempts and is dead-lettered.
	TaskStatusFailed TaskStatus = "failed"
)

// UnmarshalText implements encoding.TextUnmarshaler for TaskType to allow env parsing.
func (t *TaskType) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	tt := TaskType(v)
	if tt.Valid() {
		*t = tt
		return nil
	}
	return fmt.Errorf("invalid TaskType: %q", v)
}

// ErrNoTasksAvailable is returned when no tasks are available for reservation.
var ErrNoTasksAvailable = errors.New("no tasks available")

// Valid returns true if the TaskType is valid.
func (t TaskType) Valid() bool {
	return t == TaskTypeDiscovery || t == TaskTypeApply
}

// Valid returns true if the TaskStatus is valid.
func (s TaskStatus) Valid() bool {
	return s == TaskStatusPending || s == TaskStatusRunning || s == TaskStatusCompleted ||
		s == TaskStatusFailed
}

// Task represents a unit of work on the durable queue with all its metadata and status information.
type Task struct {
	ID             string          `json:"id"                         db:"id"`
	Type           TaskType        `json:"type"                       db:"type"`
	Status         TaskStatus      `json:"status"                     db:"status"`
	Priority       int             `json:"priority"                   db:"priority"`
	Payload        json.RawMessage `json:"payload"                    db:"payload"`
	Metadata       json.RawMessage `json:"metadata"                   db:"metadata"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"  db:"idempotency_key"`
	RunID          *string         `json:"run_id,omitempty"           db:"run_id"`
	UserID         *string         `json:"user_id,omitempty"          db:"user_id"`
	IsTest         bool            `json:"is_test"                    db:"is_test"`
	ScheduledAt    time.Time       `json:"scheduled_at"               db:"scheduled_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"       db:"started_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"     db:"completed_at"`
	RetryCount     int             `json:"retry_count"                db:"retry_count"`
	MaxRetries     int             `json:"max_retries"                db:"max_retries"`
	LastError      *string         `json:"last_error,omitempty"       db:"last_error"`
	LeaseExpiresAt *time.Time      `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time       `json:"created_at"                 db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"                 db:"updated_at"`
}

// CreateTaskRequest represents a request to enqueue a new task.
type CreateTaskRequest struct {
	Type           TaskType        `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Priority       int             `json:"priority,omitempty"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	RunID          *string         `json:"run_id,omitempty"`
	UserID         *string         `json:"user_id,omitempty"`
	IsTest         bool            `json:"is_test,omitempty"`
	ScheduledAt    *time.Time      `json:"scheduled_at,omitempty"`
	MaxRetries     int             `json:"max_retries"`
}

// DefaultMaxRetries is the retry budget granted to pipeline tasks. A task is
// dead-lettered after this many failed deliveries.
const DefaultMaxRetries = 3

// Validate validates the CreateTaskRequest fields.
func (r *CreateTaskRequest) Validate() error {
	if !r.Type.Valid() {
		return errors.New("invalid task type")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	if r.Priority < 0 || r.Priority > 100 {
		return errors.New("priority must be between 0 and 100")
	}
	if r.MaxRetries < 0 {
		return errors.New("max retries must be >= 0")
	}
	if r.IdempotencyKey != nil && *r.IdempotencyKey == "" {
		return errors.New("idempotency key must not be empty when set")
	}
	return nil
}

// TaskStats represents statistics about tasks in different states.
type TaskStats struct {
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// TaskStatusResponse represents the status information for a specific task.
type TaskStatusResponse struct {
	Status      TaskStatus `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	LastError   *string    `json:"last_error,omitempty"`
}

// DiscoveryTaskPayload is the payload carried by a discovery task.
type DiscoveryTaskPayload struct {
	RunID  string `json:"run_id"`
	UserID string `json:"user_id"`
}

// ApplyTaskPayload is the payload carried by an apply task. It snapshots the
// artifact pack built during discovery so the apply pipeline need not reload it.
type ApplyTaskPayload struct {
	RunID         string       `json:"run_id"`
	UserID        string       `json:"user_id"`
	JobID         string       `json:"job_id"`
	QueueRecordID string       `json:"queue_record_id"`
	Artifacts     ArtifactPack `json:"artifacts"`
}
