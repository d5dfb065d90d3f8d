package core

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/autoapply/autoapply/internal/domain/model"
)

// This file contains repository interface definitions (ports in hexagonal architecture).
// These interfaces define the contracts between the service layer and data layer.
// Service implementations should depend on these interfaces, not concrete implementations.

// TaskRepository defines the interface for durable work queue operations.
type TaskRepository interface {
	Create(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error)
	GetByID(ctx context.Context, id string) (*model.Task, error)
	ReserveNext(ctx context.Context, taskType model.TaskType, leaseSeconds int) (*model.Task, error)
	WaitForNotification(ctx context.Context, taskType model.TaskType) error
	Heartbeat(ctx context.Context, taskID string, leaseSeconds int) (bool, error)
	Complete(ctx context.Context, id string) (bool, error)
	Fail(ctx context.Context, id, errMsg string) (bool, error)
	Stats(ctx context.Context, taskType model.TaskType) (*model.TaskStats, error)
	Delete(ctx context.Context, id string) error
}

// TaskRepositoryTx defines optional transactional task creation support.
type TaskRepositoryTx interface {
	CreateInTx(ctx context.Context, tx *sql.Tx, req *model.CreateTaskRequest) (*model.Task, error)
}

// RunRepository defines the interface for discovery run data operations.
type RunRepository interface {
	Create(ctx context.Context, req *model.StartRunRequest) (*model.Run, error)
	GetByID(ctx context.Context, id string) (*model.Run, error)
	GetLatestByUser(ctx context.Context, userID string) (*model.Run, error)
	GetActiveByUser(ctx context.Context, userID string) (*model.Run, error)
	SetCheckpoint(ctx context.Context, id, checkpoint string) error
	IncrementCounters(ctx context.Context, id string, applied, skipped int) error
	EngageKillSwitch(ctx context.Context, id string) error
	Finish(ctx context.Context, id string, status model.RunStatus, lastError *string) (*model.Run, error)
}

// ResumeRepository defines the interface for stored resume data operations.
type ResumeRepository interface {
	ListByUser(ctx context.Context, userID string) ([]*model.Resume, error)
}

// JobPostingRepository defines the interface for ingested posting data operations.
type JobPostingRepository interface {
	GetByID(ctx context.Context, id string) (*model.JobPosting, error)
	ListRecent(ctx context.Context, limit int) ([]model.JobPosting, error)
	CompaniesByIDs(ctx context.Context, ids []string) (map[string]string, error)
}

// JobMatchRepository defines the interface for per-run match score persistence.
type JobMatchRepository interface {
	CreateBatch(ctx context.Context, matches []model.JobMatch) error
	ListByRun(ctx context.Context, runID string) ([]model.JobMatch, error)
}

// QueueRecordRepository defines the interface for admission decision persistence.
type QueueRecordRepository interface {
	Create(ctx context.Context, rec *model.QueueRecord) (*model.QueueRecord, error)
	GetByID(ctx context.Context, id string) (*model.QueueRecord, error)
	GetByRunAndJob(ctx context.Context, runID, jobID string) (*model.QueueRecord, error)
	MarkSent(ctx context.Context, id string) error
	MarkSkipped(ctx context.Context, id string, reason model.SkipReason, detail string) error
	ListByRun(ctx context.Context, runID string) ([]model.QueueRecord, error)
	ListSkipped(ctx context.Context, opts model.SkippedListOptions) ([]model.QueueRecord, error)
	CountQueuedByRun(ctx context.Context, runID string) (int, error)
}

// ApplicationRepository defines the interface for application data operations.
type ApplicationRepository interface {
	Upsert(ctx context.Context, app *model.Application) (*model.Application, error)
	AppendTimeline(ctx context.Context, id string, entry model.TimelineEntry) error
	GetByID(ctx context.Context, id string) (*model.Application, error)
	GetByRunAndJob(ctx context.Context, runID, jobID string) (*model.Application, error)
	List(ctx context.Context, opts model.ApplicationsListOptions) ([]model.Application, error)
	SubmittedJobIDs(ctx context.Context, userID string) (map[string]bool, error)
	ListSubmittedSince(ctx context.Context, userID string, since time.Time) ([]model.Application, error)
	CountSubmittedSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// AuditLogRepository defines the interface for append-only audit trail operations.
type AuditLogRepository interface {
	Append(ctx context.Context, ev *model.LogEvent) (*model.LogEvent, error)
	Query(ctx context.Context, q model.LogQuery) ([]model.LogEvent, error)
}

// Sentinel errors for the policy contract. Defined here so core services can
// match them without depending on the data layer; the repositories alias them.
var (
	ErrUserIDRequired = errors.New("user_id is required")
	ErrPolicyNotFound = errors.New("apply policy not found")
)

// PolicyRepository defines the interface for per-user apply policy operations.
type PolicyRepository interface {
	GetByUser(ctx context.Context, userID string) (*model.ApplyPolicy, error)
	Upsert(ctx context.Context, policy *model.ApplyPolicy) (*model.ApplyPolicy, error)
	SetKillSwitch(ctx context.Context, userID string, on bool) error
}

// DeleteOldTasksParams holds parameters for deleting settled tasks by age.
type DeleteOldTasksParams struct {
	Status    model.TaskStatus
	MaxAge    time.Duration
	BatchSize int
}

// ReaperRepository defines the interface for queue cleanup operations.
type ReaperRepository interface {
	FailStalePendingTasks(ctx context.Context, maxAge time.Duration, batchSize int) (int64, error)
	DeleteOldTasks(ctx context.Context, params DeleteOldTasksParams) (int64, error)
}
