// Package core provides the business logic and service layer for the autoapply pipeline.
package core

import (
	"github.com/autoapply/autoapply/internal/domain/model"
)

// TaskType represents the type of task to be executed (re-exported from the model package).
// This is re-exported here for use in HTTP handlers to avoid direct coupling to the model package.
type TaskType = model.TaskType

// CreateTaskRequest represents a request to create a new task (re-exported from the model package).
// This is re-exported here for use in HTTP handlers to avoid direct coupling to the model package.
type CreateTaskRequest = model.CreateTaskRequest
