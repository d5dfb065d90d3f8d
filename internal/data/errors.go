package data

import (
	"errors"

	"github.com/autoapply/autoapply/internal/core"
)

// Shared sentinel errors for data-layer repositories.
var (
	// Run repository sentinels.
	ErrRunNotFound   = errors.New("run not found")
	ErrRunIDRequired = errors.New("run_id is required")

	// User-scoped repository sentinels. Aliased from core so the policy cache
	// service can match them without importing this package.
	ErrUserIDRequired = core.ErrUserIDRequired

	// Application repository sentinels.
	ErrApplicationNotFound = errors.New("application not found")

	// Job posting repository sentinels.
	ErrJobPostingNotFound = errors.New("job posting not found")

	// Queue record repository sentinels.
	ErrQueueRecordNotFound = errors.New("queue record not found")

	// Policy repository sentinels.
	ErrPolicyNotFound = core.ErrPolicyNotFound
)
