package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/domain/model"
)

// JMESPathEvaluator abstracts JMESPath operations for testability.
type JMESPathEvaluator interface {
	Validate(expr string) error
	Evaluate(expr string, data any) (any, error)
}

// jmespathLibEvaluator implements JMESPathEvaluator using go-jmespath.
type jmespathLibEvaluator struct{}

func (j jmespathLibEvaluator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := jmespath.Compile(expr)
	return err
}

func (j jmespathLibEvaluator) Evaluate(expr string, data any) (any, error) {
	return jmespath.Search(expr, data)
}

// AuditServiceOptions groups dependencies for AuditService.
type AuditServiceOptions struct {
	Repo      core.AuditLogRepository // Required: audit log repository
	Logger    *slog.Logger            // Optional: structured logger
	Evaluator JMESPathEvaluator       // Optional: override expression evaluator
}

// AuditService records pipeline stage transitions and serves audit queries.
// Writes are best-effort: a failed append is logged and swallowed so the
// pipeline never aborts because the audit trail is unavailable.
type AuditService struct {
	repo   core.AuditLogRepository
	logger *slog.Logger
	jems   JMESPathEvaluator
}

// NewAuditService constructs a new AuditService.
func NewAuditService(opts AuditServiceOptions) (*AuditService, error) {
	if opts.Repo == nil {
		return nil, errors.New("AuditLogRepository is required")
	}

	jems := opts.Evaluator
	if jems == nil {
		jems = jmespathLibEvaluator{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "audit_service")
	}

	return &AuditService{
		repo:   opts.Repo,
		logger: logger,
		jems:   jems,
	}, nil
}

// MustNewAuditService constructs a new AuditService and panics on error.
func MustNewAuditService(opts AuditServiceOptions) *AuditService {
	svc, err := NewAuditService(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create AuditService: %v", err))
	}
	return svc
}

// EventParams describes one audit event to record.
type EventParams struct {
	RunID    string
	UserID   string
	JobID    string
	Stage    string
	Level    model.LogLevel
	Message  string
	Metadata map[string]any
}

// Event appends one audit record. Failures are logged and swallowed.
func (s *AuditService) Event(ctx context.Context, params EventParams) {
	level := params.Level
	if level == "" {
		level = model.LogLevelInfo
	}

	event := &model.LogEvent{
		RunID:   params.RunID,
		UserID:  params.UserID,
		Stage:   params.Stage,
		Level:   level,
		Message: params.Message,
	}
	if params.JobID != "" {
		jobID := params.JobID
		event.JobID = &jobID
	}
	if len(params.Metadata) > 0 {
		encoded, err := json.Marshal(params.Metadata)
		if err != nil {
			if s.logger != nil {
				s.logger.WarnContext(ctx, "failed to encode audit metadata",
					"run_id", params.RunID,
					"stage", params.Stage,
					"error", err,
				)
			}
		} else {
			event.Metadata = encoded
		}
	}

	if _, err := s.repo.Append(ctx, event); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "failed to append audit event",
				"run_id", params.RunID,
				"stage", params.Stage,
				"level", level,
				"error", err,
			)
		}
	}
}

// Info appends an info-level audit record.
func (s *AuditService) Info(ctx context.Context, params EventParams) {
	params.Level = model.LogLevelInfo
	s.Event(ctx, params)
}

// Warn appends a warn-level audit record.
func (s *AuditService) Warn(ctx context.Context, params EventParams) {
	params.Level = model.LogLevelWarn
	s.Event(ctx, params)
}

// Error appends an error-level audit record.
func (s *AuditService) Error(ctx context.Context, params EventParams) {
	params.Level = model.LogLevelError
	s.Event(ctx, params)
}

// Query returns audit events matching the query. The indexed filters are
// pushed down to the repository; the optional JMESPath expression is applied
// here against each event's metadata.
func (s *AuditService) Query(ctx context.Context, query model.LogQuery) ([]model.LogEvent, error) {
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("validate log query: %w", err)
	}

	expr := strings.TrimSpace(query.Expression)
	if expr != "" {
		if err := s.jems.Validate(expr); err != nil {
			return nil, fmt.Errorf("invalid metadata expression: %w", err)
		}
	}

	p := normalizePagination(query.Limit, query.Offset)
	query.Limit = p.Limit
	query.Offset = p.Offset

	events, err := s.repo.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}

	if expr == "" {
		return events, nil
	}

	filtered := make([]model.LogEvent, 0, len(events))
	for _, event := range events {
		match, err := s.metadataMatches(expr, event.Metadata)
		if err != nil {
			if s.logger != nil {
				s.logger.DebugContext(ctx, "metadata expression evaluation failed",
					"event_id", event.ID,
					"error", err,
				)
			}
			continue
		}
		if match {
			filtered = append(filtered, event)
		}
	}
	return filtered, nil
}

// metadataMatches evaluates the expression against one metadata document
// using JMESPath truthiness (null, false, and empty values do not match).
func (s *AuditService) metadataMatches(expr string, metadata json.RawMessage) (bool, error) {
	var data any
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &data); err != nil {
			return false, fmt.Errorf("decode metadata: %w", err)
		}
	}

	result, err := s.jems.Evaluate(expr, data)
	if err != nil {
		return false, err
	}

	switch v := result.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		return v != "", nil
	case []any:
		return len(v) > 0, nil
	case map[string]any:
		return len(v) > 0, nil
	default:
		return true, nil
	}
}
