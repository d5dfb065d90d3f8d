package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/domain/grounding"
	"github.com/autoapply/autoapply/internal/domain/model"
)

// GroundingServiceOptions contains options for creating a new GroundingService.
type GroundingServiceOptions struct {
	// Required: the semantic validation model.
	Generation core.GenerationClient

	// Optional: defaults to slog.Default.
	Logger *slog.Logger
}

// GroundingService validates generated content against the artifact pack in
// two layers: a deterministic lexical check and a semantic model judgment.
type GroundingService struct {
	generation core.GenerationClient
	logger     *slog.Logger
}

// NewGroundingService creates a new GroundingService with the given options.
func NewGroundingService(opts GroundingServiceOptions) (*GroundingService, error) {
	if opts.Generation == nil {
		return nil, errors.New("generation client is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &GroundingService{
		generation: opts.Generation,
		logger:     logger.With("component", "grounding_service"),
	}, nil
}

// MustNewGroundingService creates a new GroundingService and panics on error.
func MustNewGroundingService(opts GroundingServiceOptions) *GroundingService {
	svc, err := NewGroundingService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create grounding service: %v", err)) //nolint:forbidigo
	}
	return svc
}

// Validate runs both validation layers and combines them into one report.
// The deterministic layer runs first and costs no model call; the semantic
// verdict is always requested so the report carries both scores.
func (s *GroundingService) Validate(
	ctx context.Context,
	job *model.JobPosting,
	pack model.ArtifactPack,
	p *model.Personalization,
) (model.GroundingReport, error) {
	if p == nil {
		return model.GroundingReport{}, errors.New("personalization is required")
	}

	det := grounding.CheckDeterministic(*p, pack)

	verdict, err := s.generation.ValidateGrounding(ctx, core.GroundingParams{
		Job:             job,
		Pack:            pack,
		Personalization: p,
	})
	if err != nil {
		return model.GroundingReport{}, fmt.Errorf("semantic grounding check: %w", err)
	}
	if verdict == nil {
		return model.GroundingReport{}, errors.New("generation returned no grounding verdict")
	}

	report := grounding.Evaluate(det, *verdict)
	if !report.Passed {
		s.logger.WarnContext(ctx, "grounding validation rejected content",
			"deterministic_score", report.DeterministicScore,
			"semantic_score", report.SemanticScore,
			"risk_count", len(report.Risks))
	}
	return report, nil
}
