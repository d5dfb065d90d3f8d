package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/domain/model"
)

// PersonalizerServiceOptions contains options for creating a new PersonalizerService.
type PersonalizerServiceOptions struct {
	// Required: model-backed content generation.
	Generation core.GenerationClient

	// Optional: defaults to slog.Default.
	Logger *slog.Logger
}

// PersonalizerService produces grounded application content for one job from
// the artifact pack, and pins the generated output to a real resume variant.
type PersonalizerService struct {
	generation core.GenerationClient
	logger     *slog.Logger
}

// NewPersonalizerService creates a new PersonalizerService with the given options.
func NewPersonalizerService(opts PersonalizerServiceOptions) (*PersonalizerService, error) {
	if opts.Generation == nil {
		return nil, errors.New("generation client is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &PersonalizerService{
		generation: opts.Generation,
		logger:     logger.With("component", "personalizer_service"),
	}, nil
}

// MustNewPersonalizerService creates a new PersonalizerService and panics on error.
func MustNewPersonalizerService(opts PersonalizerServiceOptions) *PersonalizerService {
	svc, err := NewPersonalizerService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create personalizer service: %v", err)) //nolint:forbidigo
	}
	return svc
}

// Personalize generates application content for the job. The returned
// personalization always references a variant present in the pack, and its
// confidence tallies are recomputed from the evidence map rather than trusted
// from the model.
func (s *PersonalizerService) Personalize(
	ctx context.Context,
	job *model.JobPosting,
	pack model.ArtifactPack,
	questions []string,
) (*model.Personalization, error) {
	if job == nil {
		return nil, model.ErrNoJobTarget
	}

	p, err := s.generation.PersonalizeApplication(ctx, core.PersonalizeParams{
		Job:       job,
		Pack:      pack,
		Questions: questions,
	})
	if err != nil {
		return nil, fmt.Errorf("personalize application: %w", err)
	}
	if p == nil {
		return nil, errors.New("generation returned no personalization")
	}

	if !variantExists(pack, p.ResumeVariantUsed) {
		chosen := SelectResumeVariant(job, pack)
		if p.ResumeVariantUsed != "" {
			s.logger.WarnContext(ctx, "generated variant not in pack, reselecting",
				"job_id", job.ID, "generated", p.ResumeVariantUsed, "chosen", chosen)
		}
		p.ResumeVariantUsed = chosen
	}

	p.ConfidenceLevels = tallyConfidence(p.EvidenceMap)
	if p.AnsweredQuestions == nil {
		p.AnsweredQuestions = []model.AnsweredQuestion{}
	}
	return p, nil
}

// SelectResumeVariant picks the pack variant whose name appears in the job
// title or skills, case-insensitively. Falls back to the first variant, then
// to the empty name meaning the base resume.
func SelectResumeVariant(job *model.JobPosting, pack model.ArtifactPack) string {
	if len(pack.ResumeVariants) == 0 {
		return ""
	}
	if job != nil {
		title := strings.ToLower(job.Title)
		for _, variant := range pack.ResumeVariants {
			name := strings.ToLower(strings.TrimSpace(variant.Name))
			if name == "" {
				continue
			}
			if strings.Contains(title, name) {
				return variant.Name
			}
			for _, skill := range job.Skills {
				if strings.Contains(strings.ToLower(skill), name) {
					return variant.Name
				}
			}
		}
	}
	return pack.ResumeVariants[0].Name
}

// ResumeURLFor resolves the file URL for a variant name, falling back to the
// pack's base resume.
func ResumeURLFor(pack model.ArtifactPack, variantName string) string {
	for _, variant := range pack.ResumeVariants {
		if variant.Name == variantName && variant.URL != "" {
			return variant.URL
		}
	}
	return pack.BaseResumeURL
}

func variantExists(pack model.ArtifactPack, name string) bool {
	if name == "" {
		return false
	}
	for _, variant := range pack.ResumeVariants {
		if variant.Name == name {
			return true
		}
	}
	return false
}

func tallyConfidence(evidence []model.RequirementEvidence) model.ConfidenceCounts {
	var counts model.ConfidenceCounts
	for _, ev := range evidence {
		switch ev.Confidence {
		case model.EvidenceStrong:
			counts.Strong++
		case model.EvidenceMedium:
			counts.Medium++
		case model.EvidenceWeak:
			counts.Weak++
		}
	}
	return counts
}
