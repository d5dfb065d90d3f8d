package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/autoapply/autoapply/internal/core"
	"github.com/autoapply/autoapply/internal/domain/model"
)

// ArtifactServiceOptions groups dependencies for ArtifactService.
type ArtifactServiceOptions struct {
	Resumes core.ResumeRepository // Required: resume repository
	Logger  *slog.Logger          // Optional: structured logger
}

// ArtifactService builds artifact packs from stored resume records. Read-only;
// each pack is built fresh for the run that asked for it.
type ArtifactService struct {
	resumes core.ResumeRepository
	logger  *slog.Logger
}

// NewArtifactService constructs a new ArtifactService.
func NewArtifactService(opts ArtifactServiceOptions) (*ArtifactService, error) {
	if opts.Resumes == nil {
		return nil, errors.New("ResumeRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "artifact_service")
	}

	return &ArtifactService{
		resumes: opts.Resumes,
		logger:  logger,
	}, nil
}

// MustNewArtifactService constructs a new ArtifactService and panics on error.
func MustNewArtifactService(opts ArtifactServiceOptions) *ArtifactService {
	svc, err := NewArtifactService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create ArtifactService: %v", err)) //nolint:forbidigo
	}
	return svc
}

// LoadPack builds the artifact pack for a user from their stored resumes.
// Resumes are merged in stored order; the primary resume is the first one.
// Returns model.ErrProfileIncomplete when no usable profile content exists
// and model.ErrNoResumeFile when no resume carries a retrievable file URL.
func (s *ArtifactService) LoadPack(ctx context.Context, userID string) (model.ArtifactPack, error) {
	if userID == "" {
		return model.ArtifactPack{}, errors.New("user id is required")
	}

	resumes, err := s.resumes.ListByUser(ctx, userID)
	if err != nil {
		return model.ArtifactPack{}, fmt.Errorf("load resumes for user %s: %w", userID, err)
	}
	if len(resumes) == 0 {
		return model.ArtifactPack{}, model.ErrProfileIncomplete
	}

	pack := model.ArtifactPack{UserID: userID}
	seenBullets := map[string]bool{}
	seenProofs := map[string]bool{}
	seenVariants := map[string]bool{}
	for _, resume := range resumes {
		pack.Profile.Education = append(pack.Profile.Education, resume.Education...)
		pack.Profile.Skills = append(pack.Profile.Skills, resume.Skills...)
		pack.Profile.Projects = append(pack.Profile.Projects, resume.Projects...)
		pack.Profile.Experience = append(pack.Profile.Experience, resume.Experience...)
		pack.Profile.Links = append(pack.Profile.Links, resume.Links...)

		for _, bullet := range resume.Bullets {
			if bullet == "" || seenBullets[bullet] {
				continue
			}
			seenBullets[bullet] = true
			pack.BulletBank = append(pack.BulletBank, bullet)
		}
		for _, link := range resume.ProofLinks {
			if link == "" || seenProofs[link] {
				continue
			}
			seenProofs[link] = true
			pack.ProofLinks = append(pack.ProofLinks, link)
		}
		for _, variant := range resume.Variants {
			if variant.Name == "" || seenVariants[variant.Name] {
				continue
			}
			seenVariants[variant.Name] = true
			pack.ResumeVariants = append(pack.ResumeVariants, variant)
		}

		if pack.BaseResumeURL == "" && resume.FileURL != nil && *resume.FileURL != "" {
			pack.BaseResumeURL = *resume.FileURL
		}
	}

	if pack.Profile.Empty() {
		return model.ArtifactPack{}, model.ErrProfileIncomplete
	}
	if pack.BaseResumeURL == "" {
		return model.ArtifactPack{}, model.ErrNoResumeFile
	}

	if s.logger != nil {
		s.logger.DebugContext(ctx, "artifact pack built",
			"user_id", userID,
			"resumes", len(resumes),
			"skills", len(pack.Profile.Skills),
			"variants", len(pack.ResumeVariants),
		)
	}

	return pack, nil
}
