package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoapply/autoapply/internal/domain/model"
)

func TestGroundingValidatePasses(t *testing.T) {
	svc := MustNewGroundingService(GroundingServiceOptions{
		Generation: &stubGenerationClient{
			verdict: &model.GroundingVerdict{IsGrounded: true, ConfidenceScore: 85},
		},
	})

	job := &model.JobPosting{ID: "job-1", Title: "Backend Engineer"}
	report, err := svc.Validate(context.Background(), job, groundedPack(), groundedPersonalization())
	require.NoError(t, err)

	assert.True(t, report.Passed)
	assert.Equal(t, 100, report.DeterministicScore)
	assert.Equal(t, 85, report.SemanticScore)
	assert.Equal(t, 85, report.FinalScore)
	assert.Empty(t, report.Risks)
}

func TestGroundingValidateFailsOnSemanticVerdict(t *testing.T) {
	svc := MustNewGroundingService(GroundingServiceOptions{
		Generation: &stubGenerationClient{
			verdict: &model.GroundingVerdict{
				IsGrounded:         false,
				ConfidenceScore:    30,
				HallucinationRisks: []string{"invented a phd"},
			},
		},
	})

	job := &model.JobPosting{ID: "job-1", Title: "Backend Engineer"}
	report, err := svc.Validate(context.Background(), job, groundedPack(), groundedPersonalization())
	require.NoError(t, err)

	assert.False(t, report.Passed)
	assert.Equal(t, 30, report.FinalScore)
	assert.Contains(t, report.Risks, "invented a phd")
}

func TestGroundingValidateFailsOnDeterministicRisks(t *testing.T) {
	p := groundedPersonalization()
	p.EvidenceMap = append(p.EvidenceMap, model.RequirementEvidence{
		Requirement: "orchestration",
		Evidence:    "ran kubernetes clusters in production",
		Confidence:  model.EvidenceStrong,
	})
	svc := MustNewGroundingService(GroundingServiceOptions{
		Generation: &stubGenerationClient{
			verdict: &model.GroundingVerdict{IsGrounded: true, ConfidenceScore: 95},
		},
	})

	job := &model.JobPosting{ID: "job-1", Title: "Backend Engineer"}
	report, err := svc.Validate(context.Background(), job, groundedPack(), p)
	require.NoError(t, err)

	// The profile never mentions kubernetes, so the claim is a risk even
	// though the semantic verdict was clean.
	assert.False(t, report.Passed)
	assert.NotEmpty(t, report.Risks)
	assert.Less(t, report.DeterministicScore, 100)
}

func TestGroundingValidatePropagatesModelError(t *testing.T) {
	boom := errors.New("model timeout")
	svc := MustNewGroundingService(GroundingServiceOptions{
		Generation: &stubGenerationClient{verdictErr: boom},
	})

	job := &model.JobPosting{ID: "job-1", Title: "Backend Engineer"}
	_, err := svc.Validate(context.Background(), job, groundedPack(), groundedPersonalization())
	require.ErrorIs(t, err, boom)
}

func TestGroundingValidateRequiresPersonalization(t *testing.T) {
	svc := MustNewGroundingService(GroundingServiceOptions{Generation: &stubGenerationClient{}})

	_, err := svc.Validate(context.Background(), nil, groundedPack(), nil)
	require.Error(t, err)
}
