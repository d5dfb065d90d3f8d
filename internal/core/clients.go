package core

import (
	"context"

	"github.com/autoapply/autoapply/internal/domain/model"
)

// PersonalizeParams carries the inputs for generating application content.
type PersonalizeParams struct {
	Job       *model.JobPosting
	Pack      model.ArtifactPack
	Questions []string
}

// GroundingParams carries the inputs for the semantic grounding check.
type GroundingParams struct {
	Job             *model.JobPosting
	Pack            model.ArtifactPack
	Personalization *model.Personalization
}

// SkipExplanationParams carries the inputs for a human-readable skip note.
type SkipExplanationParams struct {
	Job    *model.JobPosting
	Reason model.SkipReason
	Detail string
}

// GenerationClient defines the interface for model-backed content generation.
// Each method maps to one structured generation contract; implementations
// constrain the response to a fixed JSON schema so callers never parse free
// text. Failures surface as errors and the callers decide whether the
// pipeline degrades or aborts.
type GenerationClient interface {
	// PersonalizeApplication generates grounded application content for one
	// job from the artifact pack.
	PersonalizeApplication(ctx context.Context, params PersonalizeParams) (*model.Personalization, error)

	// ValidateGrounding asks the model to judge whether generated content is
	// supported by the artifact pack.
	ValidateGrounding(ctx context.Context, params GroundingParams) (*model.GroundingVerdict, error)

	// ExplainSkip produces a one-sentence explanation of a skip decision.
	ExplainSkip(ctx context.Context, params SkipExplanationParams) (string, error)
}

// SubmissionRequest is one attempt to deliver an application to a job board.
type SubmissionRequest struct {
	Job               *model.JobPosting
	ResumeURL         string
	AnsweredQuestions []model.AnsweredQuestion
	IdempotencyKey    string
}

// SubmissionReceipt is the board's acknowledgement of a delivered application.
type SubmissionReceipt struct {
	Receipt     string `json:"receipt"`
	ConfirmedAt string `json:"confirmed_at,omitempty"`
}

// SubmissionClient defines the interface for delivering applications to
// external job boards. Implementations must be safe to call more than once
// with the same idempotency key.
type SubmissionClient interface {
	Submit(ctx context.Context, req SubmissionRequest) (*SubmissionReceipt, error)
}
