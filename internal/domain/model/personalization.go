package model

import "errors"

// EvidenceConfidence tags how strongly a piece of evidence supports a requirement.
type EvidenceConfidence string

const (
	// EvidenceStrong indicates direct profile support.
	EvidenceStrong EvidenceConfidence = "strong"
	// EvidenceMedium indicates partial or adjacent profile support.
	EvidenceMedium EvidenceConfidence = "medium"
	// EvidenceWeak indicates tenuous profile support.
	EvidenceWeak EvidenceConfidence = "weak"
)

// Valid returns true if the EvidenceConfidence is valid.
func (c EvidenceConfidence) Valid() bool {
	return c == EvidenceStrong || c == EvidenceMedium || c == EvidenceWeak
}

// RequirementEvidence maps one job requirement to grounded profile evidence.
type RequirementEvidence struct {
	Requirement string             `json:"requirement"`
	Evidence    string             `json:"evidence"`
	Confidence  EvidenceConfidence `json:"confidence"`
}

// ConfidenceCounts tallies evidence entries per confidence tag.
type ConfidenceCounts struct {
	Strong int `json:"strong"`
	Medium int `json:"medium"`
	Weak   int `json:"weak"`
}

// Total returns the sum across all confidence tags.
func (c ConfidenceCounts) Total() int {
	return c.Strong + c.Medium + c.Weak
}

// Personalization is the generated application content for one job, grounded
// in the artifact pack.
type Personalization struct {
	ResumeVariantUsed string                `json:"resume_variant_used"`
	EvidenceMap       []RequirementEvidence `json:"evidence_map"`
	ConfidenceLevels  ConfidenceCounts      `json:"confidence_levels"`
	AnsweredQuestions []AnsweredQuestion    `json:"answered_questions"`
}

// ErrNoJobTarget is returned when no job id is resolvable from the pipeline context.
var ErrNoJobTarget = errors.New("no job target resolvable from pipeline context")

// GroundingVerdict is the semantic judgment returned by the grounding model.
type GroundingVerdict struct {
	IsGrounded         bool     `json:"is_grounded"`
	HallucinationRisks []string `json:"hallucination_risks"`
	ConfidenceScore    int      `json:"confidence_score"`
	Reasoning          string   `json:"reasoning"`
}

// GroundingReport combines the deterministic and semantic validation layers.
// FinalScore is the minimum of the two scores; Passed requires the semantic
// verdict to be grounded, the deterministic score to clear its threshold, and
// an empty combined risk list.
type GroundingReport struct {
	DeterministicScore int      `json:"deterministic_score"`
	SemanticScore      int      `json:"semantic_score"`
	FinalScore         int      `json:"final_score"`
	Risks              []string `json:"risks"`
	Passed             bool     `json:"passed"`
}
