// Package grounding validates generated application content against the
// artifact pack before anything irreversible happens. The deterministic layer
// here runs without any model call; the semantic layer is delegated to an
// external grounding model and combined by Evaluate.
package grounding

import (
	"fmt"
	"strings"

	"github.com/autoapply/autoapply/internal/domain/model"
)

// Scoring thresholds and penalties for the deterministic layer.
const (
	// PassThreshold is the minimum deterministic score required to proceed.
	PassThreshold = 60

	unverifiedSkillPenalty    = 10
	ungroundedEvidencePenalty = 5
	weakMajorityPenalty       = 15
)

// techKeywords is the lexicon scanned for technology claims in generated
// text. A keyword appearing in evidence or answers without fuzzy support in
// the profile skills is flagged as a hallucination risk.
var techKeywords = []string{
	"kubernetes", "docker", "terraform", "ansible", "aws", "gcp", "azure",
	"postgresql", "postgres", "mysql", "mongodb", "redis", "kafka", "rabbitmq",
	"elasticsearch", "graphql", "grpc", "react", "angular", "vue", "node.js",
	"typescript", "javascript", "python", "java", "golang", "rust", "scala",
	"c++", "c#", "ruby", "swift", "kotlin", "spark", "hadoop", "airflow",
	"tensorflow", "pytorch", "linux", "git", "jenkins", "prometheus", "grafana",
}

// DeterministicResult is the outcome of the rule-based validation layer.
type DeterministicResult struct {
	Score int
	Risks []string
}

// CheckDeterministic scans the personalization for technology claims not
// supported by the profile and evidence not traceable to the bullet bank.
// The score starts at 100 and each finding subtracts a fixed penalty.
func CheckDeterministic(p model.Personalization, pack model.ArtifactPack) DeterministicResult {
	result := DeterministicResult{Score: 100}

	texts := make([]string, 0, len(p.EvidenceMap)+len(p.AnsweredQuestions))
	for _, ev := range p.EvidenceMap {
		texts = append(texts, ev.Evidence)
	}
	for _, qa := range p.AnsweredQuestions {
		texts = append(texts, qa.Answer)
	}

	for _, keyword := range claimedKeywords(texts) {
		if !fuzzyContainsAny(keyword, pack.Profile.Skills) {
			result.Score -= unverifiedSkillPenalty
			result.Risks = append(result.Risks,
				fmt.Sprintf("claimed skill %q not found in profile", keyword))
		}
	}

	for _, ev := range p.EvidenceMap {
		if strings.TrimSpace(ev.Evidence) == "" {
			continue
		}
		if !fuzzyContainsAny(ev.Evidence, pack.BulletBank) {
			result.Score -= ungroundedEvidencePenalty
			result.Risks = append(result.Risks,
				fmt.Sprintf("evidence for %q not traceable to bullet bank", ev.Requirement))
		}
	}

	if total := p.ConfidenceLevels.Total(); total > 0 && p.ConfidenceLevels.Weak*2 > total {
		result.Score -= weakMajorityPenalty
		result.Risks = append(result.Risks, "weak-confidence evidence exceeds half of all mappings")
	}

	if result.Score < 0 {
		result.Score = 0
	}
	return result
}

// Evaluate combines the deterministic result with the semantic verdict. The
// final score is the lower of the two; passing requires the semantic verdict
// to be grounded, the deterministic score to clear the threshold, and no risks
// from either layer.
func Evaluate(det DeterministicResult, verdict model.GroundingVerdict) model.GroundingReport {
	risks := make([]string, 0, len(det.Risks)+len(verdict.HallucinationRisks))
	risks = append(risks, det.Risks...)
	risks = append(risks, verdict.HallucinationRisks...)

	final := det.Score
	if verdict.ConfidenceScore < final {
		final = verdict.ConfidenceScore
	}

	return model.GroundingReport{
		DeterministicScore: det.Score,
		SemanticScore:      verdict.ConfidenceScore,
		FinalScore:         final,
		Risks:              risks,
		Passed:             verdict.IsGrounded && det.Score >= PassThreshold && len(risks) == 0,
	}
}

// claimedKeywords returns the lexicon keywords present in any of the texts,
// deduplicated, in lexicon order.
func claimedKeywords(texts []string) []string {
	var claimed []string
	seen := make(map[string]bool)
	for _, keyword := range techKeywords {
		if seen[keyword] {
			continue
		}
		for _, text := range texts {
			if strings.Contains(strings.ToLower(text), keyword) {
				claimed = append(claimed, keyword)
				seen[keyword] = true
				break
			}
		}
	}
	return claimed
}

// fuzzyContainsAny reports whether value is fuzzily present in any candidate:
// case-insensitive containment in either direction.
func fuzzyContainsAny(value string, candidates []string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return false
	}
	for _, candidate := range candidates {
		c := strings.ToLower(strings.TrimSpace(candidate))
		if c == "" {
			continue
		}
		if strings.Contains(v, c) || strings.Contains(c, v) {
			return true
		}
	}
	return false
}
