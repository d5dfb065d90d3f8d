// Package matching scores and ranks job postings against a candidate profile.
// Scoring is deterministic: the same profile, posting, and policy always yield
// the same score.
package matching

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/autoapply/autoapply/internal/domain/model"
)

// Sub-score weights and caps.
const (
	skillWeight      = 0.5
	experienceWeight = 0.3
	constraintWeight = 0.2

	neutralSkillScore = 50

	educationPoints  = 15
	educationCap     = 40
	experiencePoints = 20
	experienceCap    = 60

	remotePenalty   = 50
	locationPenalty = 30
)

// Subscores holds the weighted components of a match score.
type Subscores struct {
	SkillOverlap  int
	ExperienceFit int
	ConstraintFit int
}

// SkillOverlap returns the percentage of job-required skills found in the
// profile. Matching is case-insensitive substring containment in either
// direction. A posting with no listed skills scores neutral.
func SkillOverlap(profileSkills, jobSkills []string) int {
	if len(jobSkills) == 0 {
		return neutralSkillScore
	}
	matched := 0
	for _, required := range jobSkills {
		if matchesAny(required, profileSkills) {
			matched++
		}
	}
	return int(math.Round(100 * float64(matched) / float64(len(jobSkills))))
}

// ExperienceFit scores the depth of the profile: education entries and
// experience entries, each capped, summed and limited to 100.
func ExperienceFit(profile model.StudentProfile) int {
	edu := len(profile.Education) * educationPoints
	if edu > educationCap {
		edu = educationCap
	}
	exp := len(profile.Experience) * experiencePoints
	if exp > experienceCap {
		exp = experienceCap
	}
	total := edu + exp
	if total > 100 {
		total = 100
	}
	return total
}

// ConstraintFit starts at 100 and subtracts penalties for policy mismatches.
// Remote postings are never penalized for location.
func ConstraintFit(posting model.JobPosting, policy model.ApplyPolicy) int {
	score := 100
	if policy.RemoteOnly && !posting.IsRemote {
		score -= remotePenalty
	}
	if len(policy.AllowedLocations) > 0 && !posting.IsRemote && !matchesAny(posting.Location, policy.AllowedLocations) {
		score -= locationPenalty
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Score computes the weighted sub-scores and combined match score for one posting.
func Score(profile model.StudentProfile, posting model.JobPosting, policy model.ApplyPolicy) (int, Subscores) {
	sub := Subscores{
		SkillOverlap:  SkillOverlap(profile.Skills, posting.Skills),
		ExperienceFit: ExperienceFit(profile),
		ConstraintFit: ConstraintFit(posting, policy),
	}
	combined := skillWeight*float64(sub.SkillOverlap) +
		experienceWeight*float64(sub.ExperienceFit) +
		constraintWeight*float64(sub.ConstraintFit)
	return int(math.Round(combined)), sub
}

// Rank scores the given postings against the profile and returns them in
// descending match-score order, ties broken by posting recency. Postings whose
// id appears in appliedJobIDs are dropped before scoring.
func Rank(runID string, profile model.StudentProfile, postings []model.JobPosting, policy model.ApplyPolicy, appliedJobIDs map[string]bool) []model.RankedJob {
	ranked := make([]model.RankedJob, 0, len(postings))
	for _, posting := range postings {
		if appliedJobIDs[posting.ID] {
			continue
		}
		score, sub := Score(profile, posting, policy)
		ranked = append(ranked, model.RankedJob{
			Posting: posting,
			Match: model.JobMatch{
				RunID:              runID,
				JobID:              posting.ID,
				MatchScore:         score,
				SkillOverlapScore:  sub.SkillOverlap,
				ExperienceFitScore: sub.ExperienceFit,
				ConstraintFitScore: sub.ConstraintFit,
				RankingReason:      rankingReason(score, sub),
			},
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Match.MatchScore != ranked[j].Match.MatchScore {
			return ranked[i].Match.MatchScore > ranked[j].Match.MatchScore
		}
		return ranked[i].Posting.CreatedAt.After(ranked[j].Posting.CreatedAt)
	})
	return ranked
}

func rankingReason(score int, sub Subscores) string {
	return fmt.Sprintf("score %d (skills %d, experience %d, constraints %d)",
		score, sub.SkillOverlap, sub.ExperienceFit, sub.ConstraintFit)
}

// matchesAny reports whether value fuzzily matches any candidate. Both sides
// are lower-cased and trimmed; containment in either direction counts.
func matchesAny(value string, candidates []string) bool {
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
