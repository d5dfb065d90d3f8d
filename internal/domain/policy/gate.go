// Package policy implements admission control over ranked job matches.
package policy

import (
	"strings"
	"time"

	"github.com/autoapply/autoapply/internal/domain/model"
)

// Decision is the gate's verdict for one job.
type Decision struct {
	JobID         string
	Allowed       bool
	SkipReason    model.SkipReason
	SkipDetail    string
	CooldownUntil *time.Time
}

// GateInput carries everything the gate needs to partition a ranked list.
type GateInput struct {
	Ranked            []model.RankedJob
	Policy            model.ApplyPolicy
	AppliedCountToday int
	// CooldownCompanies maps lower-cased company names to the time their
	// cooldown expires. Cooldown applies company-wide, not per posting.
	CooldownCompanies map[string]time.Time
}

// GateResult partitions the ranked list into allowed jobs, in ranked order,
// and skipped jobs with a reason each.
type GateResult struct {
	Allowed []model.RankedJob
	Skipped []Decision
}

// Gate evaluates each ranked job against the policy in a fixed order, first
// match wins: score threshold, blocked company, blocked role, company
// cooldown, then the daily cap. Jobs passing every check are allowed in
// ranked order until the cap truncates the remainder.
func Gate(in GateInput) GateResult {
	var result GateResult
	allowedThisRun := 0

	for _, job := range in.Ranked {
		decision := evaluate(job, in, allowedThisRun)
		if decision.Allowed {
			allowedThisRun++
			result.Allowed = append(result.Allowed, job)
			continue
		}
		result.Skipped = append(result.Skipped, decision)
	}
	return result
}

func evaluate(job model.RankedJob, in GateInput, allowedThisRun int) Decision {
	d := Decision{JobID: job.Posting.ID}

	if job.Match.MatchScore < in.Policy.MinMatchScore {
		d.SkipReason = model.SkipReasonLowMatchScore
		d.SkipDetail = "match score below threshold"
		return d
	}
	if blocked := containsAny(job.Posting.Company, in.Policy.BlockedCompanies); blocked != "" {
		d.SkipReason = model.SkipReasonPolicyBlock
		d.SkipDetail = "company blocked: " + blocked
		return d
	}
	if blocked := containsAny(job.Posting.Title, in.Policy.BlockedRoles); blocked != "" {
		d.SkipReason = model.SkipReasonPolicyBlock
		d.SkipDetail = "role blocked: " + blocked
		return d
	}
	if until, ok := in.CooldownCompanies[strings.ToLower(strings.TrimSpace(job.Posting.Company))]; ok {
		d.SkipReason = model.SkipReasonCompanyCooldown
		d.SkipDetail = "company in cooldown"
		d.CooldownUntil = &until
		return d
	}
	if in.Policy.MaxApplicationsPerDay > 0 && in.AppliedCountToday+allowedThisRun >= in.Policy.MaxApplicationsPerDay {
		d.SkipReason = model.SkipReasonPolicyBlock
		d.SkipDetail = "max applications reached"
		return d
	}

	d.Allowed = true
	return d
}

// containsAny returns the first needle contained in value, case-insensitive,
// or empty string when none match.
func containsAny(value string, needles []string) string {
	v := strings.ToLower(value)
	for _, needle := range needles {
		n := strings.ToLower(strings.TrimSpace(needle))
		if n == "" {
			continue
		}
		if strings.Contains(v, n) {
			return needle
		}
	}
	return ""
}

// CooldownSet builds the lower-cased company cooldown map from prior
// applications. An application to a company within cooldownDays of now keeps
// that company in cooldown until its application time plus the window.
func CooldownSet(applications []model.Application, companies map[string]string, cooldownDays int, now time.Time) map[string]time.Time {
	set := make(map[string]time.Time)
	if cooldownDays <= 0 {
		return set
	}
	window := time.Duration(cooldownDays) * 24 * time.Hour
	cutoff := now.Add(-window)
	for _, app := range applications {
		company, ok := companies[app.JobID]
		if !ok {
			continue
		}
		if app.CreatedAt.Before(cutoff) {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(company))
		until := app.CreatedAt.Add(window)
		if existing, ok := set[key]; !ok || until.After(existing) {
			set[key] = until
		}
	}
	return set
}
