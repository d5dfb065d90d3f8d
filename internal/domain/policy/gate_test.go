package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoapply/autoapply/internal/domain/model"
)

func rankedJob(id, company, title string, score int) model.RankedJob {
	return model.RankedJob{
		Posting: model.JobPosting{ID: id, Company: company, Title: title},
		Match:   model.JobMatch{JobID: id, MatchScore: score},
	}
}

func TestGate_LowMatchScore(t *testing.T) {
	result := Gate(GateInput{
		Ranked: []model.RankedJob{rankedJob("job-1", "Initech", "Backend Engineer", 30)},
		Policy: model.ApplyPolicy{MinMatchScore: 40, MaxApplicationsPerDay: 10},
	})

	assert.Empty(t, result.Allowed)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, model.SkipReasonLowMatchScore, result.Skipped[0].SkipReason)
}

func TestGate_BlockedCompanySubstring(t *testing.T) {
	// Substring match applies regardless of score.
	result := Gate(GateInput{
		Ranked: []model.RankedJob{rankedJob("job-1", "Acme Corp", "Backend Engineer", 100)},
		Policy: model.ApplyPolicy{BlockedCompanies: []string{"Acme"}, MaxApplicationsPerDay: 10},
	})

	assert.Empty(t, result.Allowed)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, model.SkipReasonPolicyBlock, result.Skipped[0].SkipReason)
	assert.Contains(t, result.Skipped[0].SkipDetail, "company blocked")
}

func TestGate_BlockedRole(t *testing.T) {
	result := Gate(GateInput{
		Ranked: []model.RankedJob{rankedJob("job-1", "Initech", "Senior Sales Manager", 90)},
		Policy: model.ApplyPolicy{BlockedRoles: []string{"sales"}, MaxApplicationsPerDay: 10},
	})

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, model.SkipReasonPolicyBlock, result.Skipped[0].SkipReason)
	assert.Contains(t, result.Skipped[0].SkipDetail, "role blocked")
}

func TestGate_CompanyCooldown(t *testing.T) {
	until := time.Now().Add(48 * time.Hour)
	result := Gate(GateInput{
		Ranked:            []model.RankedJob{rankedJob("job-1", "Initech", "Backend Engineer", 90)},
		Policy:            model.ApplyPolicy{MaxApplicationsPerDay: 10},
		CooldownCompanies: map[string]time.Time{"initech": until},
	})

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, model.SkipReasonCompanyCooldown, result.Skipped[0].SkipReason)
	require.NotNil(t, result.Skipped[0].CooldownUntil)
	assert.Equal(t, until, *result.Skipped[0].CooldownUntil)
}

func TestGate_DailyCapAlreadyReached(t *testing.T) {
	// Cap already consumed before this run skips even a perfect match.
	result := Gate(GateInput{
		Ranked:            []model.RankedJob{rankedJob("job-1", "Initech", "Backend Engineer", 100)},
		Policy:            model.ApplyPolicy{MaxApplicationsPerDay: 1},
		AppliedCountToday: 1,
	})

	assert.Empty(t, result.Allowed)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, model.SkipReasonPolicyBlock, result.Skipped[0].SkipReason)
	assert.Equal(t, "max applications reached", result.Skipped[0].SkipDetail)
}

func TestGate_DailyCapTruncatesRankedTail(t *testing.T) {
	result := Gate(GateInput{
		Ranked: []model.RankedJob{
			rankedJob("job-1", "Initech", "Backend Engineer", 90),
			rankedJob("job-2", "Globex", "Platform Engineer", 80),
			rankedJob("job-3", "Hooli", "Infra Engineer", 70),
		},
		Policy: model.ApplyPolicy{MaxApplicationsPerDay: 2},
	})

	require.Len(t, result.Allowed, 2)
	assert.Equal(t, "job-1", result.Allowed[0].Posting.ID)
	assert.Equal(t, "job-2", result.Allowed[1].Posting.ID)

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, "job-3", result.Skipped[0].JobID)
	assert.Equal(t, "max applications reached", result.Skipped[0].SkipDetail)
}

func TestGate_CheckOrderFixed(t *testing.T) {
	// A job failing several checks reports the first one: score before company block.
	result := Gate(GateInput{
		Ranked: []model.RankedJob{rankedJob("job-1", "Acme Corp", "Backend Engineer", 10)},
		Policy: model.ApplyPolicy{
			MinMatchScore:         40,
			BlockedCompanies:      []string{"Acme"},
			MaxApplicationsPerDay: 10,
		},
	})

	require.Len(t, result.Skipped, 1)
	assert.Equal(t, model.SkipReasonLowMatchScore, result.Skipped[0].SkipReason)
}

func TestGate_AllowedInRankedOrder(t *testing.T) {
	result := Gate(GateInput{
		Ranked: []model.RankedJob{
			rankedJob("job-1", "Initech", "Backend Engineer", 95),
			rankedJob("job-2", "Globex", "Platform Engineer", 85),
		},
		Policy: model.ApplyPolicy{MaxApplicationsPerDay: 10},
	})

	require.Len(t, result.Allowed, 2)
	assert.Equal(t, "job-1", result.Allowed[0].Posting.ID)
	assert.Equal(t, "job-2", result.Allowed[1].Posting.ID)
	assert.Empty(t, result.Skipped)
}

func TestCooldownSet(t *testing.T) {
	now := time.Now()
	applications := []model.Application{
		{JobID: "job-recent", CreatedAt: now.Add(-24 * time.Hour)},
		{JobID: "job-old", CreatedAt: now.Add(-90 * 24 * time.Hour)},
		{JobID: "job-unknown", CreatedAt: now},
	}
	companies := map[string]string{
		"job-recent": "Initech",
		"job-old":    "Globex",
	}

	set := CooldownSet(applications, companies, 30, now)

	require.Contains(t, set, "initech")
	assert.NotContains(t, set, "globex")
	assert.WithinDuration(t, now.Add(29*24*time.Hour), set["initech"], time.Minute)
}

func TestCooldownSet_DisabledWindow(t *testing.T) {
	set := CooldownSet([]model.Application{{JobID: "job-1", CreatedAt: time.Now()}},
		map[string]string{"job-1": "Initech"}, 0, time.Now())
	assert.Empty(t, set)
}
