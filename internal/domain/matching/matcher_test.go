package matching

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoapply/autoapply/internal/domain/model"
)

func TestSkillOverlap(t *testing.T) {
	tests := []struct {
		name          string
		profileSkills []string
		jobSkills     []string
		want          int
	}{
		{
			name:          "all skills matched",
			profileSkills: []string{"Go", "PostgreSQL", "Redis"},
			jobSkills:     []string{"Go", "PostgreSQL"},
			want:          100,
		},
		{
			name:          "half matched",
			profileSkills: []string{"Go"},
			jobSkills:     []string{"Go", "Rust"},
			want:          50,
		},
		{
			name:          "case-insensitive substring match",
			profileSkills: []string{"golang"},
			jobSkills:     []string{"Go"},
			want:          100,
		},
		{
			name:          "no skills listed on posting is neutral",
			profileSkills: []string{"Go"},
			jobSkills:     nil,
			want:          50,
		},
		{
			name:          "nothing matched",
			profileSkills: []string{"Python"},
			jobSkills:     []string{"Rust", "C++"},
			want:          0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SkillOverlap(tt.profileSkills, tt.jobSkills))
		})
	}
}

func TestExperienceFit(t *testing.T) {
	tests := []struct {
		name    string
		profile model.StudentProfile
		want    int
	}{
		{
			name:    "empty profile",
			profile: model.StudentProfile{},
			want:    0,
		},
		{
			name: "one education one experience",
			profile: model.StudentProfile{
				Education:  []string{"BS Computer Science"},
				Experience: []string{"Backend intern"},
			},
			want: 35,
		},
		{
			name: "education capped at 40",
			profile: model.StudentProfile{
				Education: []string{"a", "b", "c", "d", "e"},
			},
			want: 40,
		},
		{
			name: "experience capped at 60",
			profile: model.StudentProfile{
				Experience: []string{"a", "b", "c", "d", "e"},
			},
			want: 60,
		},
		{
			name: "combined capped at 100",
			profile: model.StudentProfile{
				Education:  []string{"a", "b", "c"},
				Experience: []string{"a", "b", "c", "d"},
			},
			want: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExperienceFit(tt.profile))
		})
	}
}

func TestConstraintFit(t *testing.T) {
	tests := []struct {
		name    string
		posting model.JobPosting
		policy  model.ApplyPolicy
		want    int
	}{
		{
			name:    "no constraints",
			posting: model.JobPosting{Location: "Austin"},
			policy:  model.ApplyPolicy{},
			want:    100,
		},
		{
			name:    "remote required but posting is onsite",
			posting: model.JobPosting{Location: "Austin"},
			policy:  model.ApplyPolicy{RemoteOnly: true},
			want:    50,
		},
		{
			name:    "remote posting never penalized",
			posting: model.JobPosting{Location: "Austin", IsRemote: true},
			policy:  model.ApplyPolicy{RemoteOnly: true, AllowedLocations: []string{"Seattle"}},
			want:    100,
		},
		{
			name:    "location outside allow-list",
			posting: model.JobPosting{Location: "Austin"},
			policy:  model.ApplyPolicy{AllowedLocations: []string{"Seattle", "Portland"}},
			want:    70,
		},
		{
			name:    "both penalties stack",
			posting: model.JobPosting{Location: "Austin"},
			policy:  model.ApplyPolicy{RemoteOnly: true, AllowedLocations: []string{"Seattle"}},
			want:    20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConstraintFit(tt.posting, tt.policy))
		})
	}
}

func TestScore_WeightedCombination(t *testing.T) {
	// Full skill overlap, empty profile, full constraint fit:
	// round(0.5*100 + 0.3*0 + 0.2*100) = 70.
	profile := model.StudentProfile{Skills: []string{"Go"}}
	posting := model.JobPosting{Skills: []string{"Go"}}

	score, sub := Score(profile, posting, model.ApplyPolicy{})
	assert.Equal(t, 70, score)
	assert.Equal(t, 100, sub.SkillOverlap)
	assert.Equal(t, 0, sub.ExperienceFit)
	assert.Equal(t, 100, sub.ConstraintFit)
}

func TestScore_Bounds(t *testing.T) {
	profiles := []model.StudentProfile{
		{},
		{Skills: []string{"Go", "Rust"}, Education: []string{"BS"}, Experience: []string{"intern"}},
	}
	postings := []model.JobPosting{
		{},
		{Skills: []string{"Go", "Kubernetes", "Terraform"}, Location: "Mars"},
	}
	policy := model.ApplyPolicy{RemoteOnly: true, AllowedLocations: []string{"Earth"}}

	for _, profile := range profiles {
		for _, posting := range postings {
			score, _ := Score(profile, posting, policy)
			assert.GreaterOrEqual(t, score, 0)
			assert.LessOrEqual(t, score, 100)
		}
	}
}

func TestScore_Deterministic(t *testing.T) {
	profile := model.StudentProfile{Skills: []string{"Go", "SQL"}, Experience: []string{"intern"}}
	posting := model.JobPosting{Skills: []string{"Go", "SQL", "Docker"}, Location: "Austin"}
	policy := model.ApplyPolicy{AllowedLocations: []string{"Seattle"}}

	first, _ := Score(profile, posting, policy)
	for i := 0; i < 10; i++ {
		again, _ := Score(profile, posting, policy)
		assert.Equal(t, first, again)
	}
}

func TestRank_OrderAndDedup(t *testing.T) {
	now := time.Now()
	profile := model.StudentProfile{Skills: []string{"Go"}}
	postings := []model.JobPosting{
		{ID: "weak", Skills: []string{"Rust"}, CreatedAt: now},
		{ID: "strong-old", Skills: []string{"Go"}, CreatedAt: now.Add(-time.Hour)},
		{ID: "strong-new", Skills: []string{"Go"}, CreatedAt: now},
		{ID: "applied", Skills: []string{"Go"}, CreatedAt: now},
	}

	ranked := Rank("run-1", profile, postings, model.ApplyPolicy{}, map[string]bool{"applied": true})
	require.Len(t, ranked, 3)

	// Equal scores break ties by recency, newest first.
	assert.Equal(t, "strong-new", ranked[0].Posting.ID)
	assert.Equal(t, "strong-old", ranked[1].Posting.ID)
	assert.Equal(t, "weak", ranked[2].Posting.ID)

	for _, r := range ranked {
		assert.Equal(t, "run-1", r.Match.RunID)
		assert.Equal(t, r.Posting.ID, r.Match.JobID)
		assert.NotEmpty(t, r.Match.RankingReason)
	}
}
