// Package devseed populates a development database with sample resumes,
// sandbox job postings, and apply policies.
package devseed

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/autoapply/autoapply/internal/data"
	"github.com/autoapply/autoapply/internal/domain/model"
)

// SeedUserID is the user all seeded records belong to.
const SeedUserID = "dev-user"

// Services bundles the dependencies needed for development seeding.
type Services struct {
	DB       *sql.DB
	resumes  *data.ResumeRepo
	postings *data.JobPostingRepo
	policies *data.PolicyRepo
}

// NewServices constructs all required repositories for seeding using the provided DB.
func NewServices(db *sql.DB) Services {
	return Services{
		DB:       db,
		resumes:  data.NewResumeRepo(db),
		postings: data.NewJobPostingRepo(db),
		policies: data.NewPolicyRepo(db),
	}
}

// Run executes the full development seeding workflow against the provided DB.
func Run(ctx context.Context, svcs Services, logger *slog.Logger) error {
	failures := 0
	failures += seedResumes(ctx, svcs.resumes, logger)
	failures += seedPostings(ctx, svcs.postings, logger)
	failures += seedPolicies(ctx, svcs.policies, logger)
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

func seedResumes(ctx context.Context, repo *data.ResumeRepo, logger *slog.Logger) int {
	existing, err := repo.ListByUser(ctx, SeedUserID)
	if err != nil {
		if logger != nil {
			logger.ErrorContext(ctx, "failed to list resumes", "user_id", SeedUserID, "error", err)
		}
		return 1
	}
	have := make(map[string]bool, len(existing))
	for _, r := range existing {
		have[r.Name] = true
	}

	failures := 0
	for _, resume := range defaultResumes() {
		if have[resume.Name] {
			if logger != nil {
				logger.InfoContext(ctx, "resume already exists", "name", resume.Name)
			}
			continue
		}
		if _, createErr := repo.Create(ctx, resume); createErr != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to create resume", "name", resume.Name, "error", createErr)
			}
			failures++
			continue
		}
		if logger != nil {
			logger.InfoContext(ctx, "created resume", "name", resume.Name)
		}
	}
	return failures
}

func defaultResumes() []*model.Resume {
	fileURL := "https://cdn.example.com/resumes/dev-user-base.pdf"
	return []*model.Resume{
		{
			UserID:   SeedUserID,
			Name:     "base",
			FileURL:  &fileURL,
			Position: 0,
			Education: []string{
				"BSc Computer Science, Example University (2024)",
			},
			Skills:     []string{"Go", "PostgreSQL", "Redis", "Docker", "Kubernetes"},
			Projects:   []string{"Built a distributed task queue on Postgres"},
			Experience: []string{"Backend intern at Example Corp (2023)"},
			Links:      []string{"https://github.com/dev-user"},
			Bullets: []string{
				"Reduced p99 task latency by 40% by batching queue notifications",
				"Shipped a Redis-backed policy cache serving 5k req/s",
				"Led migration of legacy cron jobs onto a durable work queue",
			},
			ProofLinks: []string{"https://github.com/dev-user/task-queue"},
			Variants: []model.ResumeVariant{
				{Name: "backend", URL: "https://cdn.example.com/resumes/dev-user-backend.pdf"},
				{Name: "infra", URL: "https://cdn.example.com/resumes/dev-user-infra.pdf"},
			},
		},
	}
}

func seedPostings(ctx context.Context, repo *data.JobPostingRepo, logger *slog.Logger) int {
	failures := 0
	for _, posting := range defaultPostings() {
		if _, err := repo.Create(ctx, posting); err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to create job posting", "title", posting.Title, "error", err)
			}
			failures++
			continue
		}
		if logger != nil {
			logger.InfoContext(ctx, "seeded job posting", "company", posting.Company, "title", posting.Title)
		}
	}
	return failures
}

// defaultPostings returns sandbox postings; the submitter short-circuits
// to a synthetic receipt for these so seeded runs never hit a real board.
func defaultPostings() []*model.JobPosting {
	postings := []*model.JobPosting{
		{
			ExternalID:     "sandbox-001",
			Source:         model.SourceSandbox,
			Company:        "Acme Analytics",
			Title:          "Junior Backend Engineer",
			Location:       "Berlin",
			IsRemote:       false,
			Description:    "Build and operate Go services backing our ingestion pipeline.",
			Requirements:   []string{"Some backend experience", "Working knowledge of SQL"},
			Skills:         []string{"Go", "PostgreSQL"},
			EmploymentType: "full-time",
			ApplyURL:       "https://sandbox.example.com/jobs/sandbox-001/apply",
		},
		{
			ExternalID:     "sandbox-002",
			Source:         model.SourceSandbox,
			Company:        "Northwind Cloud",
			Title:          "Platform Engineer (Remote)",
			Location:       "Remote",
			IsRemote:       true,
			Description:    "Own the internal deployment platform and its Redis-backed caches.",
			Requirements:   []string{"Container orchestration experience"},
			Skills:         []string{"Go", "Kubernetes", "Redis"},
			EmploymentType: "full-time",
			ApplyURL:       "https://sandbox.example.com/jobs/sandbox-002/apply",
		},
		{
			ExternalID:     "sandbox-003",
			Source:         model.SourceSandbox,
			Company:        "Initech Data",
			Title:          "Software Engineering Intern",
			Location:       "Munich",
			IsRemote:       false,
			Description:    "Support the data team with internal tooling and batch jobs.",
			Requirements:   []string{"Enrolled in a CS program"},
			Skills:         []string{"Go", "Python"},
			EmploymentType: "internship",
			ApplyURL:       "https://sandbox.example.com/jobs/sandbox-003/apply",
		},
	}
	for _, p := range postings {
		p.ContentHash = contentHash(p)
	}
	return postings
}

func contentHash(p *model.JobPosting) string {
	sum := sha256.Sum256([]byte(p.Source + "|" + p.ExternalID + "|" + p.Company + "|" + p.Title + "|" + p.Description))
	return hex.EncodeToString(sum[:])
}

func seedPolicies(ctx context.Context, repo *data.PolicyRepo, logger *slog.Logger) int {
	policy := model.DefaultApplyPolicy(SeedUserID)
	policy.MinMatchScore = 30
	policy.MaxApplicationsPerDay = 25

	if _, err := repo.Upsert(ctx, &policy); err != nil {
		if logger != nil {
			logger.ErrorContext(ctx, "failed to upsert apply policy", "user_id", SeedUserID, "error", err)
		}
		return 1
	}
	if logger != nil {
		logger.InfoContext(ctx, "seeded apply policy", "user_id", SeedUserID)
	}
	return 0
}
