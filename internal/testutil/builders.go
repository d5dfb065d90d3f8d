package testutil

import (
	"encoding/json"
	"time"

	"github.com/autoapply/autoapply/internal/domain/model"
)

// TaskRequestBuilder provides a fluent interface for building CreateTaskRequest objects for testing.
type TaskRequestBuilder struct {
	req *model.CreateTaskRequest
}

// NewTaskRequest creates a new TaskRequestBuilder with sensible defaults.
func NewTaskRequest() *TaskRequestBuilder {
	return &TaskRequestBuilder{
		req: &model.CreateTaskRequest{
			Type:       model.TaskTypeDiscovery,
			Priority:   50,
			Payload:    json.RawMessage(`{"run_id": "run-1", "user_id": "user-1"}`),
			MaxRetries: 3,
		},
	}
}

// WithType sets the task type.
func (b *TaskRequestBuilder) WithType(taskType model.TaskType) *TaskRequestBuilder {
	b.req.Type = taskType
	return b
}

// WithPriority sets the task priority.
func (b *TaskRequestBuilder) WithPriority(priority int) *TaskRequestBuilder {
	b.req.Priority = priority
	return b
}

// WithPayload sets the task payload.
func (b *TaskRequestBuilder) WithPayload(payload json.RawMessage) *TaskRequestBuilder {
	b.req.Payload = payload
	return b
}

// WithPayloadString sets the task payload from a string.
func (b *TaskRequestBuilder) WithPayloadString(payload string) *TaskRequestBuilder {
	b.req.Payload = json.RawMessage(payload)
	return b
}

// WithMetadata sets the task metadata.
func (b *TaskRequestBuilder) WithMetadata(metadata json.RawMessage) *TaskRequestBuilder {
	b.req.Metadata = metadata
	return b
}

// WithMetadataString sets the task metadata from a string.
func (b *TaskRequestBuilder) WithMetadataString(metadata string) *TaskRequestBuilder {
	b.req.Metadata = json.RawMessage(metadata)
	return b
}

// WithIdempotencyKey sets the idempotency key.
func (b *TaskRequestBuilder) WithIdempotencyKey(key string) *TaskRequestBuilder {
	b.req.IdempotencyKey = &key
	return b
}

// WithRunID sets the owning run ID.
func (b *TaskRequestBuilder) WithRunID(runID string) *TaskRequestBuilder {
	b.req.RunID = &runID
	return b
}

// WithUserID sets the owning user ID.
func (b *TaskRequestBuilder) WithUserID(userID string) *TaskRequestBuilder {
	b.req.UserID = &userID
	return b
}

// WithScheduledAt sets the scheduled time.
func (b *TaskRequestBuilder) WithScheduledAt(scheduledAt time.Time) *TaskRequestBuilder {
	b.req.ScheduledAt = &scheduledAt
	return b
}

// WithMaxRetries sets the maximum number of retries.
func (b *TaskRequestBuilder) WithMaxRetries(maxRetries int) *TaskRequestBuilder {
	b.req.MaxRetries = maxRetries
	return b
}

// Build returns the constructed CreateTaskRequest.
func (b *TaskRequestBuilder) Build() *model.CreateTaskRequest {
	return b.req
}

// Common test task request presets

// DiscoveryTaskRequest creates a discovery task request with default values.
func DiscoveryTaskRequest() *model.CreateTaskRequest {
	return NewTaskRequest().
		WithType(model.TaskTypeDiscovery).
		WithPayloadString(`{"run_id": "run-1", "user_id": "user-1"}`).
		Build()
}

// ApplyTaskRequest creates an apply task request with default values.
func ApplyTaskRequest() *model.CreateTaskRequest {
	return NewTaskRequest().
		WithType(model.TaskTypeApply).
		WithPayloadString(`{"run_id": "run-1", "user_id": "user-1", "job_id": "job-1"}`).
		Build()
}

// HighPriorityTaskRequest creates a high priority task request.
func HighPriorityTaskRequest() *model.CreateTaskRequest {
	return NewTaskRequest().
		WithPriority(100).
		Build()
}

// ScheduledTaskRequest creates a task request scheduled for the future.
func ScheduledTaskRequest(scheduledAt time.Time) *model.CreateTaskRequest {
	return NewTaskRequest().
		WithScheduledAt(scheduledAt).
		Build()
}

// RetryableTaskRequest creates a task request with custom retry settings.
func RetryableTaskRequest(maxRetries int) *model.CreateTaskRequest {
	return NewTaskRequest().
		WithMaxRetries(maxRetries).
		Build()
}

// Pipeline model builders

// ResumeBuilder provides a fluent interface for building Resume records for testing.
type ResumeBuilder struct {
	resume model.Resume
}

// NewResume creates a ResumeBuilder with a usable default profile.
func NewResume(userID string) *ResumeBuilder {
	fileURL := "https://files.example.com/resume.pdf"
	return &ResumeBuilder{
		resume: model.Resume{
			UserID:     userID,
			Name:       "base resume",
			FileURL:    &fileURL,
			Skills:     []string{"Go", "PostgreSQL", "Docker"},
			Education:  []string{"BSc Computer Science"},
			Experience: []string{"Backend intern at Example Corp"},
			Bullets:    []string{"Built a Go service handling 1k rps"},
		},
	}
}

// WithSkills sets the resume skills.
func (b *ResumeBuilder) WithSkills(skills ...string) *ResumeBuilder {
	b.resume.Skills = skills
	return b
}

// WithBullets sets the resume bullet bank entries.
func (b *ResumeBuilder) WithBullets(bullets ...string) *ResumeBuilder {
	b.resume.Bullets = bullets
	return b
}

// WithVariants sets the resume variants.
func (b *ResumeBuilder) WithVariants(variants ...model.ResumeVariant) *ResumeBuilder {
	b.resume.Variants = variants
	return b
}

// WithPosition sets the resume ordering position.
func (b *ResumeBuilder) WithPosition(position int) *ResumeBuilder {
	b.resume.Position = position
	return b
}

// Build returns the constructed Resume.
func (b *ResumeBuilder) Build() *model.Resume {
	r := b.resume
	return &r
}

// JobPostingBuilder provides a fluent interface for building JobPosting records for testing.
type JobPostingBuilder struct {
	posting model.JobPosting
}

// NewJobPosting creates a JobPostingBuilder with sensible defaults. The
// content hash defaults to the external ID so distinct builders stay distinct.
func NewJobPosting(externalID string) *JobPostingBuilder {
	return &JobPostingBuilder{
		posting: model.JobPosting{
			ExternalID:     externalID,
			Source:         "boards",
			Company:        "Example Corp",
			Title:          "Backend Engineer",
			Location:       "Berlin",
			Description:    "Build backend services.",
			Requirements:   []string{"2+ years of backend experience"},
			Skills:         []string{"Go", "PostgreSQL"},
			EmploymentType: "full-time",
			ApplyURL:       "https://jobs.example.com/" + externalID,
			ContentHash:    "hash-" + externalID,
		},
	}
}

// WithCompany sets the posting company.
func (b *JobPostingBuilder) WithCompany(company string) *JobPostingBuilder {
	b.posting.Company = company
	return b
}

// WithTitle sets the posting title.
func (b *JobPostingBuilder) WithTitle(title string) *JobPostingBuilder {
	b.posting.Title = title
	return b
}

// WithSkills sets the posting skills.
func (b *JobPostingBuilder) WithSkills(skills ...string) *JobPostingBuilder {
	b.posting.Skills = skills
	return b
}

// WithLocation sets the posting location and remote flag.
func (b *JobPostingBuilder) WithLocation(location string, remote bool) *JobPostingBuilder {
	b.posting.Location = location
	b.posting.IsRemote = remote
	return b
}

// WithSource sets the posting source.
func (b *JobPostingBuilder) WithSource(source string) *JobPostingBuilder {
	b.posting.Source = source
	return b
}

// Build returns the constructed JobPosting.
func (b *JobPostingBuilder) Build() *model.JobPosting {
	p := b.posting
	return &p
}
