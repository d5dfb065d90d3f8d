package model

import "time"

// ApplicationStatus represents the submission state of an application.
type ApplicationStatus string

const (
	// ApplicationStatusQueued indicates the application record exists but no
	// submission attempt has succeeded or exhausted yet.
	ApplicationStatusQueued ApplicationStatus = "queued"
	// ApplicationStatusSubmitted indicates the first attempt succeeded.
	ApplicationStatusSubmitted ApplicationStatus = "submitted"
	// ApplicationStatusRetried indicates submission succeeded after more than one attempt.
	ApplicationStatusRetried ApplicationStatus = "retried"
	// ApplicationStatusFailed indicates all attempts failed.
	ApplicationStatusFailed ApplicationStatus = "failed"
)

// Valid returns true if the ApplicationStatus is valid.
func (s ApplicationStatus) Valid() bool {
	return s == ApplicationStatusQueued || s == ApplicationStatusSubmitted ||
		s == ApplicationStatusRetried || s == ApplicationStatusFailed
}

// AnsweredQuestion is one screening question and its generated answer.
type AnsweredQuestion struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ValidationState captures the grounding verdict attached to an application.
type ValidationState struct {
	ConfidenceScore    int      `json:"confidence_score"`
	IsGrounded         bool     `json:"is_grounded"`
	HallucinationRisks []string `json:"hallucination_risks"`
}

// TimelineEntry is one append-only progress marker on an application.
type TimelineEntry struct {
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Application is the durable record of one apply pipeline execution, keyed by
// (run, job). Updated in place on each attempt; the timeline only appends.
type Application struct {
	ID                string             `json:"id"                  db:"id"`
	RunID             string             `json:"run_id"              db:"run_id"`
	JobID             string             `json:"job_id"              db:"job_id"`
	UserID            string             `json:"user_id"             db:"user_id"`
	ResumeVariantUsed string             `json:"resume_variant_used" db:"resume_variant_used"`
	AnsweredQuestions []AnsweredQuestion `json:"answered_questions"  db:"answered_questions"`
	ValidationState   ValidationState    `json:"validation_state"    db:"validation_state"`
	Status            ApplicationStatus  `json:"status"              db:"status"`
	Attempts          int                `json:"attempts"            db:"attempts"`
	Receipt           *string            `json:"receipt,omitempty"   db:"receipt"`
	Error             *string            `json:"error,omitempty"     db:"error"`
	Timeline          []TimelineEntry    `json:"timeline"            db:"timeline"`
	CreatedAt         time.Time          `json:"created_at"          db:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"          db:"updated_at"`
}

// ApplicationsListOptions represents options for listing applications.
type ApplicationsListOptions struct {
	UserID string
	RunID  string
	Status *ApplicationStatus
	Limit  int
	Offset int
}
