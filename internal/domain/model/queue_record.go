package model

import "time"

// QueueRecordStatus represents the admission decision state for one (run, job) pair.
type QueueRecordStatus string

const (
	// QueueRecordStatusQueued indicates the job was admitted and awaits processing.
	QueueRecordStatusQueued QueueRecordStatus = "queued"
	// QueueRecordStatusSkipped indicates the job was rejected by the policy gate.
	QueueRecordStatusSkipped QueueRecordStatus = "skipped"
	// QueueRecordStatusSent indicates a worker finished processing the record,
	// whether the application succeeded or failed terminally.
	QueueRecordStatusSent QueueRecordStatus = "sent"
)

// Valid returns true if the QueueRecordStatus is valid.
func (s QueueRecordStatus) Valid() bool {
	return s == QueueRecordStatusQueued || s == QueueRecordStatusSkipped || s == QueueRecordStatusSent
}

// SkipReason categorizes why the policy gate rejected a job.
type SkipReason string

const (
	// SkipReasonPolicyBlock covers blocked companies, blocked roles, and the daily cap.
	SkipReasonPolicyBlock SkipReason = "POLICY_BLOCK"
	// SkipReasonLowMatchScore indicates the match score fell below the policy threshold.
	SkipReasonLowMatchScore SkipReason = "LOW_MATCH_SCORE"
	// SkipReasonMissingEvidence indicates grounding validation rejected the personalized content.
	SkipReasonMissingEvidence SkipReason = "MISSING_EVIDENCE"
	// SkipReasonCompanyCooldown indicates a recent application to the same company.
	SkipReasonCompanyCooldown SkipReason = "COMPANY_COOLDOWN"
	// SkipReasonDuplicate indicates the user already applied to this job.
	SkipReasonDuplicate SkipReason = "DUPLICATE"
	// SkipReasonKillSwitch indicates the run was halted before admission.
	SkipReasonKillSwitch SkipReason = "KILL_SWITCH"
)

// Valid returns true if the SkipReason is valid.
func (r SkipReason) Valid() bool {
	switch r {
	case SkipReasonPolicyBlock, SkipReasonLowMatchScore, SkipReasonMissingEvidence,
		SkipReasonCompanyCooldown, SkipReasonDuplicate, SkipReasonKillSwitch:
		return true
	}
	return false
}

// QueueRecord is the durable admission decision for one (run, job) pair and
// the idempotency boundary for apply work: one record maps to exactly one
// logical unit of work.
type QueueRecord struct {
	ID              string            `json:"id"                         db:"id"`
	RunID           string            `json:"run_id"                     db:"run_id"`
	JobID           string            `json:"job_id"                     db:"job_id"`
	UserID          string            `json:"user_id"                    db:"user_id"`
	Status          QueueRecordStatus `json:"status"                     db:"status"`
	SkipReason      *SkipReason       `json:"skip_reason,omitempty"      db:"skip_reason"`
	SkipDetail      *string           `json:"skip_detail,omitempty"      db:"skip_detail"`
	SkipExplanation *string           `json:"skip_explanation,omitempty" db:"skip_explanation"`
	CooldownUntil   *time.Time        `json:"cooldown_until,omitempty"   db:"cooldown_until"`
	QueuedAt        time.Time         `json:"queued_at"                  db:"queued_at"`
	SentAt          *time.Time        `json:"sent_at,omitempty"          db:"sent_at"`
}

// SkippedListOptions represents options for listing skipped queue records.
type SkippedListOptions struct {
	UserID string
	RunID  string
	Reason *SkipReason
	Limit  int
	Offset int
}
