package model

import "time"

// JobMatch records how a posting scored against a profile for one run.
// Write-once per run per job.
type JobMatch struct {
	ID                 string    `json:"id"                   db:"id"`
	RunID              string    `json:"run_id"               db:"run_id"`
	JobID              string    `json:"job_id"               db:"job_id"`
	MatchScore         int       `json:"match_score"          db:"match_score"`
	SkillOverlapScore  int       `json:"skill_overlap_score"  db:"skill_overlap_score"`
	ExperienceFitScore int       `json:"experience_fit_score" db:"experience_fit_score"`
	ConstraintFitScore int       `json:"constraint_fit_score" db:"constraint_fit_score"`
	RankingReason      string    `json:"ranking_reason"       db:"ranking_reason"`
	CreatedAt          time.Time `json:"created_at"           db:"created_at"`
}

// RankedJob pairs a posting with its match for ordered processing.
type RankedJob struct {
	Posting JobPosting `json:"posting"`
	Match   JobMatch   `json:"match"`
}
