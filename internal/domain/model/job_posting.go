package model

import "time"

// SourceSandbox marks postings that short-circuit submission to a synthetic
// receipt without a real network call. Used for test and demo data.
const SourceSandbox = "sandbox"

// JobPosting represents an ingested job posting. Immutable once created;
// ingestion happens outside this system.
type JobPosting struct {
	ID             string    `json:"id"              db:"id"`
	ExternalID     string    `json:"external_id"     db:"external_id"`
	Source         string    `json:"source"          db:"source"`
	Company        string    `json:"company"         db:"company"`
	Title          string    `json:"title"           db:"title"`
	Location       string    `json:"location"        db:"location"`
	IsRemote       bool      `json:"is_remote"       db:"is_remote"`
	Description    string    `json:"description"     db:"description"`
	Requirements   []string  `json:"requirements"    db:"requirements"`
	Skills         []string  `json:"skills"          db:"skills"`
	EmploymentType string    `json:"employment_type" db:"employment_type"`
	ApplyURL       string    `json:"apply_url"       db:"apply_url"`
	ContentHash    string    `json:"content_hash"    db:"content_hash"`
	CreatedAt      time.Time `json:"created_at"      db:"created_at"`
}

// Sandbox returns true if the posting belongs to the sandbox source class.
func (p *JobPosting) Sandbox() bool {
	return p.Source == SourceSandbox
}
