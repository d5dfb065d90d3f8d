package model

import (
	"errors"
	"time"
)

// Resume represents a stored resume record for a user. The structured fields
// are produced by an external extraction step and feed the artifact loader.
type Resume struct {
	ID         string          `json:"id"                    db:"id"`
	UserID     string          `json:"user_id"               db:"user_id"`
	Name       string          `json:"name"                  db:"name"`
	FileURL    *string         `json:"file_url,omitempty"    db:"file_url"`
	Position   int             `json:"position"              db:"position"`
	Education  []string        `json:"education"             db:"education"`
	Skills     []string        `json:"skills"                db:"skills"`
	Projects   []string        `json:"projects"              db:"projects"`
	Experience []string        `json:"experience"            db:"experience"`
	Links      []string        `json:"links"                 db:"links"`
	Bullets    []string        `json:"bullets"               db:"bullets"`
	ProofLinks []string        `json:"proof_links"           db:"proof_links"`
	Variants   []ResumeVariant `json:"variants"              db:"variants"`
	CreatedAt  time.Time       `json:"created_at"            db:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"            db:"updated_at"`
}

// ResumeVariant is a named alternative rendering of a resume.
type ResumeVariant struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// StudentProfile is the structured profile section of an artifact pack.
type StudentProfile struct {
	Education  []string `json:"education"`
	Skills     []string `json:"skills"`
	Projects   []string `json:"projects"`
	Experience []string `json:"experience"`
	Links      []string `json:"links"`
}

// Empty returns true if the profile carries no skills, education, or experience.
func (p StudentProfile) Empty() bool {
	return len(p.Skills) == 0 && len(p.Education) == 0 && len(p.Experience) == 0
}

// ArtifactPack is the ground-truth profile built fresh for each run. It is
// owned by the discovery invocation that created it and passed by value into
// each apply invocation, never mutated concurrently.
type ArtifactPack struct {
	UserID         string          `json:"user_id"`
	Profile        StudentProfile  `json:"profile"`
	BulletBank     []string        `json:"bullet_bank"`
	ProofLinks     []string        `json:"proof_links"`
	ResumeVariants []ResumeVariant `json:"resume_variants"`
	BaseResumeURL  string          `json:"base_resume_url"`
}

// Errors surfaced by the artifact loader. Both are configuration errors fatal
// to the run and never retried.
var (
	// ErrProfileIncomplete indicates the user has no resume records, or the
	// combined skills, education, and experience are all empty.
	ErrProfileIncomplete = errors.New("profile incomplete: no usable resume content")
	// ErrNoResumeFile indicates no resume has a retrievable file URL.
	ErrNoResumeFile = errors.New("no resume file available for submission")
)
